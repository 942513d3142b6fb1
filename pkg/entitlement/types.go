package entitlement

import "github.com/MarkoPoloResearchLab/thanglish/pkg/account"

// FundingSource identifies which balance paid for a usage request.
type FundingSource string

const (
	SourcePlan   FundingSource = "plan"
	SourceTrial  FundingSource = "trial"
	SourceWallet FundingSource = "wallet"
)

// Outcome reports a settled usage request.
type Outcome struct {
	Source       FundingSource
	DebitedCents int64
	Account      account.Account
}
