package account

import (
	"context"
	"strings"
)

// PaymentHistoryCap bounds how many payment records an account retains.
// The oldest records are dropped silently once the cap is exceeded.
const PaymentHistoryCap = 50

// PaymentKind distinguishes what a gateway payment purchased.
type PaymentKind string

const (
	PaymentKindPlan   PaymentKind = "plan"
	PaymentKindWallet PaymentKind = "wallet"
)

// Trial is the one-time, time- and minute-capped free usage grant. Once
// present it is never removed, only deactivated.
type Trial struct {
	StartedUnixUTC  int64
	ExpiresUnixUTC  int64
	ConsumedMinutes int64
	MaxMinutes      int64
	Active          bool
}

// TrialState enumerates the trial lifecycle. Exhausted and expired are both
// terminal; the stored Active flag is only accurate after a lazy check.
type TrialState string

const (
	TrialStateNone      TrialState = "none"
	TrialStateActive    TrialState = "active"
	TrialStateExhausted TrialState = "exhausted"
	TrialStateExpired   TrialState = "expired"
)

// StateAt evaluates the trial lifecycle at the given instant without
// mutating the record.
func (trial *Trial) StateAt(nowUnixUTC int64) TrialState {
	if trial == nil {
		return TrialStateNone
	}
	if trial.ConsumedMinutes >= trial.MaxMinutes {
		return TrialStateExhausted
	}
	if !trial.Active || trial.ExpiresUnixUTC <= nowUnixUTC {
		return TrialStateExpired
	}
	return TrialStateActive
}

// ActivePlan is the current paid allotment. It is replaced wholesale on each
// purchase; unused minutes from a prior plan do not roll over.
type ActivePlan struct {
	PlanID           string
	ActivatedUnixUTC int64
	ExpiresUnixUTC   int64
	RemainingMinutes int64
}

// ActiveAt reports whether the plan window covers the given instant.
func (plan *ActivePlan) ActiveAt(nowUnixUTC int64) bool {
	return plan != nil && plan.ExpiresUnixUTC > nowUnixUTC
}

// Payment is immutable once appended to the history.
type Payment struct {
	PaymentID        string
	Kind             PaymentKind
	GatewayOrderID   string
	GatewayPaymentID string
	AmountCents      int64
	PlanID           string
	MetadataJSON     string
	CreatedUnixUTC   int64
}

// Account is one user's persistent entitlement and profile record.
type Account struct {
	AccountID          string
	DisplayName        string
	Email              string
	AvatarURL          string
	WalletBalanceCents int64
	Trial              *Trial
	Plan               *ActivePlan
	// Payments is ordered newest first and capped at PaymentHistoryCap.
	Payments       []Payment
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Clone returns a deep copy so callers can never mutate stored state.
func (account Account) Clone() Account {
	cloned := account
	if account.Trial != nil {
		trial := *account.Trial
		cloned.Trial = &trial
	}
	if account.Plan != nil {
		plan := *account.Plan
		cloned.Plan = &plan
	}
	if account.Payments != nil {
		cloned.Payments = make([]Payment, len(account.Payments))
		copy(cloned.Payments, account.Payments)
	}
	return cloned
}

// ProfileHints carries optional identity-provider profile fields. Empty
// fields never overwrite stored values.
type ProfileHints struct {
	DisplayName string
	Email       string
	AvatarURL   string
}

// MergeProfile applies newly supplied hints last-write-wins per field and
// reports whether anything changed. Fields are never cleared.
func (account *Account) MergeProfile(hints ProfileHints) bool {
	changed := false
	if hints.DisplayName != "" && hints.DisplayName != account.DisplayName {
		account.DisplayName = hints.DisplayName
		changed = true
	}
	if hints.Email != "" && hints.Email != account.Email {
		account.Email = hints.Email
		changed = true
	}
	if hints.AvatarURL != "" && hints.AvatarURL != account.AvatarURL {
		account.AvatarURL = hints.AvatarURL
		changed = true
	}
	return changed
}

// Mutator transforms an account inside a store update. A non-nil error
// aborts the update and leaves the stored record untouched.
type Mutator func(account *Account) error

// Store is the persistence contract for account records.
type Store interface {
	// GetOrCreate returns the existing record (merging profile hints) or
	// creates a fresh one with zero balance, no trial, no plan.
	GetOrCreate(ctx context.Context, accountID string, hints ProfileHints) (Account, error)
	// Load fetches a record. Absence is reported via the boolean, not an error.
	Load(ctx context.Context, accountID string) (Account, bool, error)
	// Update is the only write path: load, apply the mutator, persist.
	// Returns ErrAccountNotFound for unknown accounts.
	Update(ctx context.Context, accountID string, mutate Mutator) (Account, error)
}

// NewAccountID validates and normalizes an identity-provider subject id.
func NewAccountID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidAccountID
	}
	return trimmed, nil
}
