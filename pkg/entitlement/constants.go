package entitlement

const (
	operationConsume     = "consume"
	operationStartTrial  = "start_trial"
	operationConfirmPlan = "confirm_plan"
	operationTopUpWallet = "top_up_wallet"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// Defaults for the one-time trial grant.
	trialWindowSeconds = 7 * 24 * 60 * 60
	trialMaxMinutes    = 60

	// Purchased plans stay active for thirty days.
	planValiditySeconds = 30 * 24 * 60 * 60

	defaultPerMinuteRateCents = 100

	// MinimumTopUpCents is the smallest wallet top-up the gateway accepts.
	MinimumTopUpCents int64 = 5000
)
