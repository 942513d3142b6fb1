package account

import "fmt"

// RecordPayment appends a payment at the head of the history and drops the
// oldest records beyond PaymentHistoryCap.
func RecordPayment(payment Payment, nowUnixUTC int64) Mutator {
	return func(account *Account) error {
		if payment.AmountCents <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
		}
		if payment.Kind != PaymentKindPlan && payment.Kind != PaymentKindWallet {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayment, payment.Kind)
		}
		history := make([]Payment, 0, len(account.Payments)+1)
		history = append(history, payment)
		history = append(history, account.Payments...)
		if len(history) > PaymentHistoryCap {
			history = history[:PaymentHistoryCap]
		}
		account.Payments = history
		account.UpdatedUnixUTC = nowUnixUTC
		return nil
	}
}

// ActivatePlan replaces the active plan wholesale. Remaining minutes from a
// prior plan are discarded.
func ActivatePlan(plan Plan, activatedUnixUTC int64, expiresUnixUTC int64) Mutator {
	return func(account *Account) error {
		if plan.PlanID == "" {
			return ErrUnknownPlan
		}
		account.Plan = &ActivePlan{
			PlanID:           plan.PlanID,
			ActivatedUnixUTC: activatedUnixUTC,
			ExpiresUnixUTC:   expiresUnixUTC,
			RemainingMinutes: plan.MinutesIncluded,
		}
		account.UpdatedUnixUTC = activatedUnixUTC
		return nil
	}
}

// AdjustWallet applies an atomic delta. A delta that would drive the balance
// negative fails with ErrInsufficientFunds and leaves the record untouched.
func AdjustWallet(deltaCents int64, nowUnixUTC int64) Mutator {
	return func(account *Account) error {
		if deltaCents == 0 {
			return fmt.Errorf("%w: zero delta", ErrInvalidAmountCents)
		}
		next := account.WalletBalanceCents + deltaCents
		if next < 0 {
			return ErrInsufficientFunds
		}
		account.WalletBalanceCents = next
		account.UpdatedUnixUTC = nowUnixUTC
		return nil
	}
}

// GrantTrial creates the one-time trial record. Any prior record, even an
// expired or exhausted one, makes the grant fail.
func GrantTrial(startedUnixUTC int64, expiresUnixUTC int64, maxMinutes int64) Mutator {
	return func(account *Account) error {
		if account.Trial != nil {
			return ErrTrialAlreadyGranted
		}
		if maxMinutes <= 0 || expiresUnixUTC <= startedUnixUTC {
			return fmt.Errorf("%w: bad trial window", ErrInvalidMinutes)
		}
		account.Trial = &Trial{
			StartedUnixUTC: startedUnixUTC,
			ExpiresUnixUTC: expiresUnixUTC,
			MaxMinutes:     maxMinutes,
			Active:         true,
		}
		account.UpdatedUnixUTC = startedUnixUTC
		return nil
	}
}

// ConsumeTrialMinutes credits consumed minutes against the trial cap.
func ConsumeTrialMinutes(minutes int64, nowUnixUTC int64) Mutator {
	return func(account *Account) error {
		if minutes <= 0 {
			return ErrInvalidMinutes
		}
		switch account.Trial.StateAt(nowUnixUTC) {
		case TrialStateActive:
		default:
			return ErrTrialUnavailable
		}
		if account.Trial.ConsumedMinutes+minutes > account.Trial.MaxMinutes {
			return ErrTrialUnavailable
		}
		account.Trial.ConsumedMinutes += minutes
		if account.Trial.ConsumedMinutes >= account.Trial.MaxMinutes {
			account.Trial.Active = false
		}
		account.UpdatedUnixUTC = nowUnixUTC
		return nil
	}
}

// ConsumePlanMinutes debits minutes from the active plan.
func ConsumePlanMinutes(minutes int64, nowUnixUTC int64) Mutator {
	return func(account *Account) error {
		if minutes <= 0 {
			return ErrInvalidMinutes
		}
		if !account.Plan.ActiveAt(nowUnixUTC) {
			return ErrNoActivePlan
		}
		if account.Plan.RemainingMinutes < minutes {
			return ErrNoActivePlan
		}
		account.Plan.RemainingMinutes -= minutes
		account.UpdatedUnixUTC = nowUnixUTC
		return nil
	}
}

// ExpireTrialIfDue lazily flips an expired trial inactive. It never fails;
// accounts without a due trial pass through unchanged.
func ExpireTrialIfDue(nowUnixUTC int64) Mutator {
	return func(account *Account) error {
		if account.Trial == nil || !account.Trial.Active {
			return nil
		}
		if account.Trial.ExpiresUnixUTC <= nowUnixUTC {
			account.Trial.Active = false
			account.UpdatedUnixUTC = nowUnixUTC
		}
		return nil
	}
}
