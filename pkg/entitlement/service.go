package entitlement

import (
	"context"
	"fmt"
	"math"

	"github.com/MarkoPoloResearchLab/thanglish/pkg/account"
	"github.com/google/uuid"
)

// Service decides which funding source pays for a usage request and applies
// the matching ledger mutation. Each operation funnels through the store's
// single Update path, so read-modify-write safety comes from the store.
type Service struct {
	store              account.Store
	nowFn              func() int64
	perMinuteRateCents int64
	logger             OperationLogger
}

// NewService wires a Service.
func NewService(store account.Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:              store,
		nowFn:              now,
		perMinuteRateCents: defaultPerMinuteRateCents,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PerMinuteRateCents returns the wallet rate charged per audio minute.
func (service *Service) PerMinuteRateCents() int64 {
	return service.perMinuteRateCents
}

// NormalizeMinutes rounds a requested duration up to the next whole minute
// with a minimum of one.
func NormalizeMinutes(rawMinutes float64) (int64, error) {
	if math.IsNaN(rawMinutes) || math.IsInf(rawMinutes, 0) || rawMinutes <= 0 {
		return 0, account.ErrInvalidMinutes
	}
	minutes := int64(math.Ceil(rawMinutes))
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}

// Consume settles a usage request in fixed policy order: plan minutes, then
// trial minutes, then wallet currency. The first source that can fully cover
// the request pays; there are no partial debits. When every source fails the
// call returns an InsufficientBalanceError carrying the wallet cost and the
// stored record stays unchanged.
func (service *Service) Consume(ctx context.Context, accountID string, minutes int64) (Outcome, error) {
	outcome := Outcome{}
	updated, operationError := service.store.Update(ctx, accountID, service.consumeMutator(minutes, &outcome))
	if operationError == nil {
		outcome.Account = updated
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationConsume,
		AccountID:   accountID,
		Minutes:     minutes,
		Source:      outcome.Source,
		AmountCents: outcome.DebitedCents,
		Error:       operationError,
	})
	if operationError != nil {
		return Outcome{}, operationError
	}
	return outcome, nil
}

func (service *Service) consumeMutator(minutes int64, outcome *Outcome) account.Mutator {
	return func(record *account.Account) error {
		if minutes <= 0 {
			return account.ErrInvalidMinutes
		}
		nowUnixUTC := service.nowFn()

		if record.Plan.ActiveAt(nowUnixUTC) && record.Plan.RemainingMinutes >= minutes {
			if err := account.ConsumePlanMinutes(minutes, nowUnixUTC)(record); err != nil {
				return err
			}
			outcome.Source = SourcePlan
			return nil
		}

		// Lazy trial expiry: the flip persists whenever a later branch
		// settles the request.
		if record.Trial != nil && record.Trial.Active && record.Trial.ExpiresUnixUTC <= nowUnixUTC {
			record.Trial.Active = false
			record.UpdatedUnixUTC = nowUnixUTC
		}

		if record.Trial.StateAt(nowUnixUTC) == account.TrialStateActive &&
			record.Trial.ConsumedMinutes+minutes <= record.Trial.MaxMinutes {
			if err := account.ConsumeTrialMinutes(minutes, nowUnixUTC)(record); err != nil {
				return err
			}
			outcome.Source = SourceTrial
			return nil
		}

		costCents := minutes * service.perMinuteRateCents
		if record.WalletBalanceCents < costCents {
			return &InsufficientBalanceError{RequiredCents: costCents}
		}
		if err := account.AdjustWallet(-costCents, nowUnixUTC)(record); err != nil {
			return err
		}
		outcome.Source = SourceWallet
		outcome.DebitedCents = costCents
		return nil
	}
}

// StartTrial grants the one-time trial. A second grant fails with
// account.ErrTrialAlreadyGranted even after the first trial expired.
func (service *Service) StartTrial(ctx context.Context, accountID string) (account.Account, error) {
	nowUnixUTC := service.nowFn()
	updated, operationError := service.store.Update(ctx, accountID,
		account.GrantTrial(nowUnixUTC, nowUnixUTC+trialWindowSeconds, trialMaxMinutes))
	service.logOperation(ctx, OperationLog{
		Operation: operationStartTrial,
		AccountID: accountID,
		Minutes:   trialMaxMinutes,
		Error:     operationError,
	})
	return updated, operationError
}

// Status returns the current record, lazily deactivating an expired trial.
func (service *Service) Status(ctx context.Context, accountID string) (account.Account, error) {
	return service.store.Update(ctx, accountID, account.ExpireTrialIfDue(service.nowFn()))
}

// ConfirmPlanPurchase applies a verified plan payment: the active plan is
// replaced wholesale and a payment record is appended.
func (service *Service) ConfirmPlanPurchase(ctx context.Context, accountID string, planID string, gatewayOrderID string, gatewayPaymentID string) (account.Account, error) {
	plan, ok := account.PlanByID(planID)
	if !ok {
		return account.Account{}, account.ErrUnknownPlan
	}
	nowUnixUTC := service.nowFn()
	payment := account.Payment{
		PaymentID:        uuid.NewString(),
		Kind:             account.PaymentKindPlan,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		AmountCents:      plan.PriceCents,
		PlanID:           plan.PlanID,
		CreatedUnixUTC:   nowUnixUTC,
	}
	updated, operationError := service.store.Update(ctx, accountID, func(record *account.Account) error {
		if err := account.ActivatePlan(plan, nowUnixUTC, nowUnixUTC+planValiditySeconds)(record); err != nil {
			return err
		}
		return account.RecordPayment(payment, nowUnixUTC)(record)
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationConfirmPlan,
		AccountID:   accountID,
		AmountCents: plan.PriceCents,
		Error:       operationError,
	})
	return updated, operationError
}

// ConfirmWalletTopUp applies a verified wallet payment: the balance is
// credited and a payment record is appended.
func (service *Service) ConfirmWalletTopUp(ctx context.Context, accountID string, amountCents int64, gatewayOrderID string, gatewayPaymentID string) (account.Account, error) {
	if amountCents <= 0 {
		return account.Account{}, account.ErrInvalidAmountCents
	}
	nowUnixUTC := service.nowFn()
	payment := account.Payment{
		PaymentID:        uuid.NewString(),
		Kind:             account.PaymentKindWallet,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		AmountCents:      amountCents,
		CreatedUnixUTC:   nowUnixUTC,
	}
	updated, operationError := service.store.Update(ctx, accountID, func(record *account.Account) error {
		if err := account.AdjustWallet(amountCents, nowUnixUTC)(record); err != nil {
			return err
		}
		return account.RecordPayment(payment, nowUnixUTC)(record)
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationTopUpWallet,
		AccountID:   accountID,
		AmountCents: amountCents,
		Error:       operationError,
	})
	return updated, operationError
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
