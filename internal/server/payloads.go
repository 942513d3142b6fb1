package server

import (
	"github.com/MarkoPoloResearchLab/thanglish/pkg/account"
)

// userPayload mirrors the account record for the UI.
type userPayload struct {
	AccountID          string           `json:"account_id"`
	DisplayName        string           `json:"display_name"`
	Email              string           `json:"email"`
	AvatarURL          string           `json:"avatar_url"`
	WalletBalanceCents int64            `json:"wallet_balance_cents"`
	Trial              *trialPayload    `json:"trial,omitempty"`
	Plan               *planPayload     `json:"plan,omitempty"`
	Payments           []paymentPayload `json:"payments"`
	CreatedUnixUTC     int64            `json:"created_unix_utc"`
	UpdatedUnixUTC     int64            `json:"updated_unix_utc"`
}

type trialPayload struct {
	StartedUnixUTC  int64 `json:"started_unix_utc"`
	ExpiresUnixUTC  int64 `json:"expires_unix_utc"`
	ConsumedMinutes int64 `json:"consumed_minutes"`
	MaxMinutes      int64 `json:"max_minutes"`
	Active          bool  `json:"active"`
}

type planPayload struct {
	PlanID           string `json:"plan_id"`
	ActivatedUnixUTC int64  `json:"activated_unix_utc"`
	ExpiresUnixUTC   int64  `json:"expires_unix_utc"`
	RemainingMinutes int64  `json:"remaining_minutes"`
}

type paymentPayload struct {
	PaymentID        string `json:"payment_id"`
	Kind             string `json:"kind"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	AmountCents      int64  `json:"amount_cents"`
	PlanID           string `json:"plan_id,omitempty"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
}

type orderPayload struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func mapUserPayload(record account.Account) userPayload {
	payload := userPayload{
		AccountID:          record.AccountID,
		DisplayName:        record.DisplayName,
		Email:              record.Email,
		AvatarURL:          record.AvatarURL,
		WalletBalanceCents: record.WalletBalanceCents,
		Payments:           make([]paymentPayload, 0, len(record.Payments)),
		CreatedUnixUTC:     record.CreatedUnixUTC,
		UpdatedUnixUTC:     record.UpdatedUnixUTC,
	}
	if record.Trial != nil {
		payload.Trial = &trialPayload{
			StartedUnixUTC:  record.Trial.StartedUnixUTC,
			ExpiresUnixUTC:  record.Trial.ExpiresUnixUTC,
			ConsumedMinutes: record.Trial.ConsumedMinutes,
			MaxMinutes:      record.Trial.MaxMinutes,
			Active:          record.Trial.Active,
		}
	}
	if record.Plan != nil {
		payload.Plan = &planPayload{
			PlanID:           record.Plan.PlanID,
			ActivatedUnixUTC: record.Plan.ActivatedUnixUTC,
			ExpiresUnixUTC:   record.Plan.ExpiresUnixUTC,
			RemainingMinutes: record.Plan.RemainingMinutes,
		}
	}
	for _, payment := range record.Payments {
		payload.Payments = append(payload.Payments, paymentPayload{
			PaymentID:        payment.PaymentID,
			Kind:             string(payment.Kind),
			GatewayOrderID:   payment.GatewayOrderID,
			GatewayPaymentID: payment.GatewayPaymentID,
			AmountCents:      payment.AmountCents,
			PlanID:           payment.PlanID,
			CreatedUnixUTC:   payment.CreatedUnixUTC,
		})
	}
	return payload
}
