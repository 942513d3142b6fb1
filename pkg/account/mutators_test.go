package account

import (
	"errors"
	"fmt"
	"testing"
)

const testNow int64 = 1_700_000_000

func applyMutator(t *testing.T, record *Account, mutate Mutator) {
	t.Helper()
	if err := mutate(record); err != nil {
		t.Fatalf("mutator: %v", err)
	}
}

func TestGrantTrialIsOneTime(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-1"}
	applyMutator(t, &record, GrantTrial(testNow, testNow+3600, 60))

	if record.Trial == nil || !record.Trial.Active {
		t.Fatalf("expected active trial, got %+v", record.Trial)
	}
	err := GrantTrial(testNow+10, testNow+7200, 60)(&record)
	if !errors.Is(err, ErrTrialAlreadyGranted) {
		t.Fatalf("expected ErrTrialAlreadyGranted, got %v", err)
	}
}

func TestGrantTrialRejectedEvenAfterExpiry(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-2"}
	applyMutator(t, &record, GrantTrial(testNow, testNow+3600, 60))

	later := testNow + 7200
	applyMutator(t, &record, ExpireTrialIfDue(later))
	if record.Trial.Active {
		t.Fatalf("expected trial deactivated after expiry")
	}
	err := GrantTrial(later, later+3600, 60)(&record)
	if !errors.Is(err, ErrTrialAlreadyGranted) {
		t.Fatalf("expected ErrTrialAlreadyGranted after expiry, got %v", err)
	}
}

func TestConsumeTrialMinutesEnforcesCap(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-3"}
	applyMutator(t, &record, GrantTrial(testNow, testNow+3600, 60))
	applyMutator(t, &record, ConsumeTrialMinutes(59, testNow+1))

	err := ConsumeTrialMinutes(2, testNow+2)(&record)
	if !errors.Is(err, ErrTrialUnavailable) {
		t.Fatalf("expected ErrTrialUnavailable beyond cap, got %v", err)
	}
	if record.Trial.ConsumedMinutes != 59 {
		t.Fatalf("failed consume must not change counters, got %d", record.Trial.ConsumedMinutes)
	}

	applyMutator(t, &record, ConsumeTrialMinutes(1, testNow+3))
	if record.Trial.ConsumedMinutes != 60 {
		t.Fatalf("expected 60 consumed, got %d", record.Trial.ConsumedMinutes)
	}
	if record.Trial.Active {
		t.Fatalf("trial must deactivate once fully consumed")
	}
	if state := record.Trial.StateAt(testNow + 4); state != TrialStateExhausted {
		t.Fatalf("expected exhausted state, got %s", state)
	}
}

func TestAdjustWalletNeverGoesNegative(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-4", WalletBalanceCents: 100}

	err := AdjustWallet(-150, testNow)(&record)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if record.WalletBalanceCents != 100 {
		t.Fatalf("failed debit must not change balance, got %d", record.WalletBalanceCents)
	}

	applyMutator(t, &record, AdjustWallet(-100, testNow))
	if record.WalletBalanceCents != 0 {
		t.Fatalf("expected zero balance, got %d", record.WalletBalanceCents)
	}
	if err := AdjustWallet(0, testNow)(&record); !errors.Is(err, ErrInvalidAmountCents) {
		t.Fatalf("expected ErrInvalidAmountCents for zero delta, got %v", err)
	}
}

func TestRecordPaymentCapsHistoryNewestFirst(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-5"}
	for index := 0; index < PaymentHistoryCap+3; index++ {
		payment := Payment{
			PaymentID:      fmt.Sprintf("pay-%03d", index),
			Kind:           PaymentKindWallet,
			AmountCents:    1000,
			CreatedUnixUTC: testNow + int64(index),
		}
		applyMutator(t, &record, RecordPayment(payment, testNow+int64(index)))
	}

	if len(record.Payments) != PaymentHistoryCap {
		t.Fatalf("expected %d payments, got %d", PaymentHistoryCap, len(record.Payments))
	}
	if record.Payments[0].PaymentID != fmt.Sprintf("pay-%03d", PaymentHistoryCap+2) {
		t.Fatalf("expected newest payment first, got %s", record.Payments[0].PaymentID)
	}
	oldestKept := record.Payments[len(record.Payments)-1]
	if oldestKept.PaymentID != "pay-003" {
		t.Fatalf("expected oldest records dropped, tail is %s", oldestKept.PaymentID)
	}
}

func TestRecordPaymentRejectsInvalidRecords(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-6"}
	if err := RecordPayment(Payment{PaymentID: "p", Kind: PaymentKindPlan, AmountCents: 0}, testNow)(&record); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for zero amount, got %v", err)
	}
	if err := RecordPayment(Payment{PaymentID: "p", Kind: "gift", AmountCents: 10}, testNow)(&record); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for unknown kind, got %v", err)
	}
	if len(record.Payments) != 0 {
		t.Fatalf("rejected payments must not be recorded")
	}
}

func TestActivatePlanReplacesWholesale(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-7"}
	starter, ok := PlanByID("starter")
	if !ok {
		t.Fatalf("starter plan missing from catalog")
	}
	applyMutator(t, &record, ActivatePlan(starter, testNow, testNow+1000))
	applyMutator(t, &record, ConsumePlanMinutes(5, testNow+1))
	if record.Plan.RemainingMinutes != starter.MinutesIncluded-5 {
		t.Fatalf("unexpected remaining minutes %d", record.Plan.RemainingMinutes)
	}

	pro, ok := PlanByID("pro")
	if !ok {
		t.Fatalf("pro plan missing from catalog")
	}
	applyMutator(t, &record, ActivatePlan(pro, testNow+2, testNow+2000))
	if record.Plan.PlanID != "pro" || record.Plan.RemainingMinutes != pro.MinutesIncluded {
		t.Fatalf("plan replacement must discard prior minutes, got %+v", record.Plan)
	}
}

func TestConsumePlanMinutesRequiresCoverage(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-8"}
	if err := ConsumePlanMinutes(1, testNow)(&record); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected ErrNoActivePlan without a plan, got %v", err)
	}
	record.Plan = &ActivePlan{PlanID: "starter", ExpiresUnixUTC: testNow + 100, RemainingMinutes: 3}
	if err := ConsumePlanMinutes(4, testNow)(&record); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected ErrNoActivePlan when remaining is short, got %v", err)
	}
	if record.Plan.RemainingMinutes != 3 {
		t.Fatalf("failed debit must not change remaining minutes")
	}
	record.Plan.ExpiresUnixUTC = testNow - 1
	if err := ConsumePlanMinutes(1, testNow)(&record); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected ErrNoActivePlan for lapsed plan, got %v", err)
	}
}

func TestTrialStateAt(t *testing.T) {
	t.Parallel()
	var missing *Trial
	if state := missing.StateAt(testNow); state != TrialStateNone {
		t.Fatalf("nil trial should be none, got %s", state)
	}
	trial := &Trial{StartedUnixUTC: testNow, ExpiresUnixUTC: testNow + 100, MaxMinutes: 60, Active: true}
	if state := trial.StateAt(testNow + 1); state != TrialStateActive {
		t.Fatalf("expected active, got %s", state)
	}
	if state := trial.StateAt(testNow + 100); state != TrialStateExpired {
		t.Fatalf("expected expired at boundary, got %s", state)
	}
	trial.ConsumedMinutes = 60
	if state := trial.StateAt(testNow + 200); state != TrialStateExhausted {
		t.Fatalf("exhausted must win over expired, got %s", state)
	}
}

func TestMergeProfileNeverClearsFields(t *testing.T) {
	t.Parallel()
	record := Account{AccountID: "user-9", DisplayName: "Existing", Email: "old@example.com"}
	changed := record.MergeProfile(ProfileHints{Email: "new@example.com", AvatarURL: "https://a/b.png"})
	if !changed {
		t.Fatalf("expected change to be reported")
	}
	if record.DisplayName != "Existing" {
		t.Fatalf("empty hint must not clear display name")
	}
	if record.Email != "new@example.com" || record.AvatarURL != "https://a/b.png" {
		t.Fatalf("hints not applied: %+v", record)
	}
	if record.MergeProfile(ProfileHints{Email: "new@example.com"}) {
		t.Fatalf("identical hints must not report a change")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	record := Account{
		AccountID: "user-10",
		Trial:     &Trial{MaxMinutes: 60, Active: true, ExpiresUnixUTC: testNow + 10},
		Plan:      &ActivePlan{PlanID: "starter", RemainingMinutes: 30, ExpiresUnixUTC: testNow + 10},
		Payments:  []Payment{{PaymentID: "pay-1", Kind: PaymentKindPlan, AmountCents: 100}},
	}
	cloned := record.Clone()
	cloned.Trial.ConsumedMinutes = 59
	cloned.Plan.RemainingMinutes = 1
	cloned.Payments[0].PaymentID = "mutated"

	if record.Trial.ConsumedMinutes != 0 || record.Plan.RemainingMinutes != 30 || record.Payments[0].PaymentID != "pay-1" {
		t.Fatalf("clone shares state with the original: %+v", record)
	}
}

func TestNewAccountID(t *testing.T) {
	t.Parallel()
	if _, err := NewAccountID("   "); !errors.Is(err, ErrInvalidAccountID) {
		t.Fatalf("expected ErrInvalidAccountID, got %v", err)
	}
	id, err := NewAccountID("  google:123  ")
	if err != nil {
		t.Fatalf("new account id: %v", err)
	}
	if id != "google:123" {
		t.Fatalf("expected trimmed id, got %q", id)
	}
}
