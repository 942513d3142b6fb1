package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/MarkoPoloResearchLab/thanglish/internal/billing"
	"github.com/MarkoPoloResearchLab/thanglish/internal/identity"
	"github.com/MarkoPoloResearchLab/thanglish/internal/session"
	"github.com/MarkoPoloResearchLab/thanglish/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/thanglish/internal/transcribe"
	"github.com/MarkoPoloResearchLab/thanglish/pkg/entitlement"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testGatewaySecret = "s3cret"
	testGatewayKeyID  = "key_test"
)

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, credential string) (identity.Identity, error) {
	if credential != "good-credential" {
		return identity.Identity{}, identity.ErrInvalidAssertion
	}
	return identity.Identity{
		SubjectID: "google:alice",
		Email:     "alice@example.com",
		Name:      "Alice",
		AvatarURL: "https://example.com/alice.png",
	}, nil
}

type stubGenerator struct {
	err error
}

func (generator stubGenerator) Generate(_ context.Context, _ transcribe.Request) (transcribe.Result, error) {
	if generator.err != nil {
		return transcribe.Result{}, generator.err
	}
	return transcribe.Result{SubtitleText: "1\n00:00:00,000 --> 00:00:02,000\nvanakkam"}, nil
}

type testEnv struct {
	server  *httptest.Server
	handler *httpHandler
}

func newTestEnv(t *testing.T, generator transcribe.Generator) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/thanglish.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := gormstore.New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gatewayUpstream := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var payload struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		}
		if err := json.NewDecoder(request.Body).Decode(&payload); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"id":       "order_test_1",
			"amount":   payload.Amount,
			"currency": payload.Currency,
		})
	}))
	t.Cleanup(gatewayUpstream.Close)

	cfg := Config{
		AllowedOrigins:    []string{"http://localhost:5173"},
		SessionSigningKey: "unit-test-signing-key",
		SessionIssuer:     "thanglish-test",
		SessionCookieName: "thanglish_session",
		GoogleClientID:    "client-id",
		GatewayKeyID:      testGatewayKeyID,
		GatewayKeySecret:  testGatewaySecret,
		GatewayBaseURL:    gatewayUpstream.URL,
		GenerativeAPIKey:  "unused",
		DevLoginEnabled:   true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	sessions, err := session.NewManager(session.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	gateway, err := billing.New(billing.Config{KeyID: cfg.GatewayKeyID, KeySecret: cfg.GatewayKeySecret, BaseURL: cfg.GatewayBaseURL})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	entitlements, err := entitlement.NewService(store, func() int64 { return 1_700_000_000 })
	if err != nil {
		t.Fatalf("entitlement service: %v", err)
	}

	handler := &httpHandler{
		logger:       zap.NewNop(),
		cfg:          cfg,
		store:        store,
		entitlements: entitlements,
		sessions:     sessions,
		verifier:     stubVerifier{},
		gateway:      gateway,
		generator:    generator,
	}
	server := httptest.NewServer(setupRouter(cfg, handler, sessions))
	t.Cleanup(server.Close)
	return &testEnv{server: server, handler: handler}
}

type statusEnvelope struct {
	User         userPayload       `json:"user"`
	Plans        []json.RawMessage `json:"plans"`
	GatewayKeyID string            `json:"gatewayKeyId"`
	Trial        *trialPayload     `json:"trial"`
	Order        *orderPayload     `json:"order"`
	Source       string            `json:"source"`
	Debited      int64             `json:"debited"`
	Subtitle     string            `json:"subtitle"`
	Required     int64             `json:"requiredAmount"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (env *testEnv) exec(t *testing.T, method string, path string, cookie *http.Cookie, payload any) (int, statusEnvelope) {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	request, err := http.NewRequest(method, env.server.URL+path, body)
	if err != nil {
		t.Fatalf("request init: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	defer response.Body.Close()
	var envelope statusEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return response.StatusCode, envelope
}

func (env *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	response, err := env.server.Client().Post(env.server.URL+"/auth/google", "application/json",
		bytes.NewBufferString(`{"credential":"good-credential"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", response.StatusCode)
	}
	for _, cookie := range response.Cookies() {
		if cookie.Name == "thanglish_session" {
			return cookie
		}
	}
	t.Fatalf("session cookie missing from login response")
	return nil
}

func signConfirmation(orderID string, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testGatewaySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestGoogleLoginIssuesSessionAndBootstrapsAccount(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})

	status, envelope := env.exec(t, http.MethodPost, "/auth/google", nil, map[string]string{"credential": "bad"})
	if status != http.StatusUnauthorized || envelope.Error == nil || envelope.Error.Code != "invalid_assertion" {
		t.Fatalf("expected 401 invalid_assertion, got %d %+v", status, envelope)
	}

	cookie := env.login(t)
	status, envelope = env.exec(t, http.MethodGet, "/status", cookie, nil)
	if status != http.StatusOK {
		t.Fatalf("status endpoint returned %d", status)
	}
	if envelope.User.AccountID != "google:alice" || envelope.User.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", envelope.User)
	}
	if envelope.User.WalletBalanceCents != 0 || envelope.User.Trial != nil || envelope.User.Plan != nil {
		t.Fatalf("fresh account must start empty: %+v", envelope.User)
	}
	if len(envelope.Plans) != 4 {
		t.Fatalf("expected 4 catalog plans, got %d", len(envelope.Plans))
	}
	if envelope.GatewayKeyID != testGatewayKeyID {
		t.Fatalf("expected gateway key id %s, got %s", testGatewayKeyID, envelope.GatewayKeyID)
	}
}

func TestAuthenticatedEndpointsRequireSession(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	for _, path := range []string{"/status", "/subscription/start-trial", "/usage/consume"} {
		method := http.MethodPost
		if path == "/status" {
			method = http.MethodGet
		}
		status, envelope := env.exec(t, method, path, nil, nil)
		if status != http.StatusUnauthorized || envelope.Error == nil || envelope.Error.Code != "unauthorized" {
			t.Fatalf("%s: expected 401 unauthorized, got %d %+v", path, status, envelope)
		}
	}
}

func TestStartTrialIsOneTime(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)

	status, envelope := env.exec(t, http.MethodPost, "/subscription/start-trial", cookie, nil)
	if status != http.StatusOK {
		t.Fatalf("start trial returned %d", status)
	}
	if envelope.Trial == nil || envelope.Trial.MaxMinutes != 60 || !envelope.Trial.Active {
		t.Fatalf("unexpected trial %+v", envelope.Trial)
	}

	status, envelope = env.exec(t, http.MethodPost, "/subscription/start-trial", cookie, nil)
	if status != http.StatusForbidden || envelope.Error == nil || envelope.Error.Code != "trial_already_granted" {
		t.Fatalf("expected 403 trial_already_granted, got %d %+v", status, envelope)
	}
}

func TestConsumeDrawsFromTrialThenFailsWithRequiredAmount(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)

	if status, _ := env.exec(t, http.MethodPost, "/subscription/start-trial", cookie, nil); status != http.StatusOK {
		t.Fatalf("start trial returned %d", status)
	}

	status, envelope := env.exec(t, http.MethodPost, "/usage/consume", cookie, map[string]float64{"minutes": 1.2})
	if status != http.StatusOK {
		t.Fatalf("consume returned %d", status)
	}
	if envelope.Source != "trial" || envelope.User.Trial.ConsumedMinutes != 2 {
		t.Fatalf("expected 2 trial minutes consumed, got %+v", envelope)
	}

	// 59 more minutes exceed the trial cap and there is no wallet balance.
	status, envelope = env.exec(t, http.MethodPost, "/usage/consume", cookie, map[string]float64{"minutes": 59})
	if status != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", status)
	}
	if envelope.Error == nil || envelope.Error.Code != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance error, got %+v", envelope.Error)
	}
	if envelope.Required != 5900 {
		t.Fatalf("expected required amount 5900, got %d", envelope.Required)
	}

	// The failed attempt must not have moved any counter.
	status, envelope = env.exec(t, http.MethodGet, "/status", cookie, nil)
	if status != http.StatusOK || envelope.User.Trial.ConsumedMinutes != 2 || envelope.User.WalletBalanceCents != 0 {
		t.Fatalf("failed consume mutated state: %d %+v", status, envelope.User)
	}

	status, envelope = env.exec(t, http.MethodPost, "/usage/consume", cookie, map[string]float64{"minutes": -1})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid minutes, got %d", status)
	}
}

func TestCreateOrderValidatesIntent(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)

	status, envelope := env.exec(t, http.MethodPost, "/subscription/create-order", cookie,
		map[string]any{"intent": "wallet", "amount": 100})
	if status != http.StatusBadRequest || envelope.Error == nil || envelope.Error.Code != "invalid_amount" {
		t.Fatalf("expected 400 invalid_amount below minimum, got %d %+v", status, envelope)
	}

	status, envelope = env.exec(t, http.MethodPost, "/subscription/create-order", cookie,
		map[string]any{"intent": "plan", "planId": "no-such-plan"})
	if status != http.StatusBadRequest || envelope.Error == nil || envelope.Error.Code != "invalid_plan" {
		t.Fatalf("expected 400 invalid_plan, got %d %+v", status, envelope)
	}

	status, envelope = env.exec(t, http.MethodPost, "/subscription/create-order", cookie,
		map[string]any{"intent": "gift", "amount": 5000})
	if status != http.StatusBadRequest || envelope.Error == nil || envelope.Error.Code != "invalid_intent" {
		t.Fatalf("expected 400 invalid_intent, got %d %+v", status, envelope)
	}

	status, envelope = env.exec(t, http.MethodPost, "/subscription/create-order", cookie,
		map[string]any{"intent": "plan", "planId": "starter"})
	if status != http.StatusOK || envelope.Order == nil {
		t.Fatalf("expected order, got %d %+v", status, envelope)
	}
	if envelope.Order.OrderID != "order_test_1" || envelope.Order.AmountCents != 9900 || envelope.Order.Currency != "INR" {
		t.Fatalf("unexpected order %+v", envelope.Order)
	}
}

func TestConfirmRejectsBadSignatureWithoutMutating(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)

	status, envelope := env.exec(t, http.MethodPost, "/subscription/confirm", cookie, map[string]any{
		"orderId":   "order_1",
		"paymentId": "pay_1",
		"signature": "forged",
		"intent":    "wallet",
		"amount":    5000,
	})
	if status != http.StatusBadRequest || envelope.Error == nil || envelope.Error.Code != "invalid_signature" {
		t.Fatalf("expected 400 invalid_signature, got %d %+v", status, envelope)
	}

	status, envelope = env.exec(t, http.MethodGet, "/status", cookie, nil)
	if status != http.StatusOK || envelope.User.WalletBalanceCents != 0 || len(envelope.User.Payments) != 0 {
		t.Fatalf("rejected confirmation mutated state: %+v", envelope.User)
	}
}

func TestConfirmWalletAndPlanPurchases(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)

	status, envelope := env.exec(t, http.MethodPost, "/subscription/confirm", cookie, map[string]any{
		"orderId":   "order_w",
		"paymentId": "pay_w",
		"signature": signConfirmation("order_w", "pay_w"),
		"intent":    "wallet",
		"amount":    5000,
	})
	if status != http.StatusOK {
		t.Fatalf("wallet confirm returned %d %+v", status, envelope)
	}
	if envelope.User.WalletBalanceCents != 5000 || len(envelope.User.Payments) != 1 {
		t.Fatalf("unexpected wallet state %+v", envelope.User)
	}
	if envelope.User.Payments[0].Kind != "wallet" || envelope.User.Payments[0].GatewayOrderID != "order_w" {
		t.Fatalf("unexpected payment %+v", envelope.User.Payments[0])
	}

	status, envelope = env.exec(t, http.MethodPost, "/subscription/confirm", cookie, map[string]any{
		"orderId":   "order_p",
		"paymentId": "pay_p",
		"signature": signConfirmation("order_p", "pay_p"),
		"intent":    "plan",
		"planId":    "starter",
	})
	if status != http.StatusOK {
		t.Fatalf("plan confirm returned %d %+v", status, envelope)
	}
	if envelope.User.Plan == nil || envelope.User.Plan.PlanID != "starter" || envelope.User.Plan.RemainingMinutes != 30 {
		t.Fatalf("unexpected plan %+v", envelope.User.Plan)
	}
	if len(envelope.User.Payments) != 2 || envelope.User.Payments[0].Kind != "plan" {
		t.Fatalf("expected plan payment newest first, got %+v", envelope.User.Payments)
	}

	// Plan minutes now fund usage ahead of the wallet.
	status, envelope = env.exec(t, http.MethodPost, "/usage/consume", cookie, map[string]float64{"minutes": 5})
	if status != http.StatusOK || envelope.Source != "plan" {
		t.Fatalf("expected plan-funded consume, got %d %+v", status, envelope)
	}
	if envelope.User.Plan.RemainingMinutes != 25 || envelope.User.WalletBalanceCents != 5000 {
		t.Fatalf("plan consume touched the wrong balance: %+v", envelope.User)
	}

	// A request beyond the plan's remainder falls back to the wallet.
	status, envelope = env.exec(t, http.MethodPost, "/usage/consume", cookie, map[string]float64{"minutes": 30})
	if status != http.StatusOK || envelope.Source != "wallet" || envelope.Debited != 3000 {
		t.Fatalf("expected wallet fallback debit of 3000, got %d %+v", status, envelope)
	}
	if envelope.User.Plan.RemainingMinutes != 25 || envelope.User.WalletBalanceCents != 2000 {
		t.Fatalf("unexpected balances after fallback: %+v", envelope.User)
	}
}

func TestDevLoginCreatesPrefixedAccount(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})

	response, err := env.server.Client().Post(env.server.URL+"/auth/dev-login", "application/json",
		bytes.NewBufferString(`{"userId":"tester","name":"Tester"}`))
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("dev login returned %d", response.StatusCode)
	}
	var envelope statusEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode dev login response: %v", err)
	}
	if envelope.User.AccountID != "dev:tester" || envelope.User.DisplayName != "Tester" {
		t.Fatalf("unexpected dev account %+v", envelope.User)
	}
}

func TestDevLoginRouteAbsentWhenDisabled(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	disabledCfg := env.handler.cfg
	disabledCfg.DevLoginEnabled = false
	disabled := httptest.NewServer(setupRouter(disabledCfg, env.handler, env.handler.sessions))
	t.Cleanup(disabled.Close)

	response, err := disabled.Client().Post(disabled.URL+"/auth/dev-login", "application/json",
		bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for disabled dev login, got %d", response.StatusCode)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)

	request, err := http.NewRequest(http.MethodPost, env.server.URL+"/auth/logout", bytes.NewBuffer(nil))
	if err != nil {
		t.Fatalf("request init: %v", err)
	}
	request.AddCookie(cookie)
	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("logout returned %d", response.StatusCode)
	}
	cleared := false
	for _, setCookie := range response.Cookies() {
		if setCookie.Name == "thanglish_session" && setCookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("logout must expire the session cookie")
	}
}

func buildTranscribeBody(t *testing.T, minutes string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="clip.mp3"`)
	header.Set("Content-Type", "audio/mpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte{0x49, 0x44, 0x33}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := writer.WriteField("minutes", minutes); err != nil {
		t.Fatalf("write minutes: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func execTranscribe(t *testing.T, env *testEnv, cookie *http.Cookie, minutes string) (int, statusEnvelope) {
	t.Helper()
	body, contentType := buildTranscribeBody(t, minutes)
	request, err := http.NewRequest(http.MethodPost, env.server.URL+"/transcribe", body)
	if err != nil {
		t.Fatalf("request init: %v", err)
	}
	request.Header.Set("Content-Type", contentType)
	request.AddCookie(cookie)
	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	defer response.Body.Close()
	var envelope statusEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode transcribe response: %v", err)
	}
	return response.StatusCode, envelope
}

func TestTranscribeDebitsThenGenerates(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	cookie := env.login(t)
	if status, _ := env.exec(t, http.MethodPost, "/subscription/start-trial", cookie, nil); status != http.StatusOK {
		t.Fatalf("start trial failed")
	}

	status, envelope := execTranscribe(t, env, cookie, "1.5")
	if status != http.StatusOK {
		t.Fatalf("transcribe returned %d %+v", status, envelope)
	}
	if envelope.Source != "trial" || envelope.Subtitle == "" {
		t.Fatalf("unexpected transcribe response %+v", envelope)
	}
	if envelope.User.Trial.ConsumedMinutes != 2 {
		t.Fatalf("expected 2 trial minutes debited, got %d", envelope.User.Trial.ConsumedMinutes)
	}
}

func TestTranscribeGenerationFailureKeepsDebit(t *testing.T) {
	env := newTestEnv(t, stubGenerator{err: fmt.Errorf("model offline: %w", transcribe.ErrGenerationFailed)})
	cookie := env.login(t)
	if status, _ := env.exec(t, http.MethodPost, "/subscription/start-trial", cookie, nil); status != http.StatusOK {
		t.Fatalf("start trial failed")
	}

	status, envelope := execTranscribe(t, env, cookie, "1")
	if status != http.StatusInternalServerError || envelope.Error == nil || envelope.Error.Code != "upstream_failure" {
		t.Fatalf("expected 500 upstream_failure, got %d %+v", status, envelope)
	}

	status, envelope = env.exec(t, http.MethodGet, "/status", cookie, nil)
	if status != http.StatusOK || envelope.User.Trial.ConsumedMinutes != 1 {
		t.Fatalf("debit must stand after a failed generation, got %+v", envelope.User.Trial)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, stubGenerator{})
	response, err := env.server.Client().Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", response.StatusCode)
	}
}
