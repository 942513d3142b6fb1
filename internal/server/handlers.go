package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/thanglish/internal/billing"
	"github.com/MarkoPoloResearchLab/thanglish/internal/identity"
	"github.com/MarkoPoloResearchLab/thanglish/internal/session"
	"github.com/MarkoPoloResearchLab/thanglish/internal/transcribe"
	"github.com/MarkoPoloResearchLab/thanglish/pkg/account"
	"github.com/MarkoPoloResearchLab/thanglish/pkg/entitlement"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionClaimsKey = "session_claims"

	intentPlan   = "plan"
	intentWallet = "wallet"

	maxAudioUploadBytes = 25 << 20
)

type httpHandler struct {
	logger       *zap.Logger
	cfg          Config
	store        account.Store
	entitlements *entitlement.Service
	sessions     *session.Manager
	verifier     identity.Verifier
	gateway      *billing.Gateway
	generator    transcribe.Generator
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
}

type devLoginRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type createOrderRequest struct {
	Intent      string `json:"intent"`
	PlanID      string `json:"planId"`
	AmountCents int64  `json:"amount"`
}

type confirmRequest struct {
	OrderID     string `json:"orderId"`
	PaymentID   string `json:"paymentId"`
	Signature   string `json:"signature"`
	Intent      string `json:"intent"`
	PlanID      string `json:"planId"`
	AmountCents int64  `json:"amount"`
}

type consumeRequest struct {
	Minutes float64 `json:"minutes"`
}

func (handler *httpHandler) handleGoogleLogin(ctx *gin.Context) {
	var request googleLoginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with credential"))
		return
	}
	verified, err := handler.verifier.Verify(ctx.Request.Context(), request.Credential)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_assertion", "credential verification failed"))
		return
	}
	handler.establishSession(ctx, verified.SubjectID, account.ProfileHints{
		DisplayName: verified.Name,
		Email:       verified.Email,
		AvatarURL:   verified.AvatarURL,
	})
}

// handleDevLogin bypasses identity verification for local development. The
// route only exists when the flag is set, and even then requests must
// originate from loopback and match the dev origin allow-list.
func (handler *httpHandler) handleDevLogin(ctx *gin.Context) {
	clientIP := net.ParseIP(ctx.ClientIP())
	if clientIP == nil || !clientIP.IsLoopback() {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "dev login is loopback only"))
		return
	}
	if origin := ctx.GetHeader("Origin"); origin != "" && !containsString(handler.cfg.DevLoginOrigins, origin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "origin not allowed for dev login"))
		return
	}
	var request devLoginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID := request.UserID
	if userID == "" {
		userID = "dev-user"
	}
	handler.establishSession(ctx, "dev:"+userID, account.ProfileHints{
		DisplayName: request.Name,
		Email:       request.Email,
	})
}

func (handler *httpHandler) establishSession(ctx *gin.Context, accountID string, hints account.ProfileHints) {
	record, err := handler.store.GetOrCreate(ctx.Request.Context(), accountID, hints)
	if err != nil {
		handler.logger.Error("account upsert failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_failure", "account lookup failed"))
		return
	}
	token, err := handler.sessions.Issue(record.AccountID, record.Email, record.DisplayName, record.AvatarURL)
	if err != nil {
		handler.logger.Error("session issue failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("session_failure", "could not create session"))
		return
	}
	handler.sessions.SetCookie(ctx, token)
	handler.respondWithStatus(ctx, record)
}

func (handler *httpHandler) handleLogout(ctx *gin.Context) {
	handler.sessions.ClearCookie(ctx)
	ctx.JSON(http.StatusOK, gin.H{"ok": true})
}

func (handler *httpHandler) handleStatus(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	record, err := handler.entitlements.Status(ctx.Request.Context(), claims.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithStatus(ctx, record)
}

func (handler *httpHandler) handleStartTrial(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	record, err := handler.entitlements.StartTrial(ctx.Request.Context(), claims.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"trial": mapUserPayload(record).Trial})
}

func (handler *httpHandler) handleCreateOrder(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request createOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}

	var amountCents int64
	notes := map[string]string{"intent": request.Intent, "account_id": claims.UserID}
	switch request.Intent {
	case intentPlan:
		plan, ok := account.PlanByID(request.PlanID)
		if !ok {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_plan", "unknown plan id"))
			return
		}
		amountCents = plan.PriceCents
		notes["plan_id"] = plan.PlanID
	case intentWallet:
		if request.AmountCents < entitlement.MinimumTopUpCents {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount",
				"top-up must be at least "+strconv.FormatInt(entitlement.MinimumTopUpCents, 10)+" minor units"))
			return
		}
		amountCents = request.AmountCents
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_intent", "intent must be plan or wallet"))
		return
	}

	order, err := handler.gateway.CreateOrder(ctx.Request.Context(), amountCents, defaultCurrency, notes)
	if err != nil {
		handler.logger.Error("order creation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("gateway_failure", "could not create payment order"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": orderPayload{
		OrderID:     order.OrderID,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	}})
}

func (handler *httpHandler) handleConfirm(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request confirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	// The signature gate runs before any ledger mutation.
	if err := handler.gateway.VerifySignature(request.OrderID, request.PaymentID, request.Signature); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "payment confirmation rejected"))
		return
	}

	var (
		record account.Account
		err    error
	)
	switch request.Intent {
	case intentPlan:
		record, err = handler.entitlements.ConfirmPlanPurchase(ctx.Request.Context(), claims.UserID, request.PlanID, request.OrderID, request.PaymentID)
	case intentWallet:
		if request.AmountCents <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be positive"))
			return
		}
		record, err = handler.entitlements.ConfirmWalletTopUp(ctx.Request.Context(), claims.UserID, request.AmountCents, request.OrderID, request.PaymentID)
	default:
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_intent", "intent must be plan or wallet"))
		return
	}
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": mapUserPayload(record)})
}

func (handler *httpHandler) handleConsume(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request consumeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	minutes, err := entitlement.NormalizeMinutes(request.Minutes)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_minutes", "minutes must be positive"))
		return
	}
	outcome, err := handler.entitlements.Consume(ctx.Request.Context(), claims.UserID, minutes)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	response := gin.H{
		"source": outcome.Source,
		"user":   mapUserPayload(outcome.Account),
	}
	if outcome.Source == entitlement.SourceWallet {
		response["debited"] = outcome.DebitedCents
	}
	ctx.JSON(http.StatusOK, response)
}

// handleTranscribe settles the entitlement debit first, then calls the
// generative model. A generation failure after the debit is not refunded.
func (handler *httpHandler) handleTranscribe(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	fileHeader, err := ctx.FormFile("audio")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "audio file is required"))
		return
	}
	if fileHeader.Size > maxAudioUploadBytes {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "audio file too large"))
		return
	}
	rawMinutes, err := strconv.ParseFloat(ctx.PostForm("minutes"), 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_minutes", "minutes form field is required"))
		return
	}
	minutes, err := entitlement.NormalizeMinutes(rawMinutes)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_minutes", "minutes must be positive"))
		return
	}
	request := transcribe.Request{
		MimeType: fileHeader.Header.Get("Content-Type"),
		Language: transcribe.OutputLanguage(ctx.DefaultPostForm("language", string(transcribe.OutputThanglish))),
		Format:   transcribe.SubtitleFormat(ctx.DefaultPostForm("format", string(transcribe.FormatSRT))),
	}
	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "could not read audio file"))
		return
	}
	defer func() { _ = file.Close() }()
	request.Audio, err = io.ReadAll(io.LimitReader(file, maxAudioUploadBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "could not read audio file"))
		return
	}
	if err := request.Validate(); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
		return
	}

	outcome, err := handler.entitlements.Consume(ctx.Request.Context(), claims.UserID, minutes)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	result, err := handler.generator.Generate(ctx.Request.Context(), request)
	if err != nil {
		handler.logger.Error("subtitle generation failed", zap.Error(err), zap.String("account_id", claims.UserID))
		ctx.JSON(http.StatusInternalServerError, errorResponse("upstream_failure", "subtitle generation failed"))
		return
	}
	response := gin.H{
		"source":   outcome.Source,
		"subtitle": result.SubtitleText,
		"user":     mapUserPayload(outcome.Account),
	}
	if outcome.Source == entitlement.SourceWallet {
		response["debited"] = outcome.DebitedCents
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) respondWithStatus(ctx *gin.Context, record account.Account) {
	ctx.JSON(http.StatusOK, gin.H{
		"user":         mapUserPayload(record),
		"plans":        account.Plans(),
		"gatewayKeyId": handler.gateway.KeyID(),
	})
}

func (handler *httpHandler) respondDomainError(ctx *gin.Context, err error) {
	var insufficient *entitlement.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		ctx.JSON(http.StatusPaymentRequired, gin.H{
			"error":          errorPayload("insufficient_balance", "not enough plan, trial, or wallet balance"),
			"requiredAmount": insufficient.RequiredCents,
		})
	case errors.Is(err, account.ErrTrialAlreadyGranted):
		ctx.JSON(http.StatusForbidden, errorResponse("trial_already_granted", "trials are one-time and non-renewable"))
	case errors.Is(err, account.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("account_not_found", "unknown account"))
	case errors.Is(err, account.ErrUnknownPlan):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_plan", "unknown plan id"))
	case errors.Is(err, account.ErrInvalidMinutes), errors.Is(err, account.ErrInvalidAmountCents):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_input", err.Error()))
	default:
		handler.logger.Error("ledger operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("storage_failure", "operation failed"))
	}
}

func getClaims(ctx *gin.Context) *session.Claims {
	claimsValue, ok := ctx.Get(sessionClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*session.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": errorPayload(code, message)}
}

func errorPayload(code string, message string) gin.H {
	return gin.H{"code": code, "message": message}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
