// Package httpapi exposes the ledger to browsers over HTTP with tauth sessions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/payments"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	signatureHeader  = "Stripe-Signature"
	balanceUnlimited = "unlimited"
)

var errPaymentsDisabled = errors.New("payments are not configured")

// Ledger is the subset of *ledger.Service the handlers call.
type Ledger interface {
	BalanceInfo(ctx context.Context, accountID ledger.AccountID) (ledger.Balance, error)
	CheckAffordability(ctx context.Context, accountID ledger.AccountID, featureKey ledger.FeatureKey) (ledger.Affordability, error)
	Debit(ctx context.Context, accountID ledger.AccountID, featureKey ledger.FeatureKey, metadata ledger.MetadataJSON) (ledger.DebitResult, error)
	FeatureCosts(ctx context.Context, includeInactive bool) ([]ledger.FeatureCost, error)
	TokenPackages(ctx context.Context, includeInactive bool) ([]ledger.TokenPackage, error)
	TransactionHistory(ctx context.Context, accountID ledger.AccountID, limit int) ([]ledger.Transaction, error)
	PendingPurchase(ctx context.Context, accountID ledger.AccountID, reference ledger.PaymentReference) (ledger.PendingPurchase, error)
}

// Payments is the subset of *payments.Confirmer the handlers call.
type Payments interface {
	StartPurchase(ctx context.Context, accountID ledger.AccountID, packageID ledger.PackageID) (payments.Purchase, error)
	ConfirmPayment(ctx context.Context, accountID ledger.AccountID, paymentID string) (payments.Confirmation, error)
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

// Dependencies carries the collaborators of the router. Payments and Metrics are optional.
type Dependencies struct {
	Ledger   Ledger
	Payments Payments
	Logger   *zap.Logger
	Metrics  http.Handler
}

type httpHandler struct {
	cfg      Config
	ledger   Ledger
	payments Payments
	logger   *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, dependencies Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dependencies.Ledger == nil {
		return nil, fmt.Errorf("ledger dependency is nil")
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{cfg: cfg, ledger: dependencies.Ledger, payments: dependencies.Payments, logger: logger}
	return setupRouter(cfg, handler, validator, dependencies.Metrics), nil
}

// Run serves handler until ctx is cancelled.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	router.POST("/webhooks/stripe", handler.handleWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/balance", handler.handleBalance)
	api.GET("/costs", handler.handleCosts)
	api.GET("/affordability", handler.handleAffordability)
	api.POST("/debit", handler.handleDebit)
	api.GET("/history", handler.handleHistory)
	api.GET("/packages", handler.handlePackages)
	api.POST("/purchases", handler.handleStartPurchase)
	api.POST("/purchases/confirm", handler.handleConfirmPurchase)
	api.GET("/purchases/:paymentID", handler.handlePurchaseStatus)

	return router
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	balance, err := handler.ledger.BalanceInfo(requestCtx, accountID)
	if err != nil {
		handler.respondLedgerError(ctx, "balance lookup failed", err)
		return
	}
	var displayed any = balance.Balance.Int64()
	if balance.Unlimited {
		displayed = balanceUnlimited
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":   displayed,
		"unlimited": balance.Unlimited,
		"lifetime": gin.H{
			"earned":    balance.LifetimeEarned.Int64(),
			"purchased": balance.LifetimePurchased.Int64(),
			"spent":     balance.LifetimeSpent.Int64(),
		},
	})
}

func (handler *httpHandler) handleCosts(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	featureCosts, err := handler.ledger.FeatureCosts(requestCtx, false)
	if err != nil {
		handler.respondLedgerError(ctx, "feature cost lookup failed", err)
		return
	}
	costs := make(map[string]int64, len(featureCosts))
	features := make([]featurePayload, 0, len(featureCosts))
	for _, featureCost := range featureCosts {
		costs[featureCost.Key.String()] = featureCost.TokenCost.Int64()
		features = append(features, featurePayload{
			FeatureKey:  featureCost.Key.String(),
			TokenCost:   featureCost.TokenCost.Int64(),
			Description: featureCost.Description,
		})
	}
	response := gin.H{"costs": costs}
	if detail, _ := strconv.ParseBool(ctx.Query("detail")); detail {
		response["features"] = features
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleAffordability(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	featureKey, err := ledger.NewFeatureKey(ctx.Query("feature"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_feature", "feature query parameter is required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	affordability, err := handler.ledger.CheckAffordability(requestCtx, accountID, featureKey)
	if err != nil {
		handler.respondLedgerError(ctx, "affordability check failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"can_afford": affordability.CanAfford,
		"required":   affordability.Required.Int64(),
		"balance":    affordability.Balance.Int64(),
		"unlimited":  affordability.IsUnlimited,
	})
}

func (handler *httpHandler) handleDebit(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	var request debitRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	featureKey, err := ledger.NewFeatureKey(request.FeatureKey)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_feature", "feature_key is required"))
		return
	}
	metadata, err := ledger.MetadataFromMap(request.Metadata)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	result, err := handler.ledger.Debit(requestCtx, accountID, featureKey, metadata)
	if err != nil {
		var insufficient *ledger.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			ctx.JSON(http.StatusPaymentRequired, gin.H{
				"success":  false,
				"balance":  insufficient.Balance.Int64(),
				"required": insufficient.Required.Int64(),
				"message":  insufficient.Error(),
			})
			return
		}
		handler.respondLedgerError(ctx, "debit failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":        true,
		"new_balance":    result.NewBalance.Int64(),
		"transaction_id": result.TransactionID.String(),
		"unlimited":      result.Unlimited,
	})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	limit := 0
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be an integer"))
			return
		}
		limit = parsed
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	transactions, err := handler.ledger.TransactionHistory(requestCtx, accountID, limit)
	if err != nil {
		handler.respondLedgerError(ctx, "history lookup failed", err)
		return
	}
	entries := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		entries = append(entries, transactionPayload{
			TransactionID:  transaction.ID.String(),
			Type:           transaction.Type.String(),
			Amount:         transaction.Amount.Int64(),
			CreatedUnixUTC: transaction.CreatedUnixUTC,
			Metadata:       transaction.Metadata.Map(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": entries})
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	tokenPackages, err := handler.ledger.TokenPackages(requestCtx, false)
	if err != nil {
		handler.respondLedgerError(ctx, "package lookup failed", err)
		return
	}
	packagesPayload := make([]packagePayload, 0, len(tokenPackages))
	for _, tokenPackage := range tokenPackages {
		packagesPayload = append(packagesPayload, newPackagePayload(tokenPackage))
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": packagesPayload})
}

func (handler *httpHandler) handleStartPurchase(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	if handler.payments == nil {
		handler.respondPaymentError(ctx, errPaymentsDisabled)
		return
	}
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	packageID, err := ledger.NewPackageID(request.PackageID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_package", "package_id is required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	purchase, err := handler.payments.StartPurchase(requestCtx, accountID, packageID)
	if err != nil {
		handler.respondPaymentError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payment_id":    purchase.PaymentID,
		"client_secret": purchase.ClientSecret,
		"status":        purchase.Status,
		"package":       newPackagePayload(purchase.Package),
	})
}

func (handler *httpHandler) handleConfirmPurchase(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	if handler.payments == nil {
		handler.respondPaymentError(ctx, errPaymentsDisabled)
		return
	}
	var request confirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.PaymentID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "payment_id is required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	confirmation, err := handler.payments.ConfirmPayment(requestCtx, accountID, request.PaymentID)
	if err != nil {
		handler.respondPaymentError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":          true,
		"tokens_added":     confirmation.TokensAdded,
		"already_credited": confirmation.AlreadyCredited,
		"new_balance":      confirmation.NewBalance.Int64(),
	})
}

func (handler *httpHandler) handlePurchaseStatus(ctx *gin.Context) {
	accountID, ok := requireAccount(ctx)
	if !ok {
		return
	}
	reference, err := ledger.NewPaymentReference(ctx.Param("paymentID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payment", "payment id is required"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	purchase, err := handler.ledger.PendingPurchase(requestCtx, accountID, reference)
	if err != nil {
		handler.respondLedgerError(ctx, "purchase lookup failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payment_id":         purchase.PaymentReference.String(),
		"package_id":         purchase.PackageID.String(),
		"status":             purchase.Status.String(),
		"created_unix_utc":   purchase.CreatedUnixUTC,
		"completed_unix_utc": purchase.CompletedUnixUTC,
	})
}

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	if handler.payments == nil {
		handler.respondPaymentError(ctx, errPaymentsDisabled)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, handler.cfg.WebhookMaxBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	if err := handler.payments.HandleEvent(ctx.Request.Context(), payload, ctx.GetHeader(signatureHeader)); err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", "event could not be verified"))
			return
		}
		// A non-2xx answer makes the processor redeliver the event later.
		handler.logger.Error("webhook processing failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("processing_failed", "event not processed"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}

func (handler *httpHandler) respondLedgerError(ctx *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrStoreUnavailable):
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("ledger_unavailable", "ledger temporarily unavailable"))
	case errors.Is(err, ledger.ErrConfigurationGap):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "catalog entry not available"))
	case errors.Is(err, ledger.ErrUnknownPurchase):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "purchase not found"))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "internal error"))
	}
}

func (handler *httpHandler) respondPaymentError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, payments.ErrOwnershipMismatch):
		ctx.JSON(http.StatusForbidden, errorResponse("payment_unverified", "payment could not be verified"))
	case errors.Is(err, payments.ErrPaymentNotCompleted):
		ctx.JSON(http.StatusConflict, errorResponse("payment_incomplete", "payment has not completed yet"))
	case errors.Is(err, payments.ErrInvalidPaymentMetadata):
		handler.logger.Error("payment metadata invalid", zap.Error(err))
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("payment_unverified", "payment could not be verified"))
	case errors.Is(err, errPaymentsDisabled):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("payments_disabled", "payments are not configured"))
	case errors.Is(err, payments.ErrProcessorUnavailable):
		handler.logger.Warn("payment processor unavailable", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("processor_unavailable", "payment processor unavailable"))
	default:
		handler.respondLedgerError(ctx, "purchase failed", err)
	}
}

func isValidationError(err error) bool {
	for _, validation := range []error{
		ledger.ErrInvalidAccountID,
		ledger.ErrInvalidFeatureKey,
		ledger.ErrInvalidPackageID,
		ledger.ErrInvalidPaymentReference,
		ledger.ErrInvalidMetadataJSON,
	} {
		if errors.Is(err, validation) {
			return true
		}
	}
	return false
}

// requireAccount resolves the session subject or writes a 401.
func requireAccount(ctx *gin.Context) (ledger.AccountID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.AccountID{}, false
	}
	accountID, err := ledger.NewAccountID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no subject"))
		return ledger.AccountID{}, false
	}
	return accountID, true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func newPackagePayload(tokenPackage ledger.TokenPackage) packagePayload {
	return packagePayload{
		PackageID:       tokenPackage.ID.String(),
		Name:            tokenPackage.Name,
		Tokens:          tokenPackage.Tokens.Int64(),
		PriceMinorUnits: tokenPackage.PriceMinorUnits,
		Currency:        tokenPackage.Currency,
	}
}

type debitRequest struct {
	FeatureKey string         `json:"feature_key"`
	Metadata   map[string]any `json:"metadata"`
}

type purchaseRequest struct {
	PackageID string `json:"package_id"`
}

type confirmRequest struct {
	PaymentID string `json:"payment_id"`
}

type featurePayload struct {
	FeatureKey  string `json:"feature_key"`
	TokenCost   int64  `json:"token_cost"`
	Description string `json:"description,omitempty"`
}

type packagePayload struct {
	PackageID       string `json:"id"`
	Name            string `json:"name"`
	Tokens          int64  `json:"tokens"`
	PriceMinorUnits int64  `json:"price_minor_units"`
	Currency        string `json:"currency"`
}

type transactionPayload struct {
	TransactionID  string         `json:"id"`
	Type           string         `json:"type"`
	Amount         int64          `json:"amount"`
	CreatedUnixUTC int64          `json:"created_unix_utc"`
	Metadata       map[string]any `json:"metadata"`
}
