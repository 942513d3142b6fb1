package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/thanglish/internal/billing"
	"github.com/MarkoPoloResearchLab/thanglish/internal/identity"
	"github.com/MarkoPoloResearchLab/thanglish/internal/session"
	"github.com/MarkoPoloResearchLab/thanglish/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/thanglish/internal/transcribe"
	"github.com/MarkoPoloResearchLab/thanglish/pkg/entitlement"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Run boots the API server using the supplied configuration.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	entitlements, err := entitlement.NewService(store, clock,
		entitlement.WithPerMinuteRateCents(cfg.PerMinuteRateCents),
		entitlement.WithOperationLogger(&zapOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("entitlement service init: %w", err)
	}

	verifier, err := identity.NewGoogleVerifier(cfg.GoogleClientID)
	if err != nil {
		return fmt.Errorf("identity verifier init: %w", err)
	}

	sessions, err := session.NewManager(session.Config{
		SigningKey:    []byte(cfg.SessionSigningKey),
		Issuer:        cfg.SessionIssuer,
		CookieName:    cfg.SessionCookieName,
		SecureCookies: cfg.SecureCookies,
	})
	if err != nil {
		return fmt.Errorf("session manager init: %w", err)
	}

	gateway, err := billing.New(billing.Config{
		KeyID:     cfg.GatewayKeyID,
		KeySecret: cfg.GatewayKeySecret,
		BaseURL:   cfg.GatewayBaseURL,
	})
	if err != nil {
		return fmt.Errorf("billing gateway init: %w", err)
	}

	generator, err := transcribe.NewClient(transcribe.Config{
		Endpoint: cfg.GenerativeEndpoint,
		APIKey:   cfg.GenerativeAPIKey,
		Model:    cfg.GenerativeModel,
	})
	if err != nil {
		return fmt.Errorf("transcription client init: %w", err)
	}

	handler := &httpHandler{
		logger:       logger,
		cfg:          cfg,
		store:        store,
		entitlements: entitlements,
		sessions:     sessions,
		verifier:     verifier,
		gateway:      gateway,
		generator:    generator,
	}

	router := setupRouter(cfg, handler, sessions)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("thanglishd listening", zap.String("addr", cfg.ListenAddr))
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

func setupRouter(cfg Config, handler *httpHandler, sessions *session.Manager) *gin.Engine {
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

	router.POST("/auth/google", handler.handleGoogleLogin)
	if cfg.DevLoginEnabled {
		router.POST("/auth/dev-login", handler.handleDevLogin)
	}

	authenticated := router.Group("/")
	authenticated.Use(sessions.GinMiddleware(sessionClaimsKey))

	authenticated.POST("/auth/logout", handler.handleLogout)
	authenticated.GET("/status", handler.handleStatus)
	authenticated.POST("/subscription/start-trial", handler.handleStartTrial)
	authenticated.POST("/subscription/create-order", handler.handleCreateOrder)
	authenticated.POST("/subscription/confirm", handler.handleConfirm)
	authenticated.POST("/usage/consume", handler.handleConsume)
	authenticated.POST("/transcribe", handler.handleTranscribe)

	if cfg.StaticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.StaticDir))))
	}

	return router
}

// zapOperationLogger bridges entitlement operation callbacks onto zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry entitlement.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID),
		zap.String("status", entry.Status),
	}
	if entry.Minutes > 0 {
		fields = append(fields, zap.Int64("minutes", entry.Minutes))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", string(entry.Source)))
	}
	if entry.AmountCents != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.AmountCents))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("entitlement operation failed", fields...)
		return
	}
	adapter.logger.Info("entitlement operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "thanglish.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
