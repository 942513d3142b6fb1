// Package session mints and validates the HTTP session cookie issued after a
// successful identity verification.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession covers missing, expired, or tampered session tokens.
var ErrInvalidSession = errors.New("invalid session")

const defaultTTL = 7 * 24 * time.Hour

// Claims is the session payload carried in the signed cookie.
type Claims struct {
	UserID      string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	AvatarURL   string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Config aggregates session signing settings.
type Config struct {
	SigningKey    []byte
	Issuer        string
	CookieName    string
	TTL           time.Duration
	SecureCookies bool
}

// Manager issues and validates session tokens.
type Manager struct {
	cfg Config
}

// NewManager wires a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("session signing key is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("session issuer is required")
	}
	if cfg.CookieName == "" {
		return nil, fmt.Errorf("session cookie name is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Manager{cfg: cfg}, nil
}

// Issue signs a session token for the authenticated account.
func (manager *Manager) Issue(userID string, email string, displayName string, avatarURL string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidSession)
	}
	nowUTC := time.Now().UTC()
	claims := Claims{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    manager.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(nowUTC),
			ExpiresAt: jwt.NewNumericDate(nowUTC.Add(manager.cfg.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(manager.cfg.SigningKey)
}

// Validate parses and checks a session token.
func (manager *Manager) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(parsedToken *jwt.Token) (interface{}, error) {
		if _, ok := parsedToken.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method", ErrInvalidSession)
		}
		return manager.cfg.SigningKey, nil
	}, jwt.WithIssuer(manager.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

// SetCookie attaches the session token to the response.
func (manager *Manager) SetCookie(ctx *gin.Context, token string) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(manager.cfg.CookieName, token, int(manager.cfg.TTL.Seconds()), "/", "", manager.cfg.SecureCookies, true)
}

// ClearCookie destroys the session on logout.
func (manager *Manager) ClearCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(manager.cfg.CookieName, "", -1, "/", "", manager.cfg.SecureCookies, true)
}

// GinMiddleware validates the session cookie and stores the claims in the
// request context under contextKey.
func (manager *Manager) GinMiddleware(contextKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, err := ctx.Cookie(manager.cfg.CookieName)
		if err != nil || token == "" {
			abortUnauthorized(ctx, "missing session")
			return
		}
		claims, err := manager.Validate(token)
		if err != nil {
			abortUnauthorized(ctx, "invalid session")
			return
		}
		ctx.Set(contextKey, claims)
		ctx.Next()
	}
}

func abortUnauthorized(ctx *gin.Context, message string) {
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "unauthorized", "message": message},
	})
}
