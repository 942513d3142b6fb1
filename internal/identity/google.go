// Package identity verifies identity-provider assertions and maps them to
// stable account subjects.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrInvalidAssertion covers missing, malformed, or rejected credentials.
var ErrInvalidAssertion = errors.New("invalid identity assertion")

// Identity is the verified caller profile.
type Identity struct {
	SubjectID string
	Email     string
	Name      string
	AvatarURL string
}

// Verifier checks an opaque identity assertion token.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

type googleVerifier struct {
	clientID string
}

// NewGoogleVerifier returns a Verifier for Google Identity Services
// credentials issued for the given OAuth client id.
func NewGoogleVerifier(clientID string) (Verifier, error) {
	trimmed := strings.TrimSpace(clientID)
	if trimmed == "" {
		return nil, fmt.Errorf("google client id is required")
	}
	return &googleVerifier{clientID: trimmed}, nil
}

func (verifier *googleVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return Identity{}, ErrInvalidAssertion
	}
	payload, err := idtoken.Validate(ctx, credential, verifier.clientID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}
	verified := Identity{
		SubjectID: payload.Subject,
		Email:     claimString(payload.Claims, "email"),
		Name:      claimString(payload.Claims, "name"),
		AvatarURL: claimString(payload.Claims, "picture"),
	}
	if verified.SubjectID == "" {
		return Identity{}, ErrInvalidAssertion
	}
	return verified, nil
}

func claimString(claims map[string]interface{}, key string) string {
	value, _ := claims[key].(string)
	return value
}
