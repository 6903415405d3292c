package tokenstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
)

var (
	// ErrMalformedToken indicates the access token could not be decoded.
	ErrMalformedToken = errors.New("malformed access token")
	// ErrSubjectMissing indicates the token decoded but names no subject.
	ErrSubjectMissing = errors.New("token subject missing")
)

// Claims are the access-token claims the client reads. The signature is not
// verified client-side; the backend remains the authority on validity.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId,omitempty"`
	LegacyID string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

var unverifiedParser = jwt.NewParser()

// Decode parses the token payload without verifying its signature.
func Decode(token string) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrMalformedToken
	}
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// IsExpired reports whether the access token is past its exp claim.
// Tokens that fail to decode or carry no exp are treated as expired.
func IsExpired(c Credential) bool {
	return IsExpiredAt(c, time.Now())
}

// IsExpiredAt is IsExpired against an explicit clock reading.
func IsExpiredAt(c Credential, now time.Time) bool {
	return ExpiresWithinAt(c, 0, now)
}

// ExpiresWithin reports whether the token expires within d from now.
func ExpiresWithin(c Credential, d time.Duration) bool {
	return ExpiresWithinAt(c, d, time.Now())
}

// ExpiresWithinAt is ExpiresWithin against an explicit clock reading.
func ExpiresWithinAt(c Credential, d time.Duration, now time.Time) bool {
	claims, err := Decode(c.AccessToken)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !now.Add(d).Before(claims.ExpiresAt.Time)
}

// DecodeSession derives the session view of a credential.
func DecodeSession(c Credential) (domain.Session, error) {
	claims, err := Decode(c.AccessToken)
	if err != nil {
		return domain.Session{}, err
	}
	subject := firstNonEmpty(claims.Subject, claims.UserID, claims.LegacyID)
	if subject == "" {
		return domain.Session{}, ErrSubjectMissing
	}
	session := domain.Session{
		SubjectID:   subject,
		DisplayName: firstNonEmpty(claims.Name, claims.Username),
		Email:       strings.TrimSpace(claims.Email),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return session, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
