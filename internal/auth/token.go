package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeSession = "session"
	tokenTypeReset   = "reset"
)

// TokenIssuer signs and verifies the two bearer credentials the service
// hands out: long-lived session tokens and short-lived reset-authorization
// tokens. Both use the same HS256 secret; the typ claim keeps the two trust
// domains apart so a session token can never authorize a password reset.
type TokenIssuer struct {
	secret     []byte
	sessionTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret string, sessionTTL, resetTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		resetTTL:   resetTTL,
		now:        time.Now,
	}
}

func (t *TokenIssuer) IssueSession(accountID string) (string, error) {
	return t.issue(accountID, tokenTypeSession, t.sessionTTL)
}

func (t *TokenIssuer) IssueReset(accountID string) (string, error) {
	return t.issue(accountID, tokenTypeReset, t.resetTTL)
}

func (t *TokenIssuer) issue(accountID, tokenType string, ttl time.Duration) (string, error) {
	now := t.now().UTC()
	claims := jwt.MapClaims{
		"sub": accountID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": tokenType,
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	return encoded, nil
}

// VerifySession returns the account id carried by a valid session token.
// Expiry and malformed/tampered tokens collapse into one failure: session
// holders get no more detail than "log in again".
func (t *TokenIssuer) VerifySession(token string) (string, error) {
	accountID, err := t.verify(token, tokenTypeSession)
	if err != nil {
		return "", ErrSessionInvalid
	}
	return accountID, nil
}

// VerifyReset returns the account id carried by a valid reset-authorization
// token. Expired and invalid are distinct failures so the client can tell
// the user to request a fresh code versus rejecting a bad link outright.
func (t *TokenIssuer) VerifyReset(token string) (string, error) {
	accountID, err := t.verify(token, tokenTypeReset)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrResetTokenExpired
		}
		return "", ErrResetTokenInvalid
	}
	return accountID, nil
}

func (t *TokenIssuer) verify(token, wantType string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }),
	)
	// An expired-claims error still means the signature checked out and the
	// claims decoded, so the typ mismatch wins: a stale token from the
	// wrong trust domain is invalid, not expired.
	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		if err == nil || errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("unexpected token type %q", tokenType)
		}
	}
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token is not valid")
	}

	accountID, _ := claims["sub"].(string)
	if accountID == "" {
		return "", errors.New("token has no subject")
	}

	return accountID, nil
}
