package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DukeRupert/wellpass/internal/domain"
)

// ErrInvalidToken is returned when a token cannot be verified or carries no
// usable session.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the JWT payload of a session token.
type Claims struct {
	Role      string `json:"role"`
	CoachID   string `json:"coach_id,omitempty"`
	CoachName string `json:"coach_name,omitempty"`
	jwt.RegisteredClaims
}

// Session converts the claims to a domain session.
func (c Claims) Session() domain.Session {
	return domain.Session{
		Role:      domain.Role(c.Role),
		CoachID:   c.CoachID,
		CoachName: c.CoachName,
	}
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a signer/verifier for the given shared secret.
// Tokens issued by it expire after ttl.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the session.
func (t *Tokens) Issue(sess domain.Session, subject string) (string, error) {
	if !sess.Valid() {
		return "", fmt.Errorf("issue token: %w", ErrInvalidToken)
	}
	now := t.now()
	claims := Claims{
		Role:      string(sess.Role),
		CoachID:   sess.CoachID,
		CoachName: sess.CoachName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its session.
func (t *Tokens) Parse(raw string) (domain.Session, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenMalformed
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.Session{}, ErrInvalidToken
	}

	sess := claims.Session()
	if !sess.Valid() {
		return domain.Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return sess, nil
}
