// Package magiclink signs and verifies the sign-in links embedded in reminder emails.
package magiclink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiry is how long a link stays valid.
const DefaultExpiry = 7 * 24 * time.Hour

var (
	ErrSecretNotSet  = errors.New("APP_SECRET is not set")
	ErrInvalidToken  = errors.New("invalid magic link token")
	ErrEmailMismatch = errors.New("email does not match token")
)

// Claims is the token payload.
type Claims struct {
	Email string `json:"email"`
	To    string `json:"to,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	appURL string
	expiry time.Duration
	now    func() time.Time
}

func NewSigner(secret, appURL string) *Signer {
	return &Signer{
		secret: []byte(secret),
		appURL: strings.TrimRight(appURL, "/"),
		expiry: DefaultExpiry,
		now:    time.Now,
	}
}

// Sign returns a token for the normalized email that redirects to target after sign-in.
func (s *Signer) Sign(email, target string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSecretNotSet
	}
	now := s.now()
	claims := Claims{
		Email: normalize(email),
		To:    target,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// LinkFor builds APP_URL/auth/magic?e=<email>&t=<token>&to=<target>.
func (s *Signer) LinkFor(email, target string) (string, error) {
	if target == "" {
		target = "/me"
	}
	token, err := s.Sign(email, target)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("e", normalize(email))
	q.Set("t", token)
	q.Set("to", target)
	return s.appURL + "/auth/magic?" + q.Encode(), nil
}

// Verify checks the signature and expiry of token and that it was issued for email.
func (s *Signer) Verify(token, email string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrSecretNotSet
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Email != normalize(email) {
		return nil, ErrEmailMismatch
	}
	return claims, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
