// Package callback delivers verdicts to producer callback URLs.
package callback

import (
	stderrors "errors"
	"fmt"
	"time"

	"codejudger/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every callback token.
const Issuer = "codejudger"

// Signer mints and checks HS256 callback tokens bound to one submission.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns nil when secret is empty; a nil Signer mints nothing.
func NewSigner(secret string, ttl time.Duration) *Signer {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint issues a token whose subject is the submission id.
func (s *Signer) Mint(submissionID string) (string, error) {
	if s == nil {
		return "", nil
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   submissionID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrapf(err, errors.CallbackToken, "sign callback token")
	}
	return raw, nil
}

// Verify checks that raw was minted by this signer for submissionID and has not expired.
func (s *Signer) Verify(raw, submissionID string) error {
	if s == nil {
		return errors.New(errors.CallbackToken).WithMessage("callback signing is not configured")
	}
	if raw == "" {
		return errors.New(errors.CallbackToken)
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithSubject(submissionID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return errors.Wrapf(err, errors.CallbackToken, "callback token expired")
		}
		return errors.Wrap(err, errors.CallbackToken)
	}
	return nil
}

// Expired reports whether err came from verifying a token past its expiry.
func Expired(err error) bool {
	return stderrors.Is(err, jwt.ErrTokenExpired)
}
