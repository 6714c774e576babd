package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultReceiptTTL = 12 * time.Hour

var ErrInvalidReceipt = errors.New("invalid or expired verification receipt")

// ReceiptClaims is the payload of a token handed out after a successful verification.
type ReceiptClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ReceiptIssuer signs HS256 receipts so other services can trust the second factor
// without calling back into this one.
type ReceiptIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewReceiptIssuer(secret string, ttl time.Duration) *ReceiptIssuer {
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	return &ReceiptIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (r *ReceiptIssuer) Issue(email string) (string, error) {
	now := r.now()
	claims := ReceiptClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

func (r *ReceiptIssuer) Parse(token string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// HMAC only
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.now))
	if err != nil || !parsed.Valid || claims.Email == "" {
		return nil, ErrInvalidReceipt
	}
	return claims, nil
}
