package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped into every operator token.
const Issuer = "modmail"

// Claims represents the claims in an operator token
type Claims struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and validates operator tokens with a shared HMAC secret.
type TokenService struct {
	secretKey     []byte
	TokenDuration time.Duration
	now           func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: 12 * time.Hour,
		now:           time.Now,
	}
}

// IssueToken signs a token for operatorID that expires after TokenDuration.
func (ts *TokenService) IssueToken(operatorID, name string) (string, time.Time, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return "", time.Time{}, errors.New("operator id is required")
	}
	if len(ts.secretKey) == 0 {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}

	now := ts.now()
	expiresAt := now.Add(ts.TokenDuration)
	claims := &Claims{
		OperatorID: operatorID,
		Name:       strings.TrimSpace(name),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   operatorID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns the operator it names
func (ts *TokenService) ValidateToken(tokenString string) (*Operator, error) {
	if len(ts.secretKey) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(ts.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	id := claims.OperatorID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, errors.New("token names no operator")
	}
	return &Operator{ID: id, Name: claims.Name}, nil
}
