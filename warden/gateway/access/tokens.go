// Package access issues and validates the bearer credentials accepted by the
// gateway: short-lived JWT service tokens signed with the platform secret key.
package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ClaimsKey contextKey = "claims"

// ServiceClaims is the claim set carried by a worldsmith service token.
type ServiceClaims struct {
	jwt.Claims
	Service  string `json:"svc"`
	Expiry   int64  `json:"exp"`
	IssuedAt int64  `json:"iat"`
}

func (c ServiceClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Expiry, 0)), nil
}

func (c ServiceClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c ServiceClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c ServiceClaims) GetIssuer() (string, error) {
	return "", nil
}

func (c ServiceClaims) GetSubject() (string, error) {
	return c.Service, nil
}

func (c ServiceClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}

// LoadSecretKey reads the signing key from path, generating and persisting a
// new 32-byte key when the file does not exist yet.
func LoadSecretKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, generate a new key
		if os.IsNotExist(err) {
			b := make([]byte, 32)
			_, err := rand.Read(b)
			if err != nil {
				return nil, fmt.Errorf("failed to generate random secret key: %w", err)
			}
			if err := os.WriteFile(path, b, 0600); err != nil {
				return nil, fmt.Errorf("failed to write secret key: %w", err)
			}
			key = b
		} else {
			return nil, fmt.Errorf("failed to read secret key: %w", err)
		}
	}
	return key, nil
}

// TokenService signs and verifies service tokens.
type TokenService struct {
	secretKey []byte
	expiry    time.Duration
}

func NewTokenService(secretKey []byte, expiry time.Duration) *TokenService {
	return &TokenService{
		secretKey: secretKey,
		expiry:    expiry,
	}
}

// Issue creates a signed token identifying the named service. Returns the
// token string and its expiry time.
func (s *TokenService) Issue(serviceName string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(s.expiry)

	claims := jwt.MapClaims{
		"svc": serviceName,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign service token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses and verifies a token string, returning its claims.
func (s *TokenService) Validate(tokenString string) (*ServiceClaims, error) {
	var claimValue ServiceClaims
	token, err := jwt.ParseWithClaims(tokenString, &claimValue, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid service token")
	}

	return &claimValue, nil
}
