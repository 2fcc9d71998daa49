package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	Algorithm    string // "RS256" or "HS256"
	SecretKey    string // HS256
	PublicKeyPEM string // RS256
}

// Verifier checks token signatures and extracts claims.
type Verifier struct {
	config    VerifierConfig
	publicKey *rsa.PublicKey
}

// NewVerifier creates a JWT verifier for one algorithm.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: config}

	switch config.Algorithm {
	case "RS256":
		if config.PublicKeyPEM == "" {
			return nil, fmt.Errorf("RS256 requires a public key")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies a JWT and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	mapClaims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, mapClaims, v.keyFunc,
		jwt.WithValidMethods([]string{v.config.Algorithm}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return extractClaims(mapClaims)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch v.config.Algorithm {
	case "RS256":
		return v.publicKey, nil
	case "HS256":
		return []byte(v.config.SecretKey), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", v.config.Algorithm)
	}
}

// extractClaims reads sub plus scopes, accepting either a "scopes" array or
// an OAuth-style space separated "scope" string.
func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	var scopes []string
	switch raw := claims["scopes"].(type) {
	case nil:
		if s, ok := claims["scope"].(string); ok {
			scopes = strings.Fields(s)
		}
	case []interface{}:
		for _, item := range raw {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid scopes claim: not a string")
			}
			scopes = append(scopes, str)
		}
	default:
		return nil, fmt.Errorf("invalid scopes claim: not a string array")
	}

	if len(scopes) == 0 {
		return nil, fmt.Errorf("token carries no scopes")
	}
	for _, scope := range scopes {
		if scope != ScopeRead && scope != ScopeWrite {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return &Claims{Subject: sub, Scopes: scopes}, nil
}
