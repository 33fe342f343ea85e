package pipeline

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// BearerClaims is the subset of a validated bearer token's claims the
// pipeline cares about for tenant/user binding.
type BearerClaims struct {
	Tenant string
	User   string
	Scopes []string
}

// ParseBearerClaims validates tokenString against secret (HMAC) and
// extracts the tenant/user/scope claims the admission pipeline binds the
// request to. An invalid or expired token is always an error: callers must
// treat a parse failure as StageAuth denial, never fall through.
func ParseBearerClaims(tokenString string, secret []byte) (BearerClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("pipeline: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return BearerClaims{}, fmt.Errorf("pipeline: bearer token invalid: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return BearerClaims{}, fmt.Errorf("pipeline: bearer token claims malformed")
	}

	tenant, _ := claims["tenant"].(string)
	user, _ := claims["sub"].(string)
	if tenant == "" {
		return BearerClaims{}, fmt.Errorf("pipeline: bearer token missing tenant claim")
	}

	var scopes []string
	if raw, ok := claims["scopes"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}

	return BearerClaims{Tenant: tenant, User: user, Scopes: scopes}, nil
}
