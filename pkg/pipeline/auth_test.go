package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestParseBearerClaims_Valid(t *testing.T) {
	secret := []byte("test-secret")
	tok := signToken(t, secret, jwt.MapClaims{
		"tenant": "tenant-a",
		"sub":    "user-a",
		"scopes": []interface{}{"infer", "read"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := ParseBearerClaims(tok, secret)
	if err != nil {
		t.Fatalf("ParseBearerClaims: %v", err)
	}
	if claims.Tenant != "tenant-a" || claims.User != "user-a" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %v", claims.Scopes)
	}
}

func TestParseBearerClaims_WrongSecretFails(t *testing.T) {
	tok := signToken(t, []byte("right-secret"), jwt.MapClaims{"tenant": "t1", "sub": "u1"})
	if _, err := ParseBearerClaims(tok, []byte("wrong-secret")); err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestParseBearerClaims_MissingTenantFails(t *testing.T) {
	secret := []byte("test-secret")
	tok := signToken(t, secret, jwt.MapClaims{"sub": "u1"})
	if _, err := ParseBearerClaims(tok, secret); err == nil {
		t.Fatalf("expected missing tenant claim to be rejected")
	}
}

func TestPipeline_Admit_RejectsBearerTenantMismatch(t *testing.T) {
	p := newTestPipeline(t)
	secret := []byte("test-secret")
	p.JWTSecret = secret

	tok := signToken(t, secret, jwt.MapClaims{"tenant": "tenant-other", "sub": "user-a"})
	req := Request{
		RequestID:   "r6",
		Tenant:      "tenant-a",
		User:        "user-a",
		Endpoint:    "/v1/infer",
		Signature:   "sig-6",
		ModelFamily: "gpt",
		PromptJSON:  []byte("hi"),
		BearerToken: tok,
	}

	d, err := p.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if d.Allowed || d.Stage != StageAuth {
		t.Fatalf("expected auth rejection on tenant mismatch, got %+v", d)
	}
}
