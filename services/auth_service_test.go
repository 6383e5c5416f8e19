package services

import (
	"testing"

	"cityflow/traffic-classifier/config"
)

func newTestAuthService() *AuthService {
	return NewAuthService(config.JWTConfig{
		Secret:      "test-secret-key",
		ExpiryHours: 24,
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestAuthService()

	token, err := svc.GenerateToken("dashboard", "viewer")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if token == "" {
		t.Fatal("token should not be empty")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "dashboard")
	}
	if claims.Role != "viewer" {
		t.Errorf("Role = %q, want %q", claims.Role, "viewer")
	}
}

func TestGenerateTokenRequiresSubject(t *testing.T) {
	svc := newTestAuthService()
	if _, err := svc.GenerateToken("", "viewer"); err == nil {
		t.Error("expected error for empty subject")
	}
}

func TestValidateTokenInvalid(t *testing.T) {
	svc := newTestAuthService()

	_, err := svc.ValidateToken("invalid.token.string")
	if err == nil {
		t.Error("expected error for invalid token")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc1 := NewAuthService(config.JWTConfig{Secret: "secret-1", ExpiryHours: 24})
	svc2 := NewAuthService(config.JWTConfig{Secret: "secret-2", ExpiryHours: 24})

	token, _ := svc1.GenerateToken("dashboard", "viewer")

	_, err := svc2.ValidateToken(token)
	if err == nil {
		t.Error("expected error when validating with wrong secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewAuthService(config.JWTConfig{Secret: "test-secret-key", ExpiryHours: -1})

	token, err := svc.GenerateToken("dashboard", "viewer")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestTokenContainsClaims(t *testing.T) {
	svc := newTestAuthService()

	token, _ := svc.GenerateToken("ops-console", "admin")
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.Subject != "ops-console" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q", claims.Role)
	}
	if claims.Issuer != "cityflow" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
	if claims.ExpiresAt == nil {
		t.Error("ExpiresAt should be set")
	}
	if claims.IssuedAt == nil {
		t.Error("IssuedAt should be set")
	}
}
