package auth

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv(secretEnvVariable, value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndParseToken(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken(42, "administrator", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate failed: %v", err)
	}
	id, err := claims.UserID()
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if id != 42 {
		t.Fatalf("unexpected user id: %d", id)
	}
	if claims.Role != "administrator" {
		t.Fatalf("unexpected role: %q", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("expected token id claim")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	withSecret(t, "test-secret")

	if _, err := GenerateToken(0, "user", time.Minute); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if _, err := GenerateToken(1, "user", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	withSecret(t, "test-secret")

	for _, token := range []string{"", "   ", "not-a-token", "a.b.c"} {
		if _, err := ParseAndValidate(token); err != ErrInvalidToken {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseRejectsExpired(t *testing.T) {
	withSecret(t, "test-secret")

	token, err := GenerateToken(7, "user", time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	withSecret(t, "secret-one")
	token, err := GenerateToken(7, "user", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	withSecret(t, "secret-two")
	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	withSecret(t, "")

	if _, err := GenerateToken(1, "user", time.Minute); err != errMissingSecret {
		t.Fatalf("expected errMissingSecret, got %v", err)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestPasswordLimits(t *testing.T) {
	long := strings.Repeat("a", 73)
	if _, err := HashPassword(long); err != errPasswordTooLong {
		t.Fatalf("expected errPasswordTooLong, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", 72)); err != nil {
		t.Fatalf("72-byte password rejected: %v", err)
	}
	// A missing hash verifies exactly like a mismatch.
	if err := VerifyPassword("", "anything"); err != bcrypt.ErrMismatchedHashAndPassword {
		t.Fatalf("expected mismatch error for empty hash, got %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(t.Context(), 9, "user")
	id, ok := UserIDFromContext(ctx)
	if !ok || id != 9 {
		t.Fatalf("unexpected user id: %d (%v)", id, ok)
	}
	if role := RoleFromContext(ctx); role != "user" {
		t.Fatalf("unexpected role: %q", role)
	}
	if _, ok := UserIDFromContext(t.Context()); ok {
		t.Fatal("expected no user id on empty context")
	}
}
