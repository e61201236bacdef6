package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	jwtAuth, err := NewSessionJWT("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionJWT: %v", err)
	}

	token, err := jwtAuth.GenerateToken("tenant-1", "user-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := jwtAuth.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.UserID != "user-1" {
		t.Errorf("claims = %+v, want tenant-1/user-1", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewSessionJWT("secret-a", time.Hour)
	verifier, _ := NewSessionJWT("secret-b", time.Hour)

	token, err := issuer.GenerateToken("tenant-1", "user-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := verifier.VerifyToken(token); err == nil {
		t.Fatal("token signed with a different secret verified")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	jwtAuth, _ := NewSessionJWT("test-secret", time.Hour)
	jwtAuth.TokenExpiry = -time.Minute

	token, err := jwtAuth.GenerateToken("tenant-1", "user-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := jwtAuth.VerifyToken(token); err == nil {
		t.Fatal("expired token verified")
	}
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"", "", true},
		{"abc123", "", true},
		{"Bearer ", "", true},
		{"Basic abc123", "", true},
	}

	for _, tc := range cases {
		got, err := ExtractToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ExtractToken(%q) = %q, want error", tc.header, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ExtractToken(%q) = %q, %v, want %q", tc.header, got, err, tc.want)
		}
	}
}

func TestAPIKeyHashRoundTrip(t *testing.T) {
	hash, err := HashAPIKey("sk-flowhub-test-key")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Fatalf("hash format = %q", hash)
	}

	ok, err := VerifyAPIKey(hash, "sk-flowhub-test-key")
	if err != nil || !ok {
		t.Fatalf("VerifyAPIKey(correct) = %v, %v", ok, err)
	}

	ok, err = VerifyAPIKey(hash, "sk-flowhub-wrong-key")
	if err != nil {
		t.Fatalf("VerifyAPIKey(wrong): %v", err)
	}
	if ok {
		t.Fatal("wrong key verified")
	}
}

func TestVerifyAPIKeyRejectsMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "plaintext", "argon2id$onlyonepart", "bcrypt$a$b"} {
		if _, err := VerifyAPIKey(hash, "key"); err == nil {
			t.Errorf("VerifyAPIKey(%q) accepted a malformed hash", hash)
		}
	}
}
