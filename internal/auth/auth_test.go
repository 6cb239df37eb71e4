package auth

import (
	"testing"
	"time"
)

func TestLoginAndValidate(t *testing.T) {
	m := NewManager("test-secret", 0)

	resp, err := m.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}

	claims, err := m.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Username != "admin" || claims.Role != "admin" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestConfiguredTokenTTL(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	resp, err := m.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}

	claims, err := m.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("token lifetime = %v, want 1h", got)
	}
}

func TestZeroTokenTTLFallsBack(t *testing.T) {
	m := NewManager("test-secret", 0)
	resp, err := m.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.ExpiresIn != int64((24 * time.Hour).Seconds()) {
		t.Errorf("ExpiresIn = %d, want 24h in seconds", resp.ExpiresIn)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	m := NewManager("test-secret", 0)
	if _, err := m.Login("admin", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, err := m.Login("nobody", "admin"); err == nil {
		t.Fatal("expected login failure for unknown user")
	}
}

func TestValidateRejectsForgedToken(t *testing.T) {
	m := NewManager("test-secret", 0)
	other := NewManager("other-secret", 0)

	resp, err := other.Login("admin", "admin")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := m.ValidateToken(resp.Token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestCreateUserAndPermissions(t *testing.T) {
	m := NewManager("test-secret", 0)

	if _, err := m.CreateUser("eve", "pw", "no-such-role"); err == nil {
		t.Fatal("expected unknown role error")
	}
	user, err := m.CreateUser("ops", "hunter2", "operator")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := m.CreateUser("ops", "again", "viewer"); err == nil {
		t.Fatal("expected duplicate username error")
	}

	token, err := m.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	cases := []struct {
		permission string
		want       bool
	}{
		{"governance:write", true},
		{"thresholds:write", true},
		{"users:write", false},
	}
	for _, tc := range cases {
		if got := m.HasPermission(claims, tc.permission); got != tc.want {
			t.Errorf("HasPermission(%q) = %v, want %v", tc.permission, got, tc.want)
		}
	}
}

func TestWildcardPermissions(t *testing.T) {
	m := NewManager("test-secret", 0)
	claims := &Claims{Permissions: []string{"governance:*"}}
	if !m.HasPermission(claims, "governance:read") {
		t.Error("resource wildcard should match")
	}
	if m.HasPermission(claims, "thresholds:read") {
		t.Error("wildcard must not cross resources")
	}
	admin := &Claims{Permissions: []string{"*:*"}}
	if !m.HasPermission(admin, "anything:at_all") {
		t.Error("global wildcard should match everything")
	}
}
