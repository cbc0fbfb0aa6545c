package hash

import (
	"strings"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "valid password", password: "SecurePass123!", wantErr: false},
		{name: "minimum length", password: "Pass123!", wantErr: false},
		{name: "too short", password: "short", wantErr: true},
		{name: "empty", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Hash(tt.password)

			if tt.wantErr {
				if err == nil {
					t.Error("Hash() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if h == "" || h == tt.password {
				t.Errorf("Hash() returned %q", h)
			}
			if !strings.HasPrefix(h, "$2a$12$") {
				t.Errorf("Hash() unexpected bcrypt prefix: %s", h[:7])
			}
		})
	}
}

func TestCompare(t *testing.T) {
	password := "MySecurePassword123!"
	h, err := Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := Compare(h, password); err != nil {
		t.Errorf("Compare() with correct password: %v", err)
	}
	if err := Compare(h, "WrongPassword"); err == nil {
		t.Error("Compare() with wrong password expected error")
	}
	if err := Compare(h, strings.ToUpper(password)); err == nil {
		t.Error("Compare() should be case sensitive")
	}
}
