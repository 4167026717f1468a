package profile

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Setenv("COURTDESK_HOME", "/tmp/cd")
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "clerk2", false},
		{"valid with hyphen", "district-court", false},
		{"valid with underscore", "judge_chambers", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"slash", "../etc", true},
		{"longest", strings.Repeat("a", 64), false},
		{"too long", strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNameSocketLength(t *testing.T) {
	t.Setenv("COURTDESK_HOME", "/tmp/"+strings.Repeat("d", 70))
	if err := ValidateName("district-court"); err == nil {
		t.Errorf("ValidateName() accepted socket path %s", SocketPath("district-court"))
	}
	if err := ValidateName("a"); err != nil {
		t.Errorf("ValidateName(a) error = %v", err)
	}
}
