package security

import (
	"path/filepath"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"records/note/n1.rec", false},
		{"objects/images/abc", false},
		{"", true},
		{"/etc/passwd", true},
		{"../outside", true},
		{"records/../../outside", true},
		{"records//double", true},
		{"records/./dot", true},
		{`records\win`, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestPathValidator_ResolveAndRel(t *testing.T) {
	root := t.TempDir()
	v, err := NewPathValidator(root)
	if err != nil {
		t.Fatalf("NewPathValidator() error = %v", err)
	}

	full, err := v.Resolve("records/session/s1.rec")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := filepath.Join(v.Root(), "records", "session", "s1.rec"); full != want {
		t.Errorf("Resolve() = %s, want %s", full, want)
	}

	key, err := v.Rel(full)
	if err != nil {
		t.Fatalf("Rel() error = %v", err)
	}
	if key != "records/session/s1.rec" {
		t.Errorf("Rel() = %s", key)
	}

	if _, err := v.Rel(filepath.Dir(v.Root())); err == nil {
		t.Error("Rel() outside root should fail")
	}
	if _, err := v.Resolve("../escape"); err == nil {
		t.Error("Resolve() traversal should fail")
	}
	if v.Contains(filepath.Join(filepath.Dir(v.Root()), "sibling")) {
		t.Error("Contains() accepted a sibling directory")
	}
}
