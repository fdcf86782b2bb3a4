package provider

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
		wantErr  bool
	}{
		{name: "google", input: "google", expected: Google},
		{name: "outlook", input: "outlook", expected: Outlook},
		{name: "unknown provider", input: "caldav", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "case sensitive", input: "Google", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := ParseKind(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKind(%q) expected error, got %q", tt.input, kind)
				}
				if !errors.Is(err, ErrInvalidKind) {
					t.Errorf("ParseKind(%q) error = %v, want ErrInvalidKind", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q) unexpected error: %v", tt.input, err)
			}
			if kind != tt.expected {
				t.Errorf("ParseKind(%q) = %q, expected %q", tt.input, kind, tt.expected)
			}
		})
	}
}

func TestRegistryGet(t *testing.T) {
	google := NewGoogleClient("id", "secret")
	registry := Registry{Google: google}

	client, err := registry.Get(Google)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != google {
		t.Error("expected registered google client")
	}

	if _, err := registry.Get(Outlook); err == nil {
		t.Error("expected error for unregistered provider")
	}
}
