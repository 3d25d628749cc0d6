package lagoon

import (
	"errors"
	"testing"
)

func TestProvisionErrorString(t *testing.T) {
	tests := []struct {
		op        string
		sandboxID string
		want      string
	}{
		{"create", "", "provision: create: boom"},
		{"start", "sb-1", "provision: start sb-1: boom"},
	}
	for _, tt := range tests {
		e := &ProvisionError{Op: tt.op, SandboxID: tt.sandboxID, Err: errors.New("boom")}
		if got := e.Error(); got != tt.want {
			t.Errorf("ProvisionError{%q, %q}.Error() = %q, want %q", tt.op, tt.sandboxID, got, tt.want)
		}
	}
}

func TestBootstrapErrorString(t *testing.T) {
	e := &BootstrapError{SandboxID: "sb-1", Session: "supervisord-session", Err: errors.New("boom")}
	want := "bootstrap: session supervisord-session in sb-1: boom"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDirectoryErrorString(t *testing.T) {
	tests := []struct {
		op     string
		userID string
		want   string
	}{
		{"get", "u1", "directory: get u1: boom"},
		{"list", "", "directory: list: boom"},
	}
	for _, tt := range tests {
		e := &DirectoryError{Op: tt.op, UserID: tt.userID, Err: errors.New("boom")}
		if got := e.Error(); got != tt.want {
			t.Errorf("DirectoryError{%q, %q}.Error() = %q, want %q", tt.op, tt.userID, got, tt.want)
		}
	}
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("inner")
	for _, err := range []error{
		&ProvisionError{Op: "create", Err: inner},
		&BootstrapError{SandboxID: "sb-1", Session: "s", Err: inner},
		&DirectoryError{Op: "get", UserID: "u1", Err: inner},
	} {
		if !errors.Is(err, inner) {
			t.Errorf("%T should unwrap to inner error", err)
		}
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := &ProvisionError{Op: "start", SandboxID: "sb-1", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Error("ErrNotFound should survive wrapping in ProvisionError")
	}
	berr := &BootstrapError{SandboxID: "sb-1", Session: "s", Err: ErrSessionExists}
	if !errors.Is(berr, ErrSessionExists) {
		t.Error("ErrSessionExists should survive wrapping in BootstrapError")
	}
}
