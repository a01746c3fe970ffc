package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestAuditorHashesUserID(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogTokenIssued("user-12345", "client-1", "203.0.113.7", "read write")

	out := buf.String()
	if strings.Contains(out, "user-12345") {
		t.Error("user id logged in the clear")
	}
	if !strings.Contains(out, "token_issued") {
		t.Error("event type missing from the log")
	}
	if !strings.Contains(out, "client-1") {
		t.Error("client id missing from the log")
	}
}

func TestAuditorDisabled(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), false)

	auditor.LogAuthFailure("user-1", "client-1", "203.0.113.7", "bad_password")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestAuditorNilReceiver(t *testing.T) {
	var auditor *Auditor
	// Must not panic.
	auditor.LogTokenRevoked("user-1", "client-1", "", "bearer")
	auditor.LogIntrospectionDenied("client-1", "")
}

func TestAuditorRefreshLogsDroppedScopes(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogTokenRefreshed("user-1", "client-1", "read", []string{"write"})

	out := buf.String()
	if !strings.Contains(out, "token_refreshed") {
		t.Error("event type missing from the log")
	}
	if !strings.Contains(out, "scopes_dropped") || !strings.Contains(out, "write") {
		t.Errorf("dropped scopes missing from the log: %s", out)
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	a := hashForLogging("alice")
	b := hashForLogging("alice")
	if a != b {
		t.Error("hash must be deterministic")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a == hashForLogging("bob") {
		t.Error("different inputs must not collide trivially")
	}
}
