package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSessionIDFollowsConvention(t *testing.T) {
	id := NewSessionID(time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC))
	if !ValidSessionID(id) {
		t.Fatalf("generated id %q does not match convention", id)
	}
	if id[:20] != "ses-20261019-101500" {
		t.Fatalf("unexpected timestamp prefix in %q", id)
	}
	other := NewSessionID(time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC))
	if other == id {
		t.Fatalf("expected unique suffixes, got %q twice", id)
	}
}

func TestSessionIDsSkipsForeignEntries(t *testing.T) {
	ws := New(t.TempDir())
	valid := []string{"ses-20261019-101500-0a1b2c3d", "ses-20261018-090000-ffffffff"}
	for _, id := range valid {
		if err := ws.EnsureSession(id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(ws.SessionsDir(), "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(ws.SessionsDir(), "ses-bogus"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.SessionsDir(), "ses-20261019-101500-12345678"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ids, err := ws.SessionIDs()
	if err != nil {
		t.Fatalf("session ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != valid[1] || ids[1] != valid[0] {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestSessionIDsWithoutSessionsDir(t *testing.T) {
	ws := New(t.TempDir())
	ids, err := ws.SessionIDs()
	if err != nil {
		t.Fatalf("session ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}

func TestEnsureSessionRejectsInvalidID(t *testing.T) {
	ws := New(t.TempDir())
	if err := ws.EnsureSession("../escape"); err == nil {
		t.Fatalf("expected invalid id error")
	}
}
