package prefs

import "testing"

func TestPrefs_ActiveSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if p.ActiveSession() != nil {
		t.Fatal("expected no active session on fresh prefs")
	}

	want := ActiveSession{ServerID: "srv1", UserID: "user1", ServerURL: "http://jf.local:8096"}
	if err := p.SetActiveSession(want); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got := reopened.ActiveSession()
	if got == nil || *got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestPrefs_ClearActiveSession(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := p.SetActiveSession(ActiveSession{ServerID: "srv1", UserID: "user1"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := p.ClearActiveSession(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.ActiveSession() != nil {
		t.Fatal("expected cleared session pointer after reopen")
	}
}

func TestPrefs_Toggles(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if p.WifiOnly() || p.ManualOffline() {
		t.Fatal("expected toggles to default to false")
	}
	if err := p.SetWifiOnly(true); err != nil {
		t.Fatalf("set wifi-only failed: %v", err)
	}
	if err := p.SetManualOffline(true); err != nil {
		t.Fatalf("set manual offline failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.WifiOnly() || !reopened.ManualOffline() {
		t.Fatal("expected toggles to persist")
	}
}
