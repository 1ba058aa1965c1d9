package lockmgr

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager() *Manager {
	return New(nil, zerolog.Nop())
}

func TestCreateThenReleaseUnlocks(t *testing.T) {
	m := newTestManager()
	l, err := m.Create("/a.txt", Exclusive, Depth0, "<D:href>me</D:href>", time.Minute, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Locked("/a.txt") {
		t.Fatal("expected /a.txt to be locked")
	}
	m.Release(l.Token)
	if m.Locked("/a.txt") {
		t.Fatal("expected /a.txt to be unlocked after release")
	}
	if _, err := m.Create("/a.txt", Exclusive, Depth0, "", time.Minute, "alice"); err != nil {
		t.Fatalf("expected a fresh lock to succeed after release, got %v", err)
	}
}

func TestExclusiveExcludesEverything(t *testing.T) {
	m := newTestManager()
	if _, err := m.Create("/a.txt", Exclusive, Depth0, "", time.Minute, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("/a.txt", Shared, Depth0, "", time.Minute, "bob"); err != ErrLocked {
		t.Fatalf("got %v, want ErrLocked", err)
	}
	if _, err := m.Create("/a.txt", Exclusive, Depth0, "", time.Minute, "bob"); err != ErrLocked {
		t.Fatalf("got %v, want ErrLocked", err)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	m := newTestManager()
	if _, err := m.Create("/a.txt", Shared, Depth0, "", time.Minute, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("/a.txt", Shared, Depth0, "", time.Minute, "bob"); err != nil {
		t.Fatalf("a second shared lock should succeed, got %v", err)
	}
	if _, err := m.Create("/a.txt", Exclusive, Depth0, "", time.Minute, "carol"); err != ErrLocked {
		t.Fatalf("got %v, want ErrLocked for exclusive against shared locks", err)
	}
}

func TestDepthInfinityLocksDescendants(t *testing.T) {
	m := newTestManager()
	if _, err := m.Create("/d/", Exclusive, DepthInfinity, "", time.Minute, "alice"); err != nil {
		t.Fatal(err)
	}
	if !m.Locked("/d/a.txt") {
		t.Error("expected /d/a.txt to be locked via the depth-infinity ancestor lock")
	}
	if m.Locked("/other") {
		t.Error("expected /other to remain unlocked")
	}
}

func TestHasTokenMatchesDescendant(t *testing.T) {
	m := newTestManager()
	l, err := m.Create("/d/", Exclusive, DepthInfinity, "", time.Minute, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasToken("/d/a.txt", l.Token) {
		t.Error("expected the ancestor lock's token to match a descendant")
	}
	if m.HasToken("/d/a.txt", "opaquelocktoken:bogus") {
		t.Error("an unrelated token should not match")
	}
}

func TestExpiredLockIsReaped(t *testing.T) {
	m := newTestManager()
	fixed := time.Now()
	m.now = func() time.Time { return fixed }
	l, err := m.Create("/a.txt", Exclusive, Depth0, "", time.Millisecond, "alice")
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return fixed.Add(time.Hour) }
	if m.Locked("/a.txt") {
		t.Error("expected the lock to have expired")
	}
	if _, err := m.Refresh(l.Token, time.Minute); err != ErrNoSuchLock {
		t.Errorf("got %v, want ErrNoSuchLock for a refresh of an expired lock", err)
	}
}

func TestRefresh(t *testing.T) {
	m := newTestManager()
	l, err := m.Create("/a.txt", Exclusive, Depth0, "", time.Second, "alice")
	if err != nil {
		t.Fatal(err)
	}
	refreshed, err := m.Refresh(l.Token, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Timeout != time.Hour {
		t.Errorf("Timeout = %v, want 1h", refreshed.Timeout)
	}
}
