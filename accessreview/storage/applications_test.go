package storage

import (
	"errors"
	"testing"
)

func newTestApplicationStore(t *testing.T) *ApplicationStore {
	t.Helper()
	return NewApplicationStore(t.TempDir(), NewOpQueue())
}

func testApplication() Application {
	return Application{
		GuildID:          "g1",
		UserID:           "u1",
		CategoryID:       "c1",
		ApplyTime:        "2026-01-02T15:04:05Z",
		SelfIntroduction: "hello",
		Status:           StatusPending,
		ChannelID:        "ch1",
	}
}

func TestApplicationStore_FindActive(t *testing.T) {
	s := newTestApplicationStore(t)
	app := testApplication()

	if err := s.AddActive(app); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindActive("g1", "u1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChannelID != "ch1" || got.Status != StatusPending {
		t.Errorf("FindActive = %+v", got)
	}

	if _, err := s.FindActive("g1", "u1", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindActive(miss) err = %v, want ErrNotFound", err)
	}
}

func TestApplicationStore_TransitionGuards(t *testing.T) {
	s := newTestApplicationStore(t)
	app := testApplication()
	if err := s.AddActive(app); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Transition("g1", "u1", "missing", StatusPending, func(a *Application) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Transition(missing) err = %v, want ErrNotFound", err)
	}
	if _, err := s.Transition("g1", "u1", "c1", StatusApproved, func(a *Application) {}); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("Transition(wrong status) err = %v, want ErrWrongStatus", err)
	}

	got, err := s.Transition("g1", "u1", "c1", StatusPending, func(a *Application) {
		a.Status = StatusApproved
		a.ReviewerID = "admin1"
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusApproved || got.ReviewerID != "admin1" {
		t.Errorf("Transition result = %+v", got)
	}

	// The mutation must be persisted, not just returned.
	stored, err := s.FindActive("g1", "u1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusApproved {
		t.Errorf("stored status = %q, want %q", stored.Status, StatusApproved)
	}

	// A second transition from the old status must fail.
	if _, err := s.Transition("g1", "u1", "c1", StatusPending, func(a *Application) {}); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("repeat Transition err = %v, want ErrWrongStatus", err)
	}
}

func TestApplicationStore_TakeActive(t *testing.T) {
	s := newTestApplicationStore(t)
	app := testApplication()
	app.Status = StatusApproved
	if err := s.AddActive(app); err != nil {
		t.Fatal(err)
	}

	if _, err := s.TakeActive("g1", "u1", "c1", StatusPending); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("TakeActive(wrong status) err = %v, want ErrWrongStatus", err)
	}

	got, err := s.TakeActive("g1", "u1", "c1", StatusApproved)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" {
		t.Errorf("TakeActive = %+v", got)
	}

	// Removed for good.
	if _, err := s.TakeActive("g1", "u1", "c1", StatusApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("second TakeActive err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindActive("g1", "u1", "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindActive after take err = %v, want ErrNotFound", err)
	}
}

func TestApplicationStore_FindActiveByChannel(t *testing.T) {
	s := newTestApplicationStore(t)
	if err := s.AddActive(testApplication()); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindActiveByChannel("ch1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" {
		t.Errorf("FindActiveByChannel = %+v", got)
	}

	if err := s.RemoveActiveByChannel("ch1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindActiveByChannel("ch1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindActiveByChannel after remove err = %v, want ErrNotFound", err)
	}
}

func TestApplicationStore_HistoryDuplicateGuard(t *testing.T) {
	s := newTestApplicationStore(t)
	app := testApplication()
	app.Status = StatusApproved

	if err := s.AddToHistory("g1", app); err != nil {
		t.Fatal(err)
	}
	// Same user and category again: silently skipped.
	if err := s.AddToHistory("g1", app); err != nil {
		t.Fatal(err)
	}
	// Same user, different category: recorded.
	other := app
	other.CategoryID = "c2"
	if err := s.AddToHistory("g1", other); err != nil {
		t.Fatal(err)
	}

	records, err := s.History("g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("history length = %d, want 2 (%+v)", len(records), records)
	}
}

func TestApplicationStore_GuildHistoryNormalizesStatus(t *testing.T) {
	s := newTestApplicationStore(t)
	app := testApplication()
	app.Status = ""
	if err := s.AddToHistory("g1", app); err != nil {
		t.Fatal(err)
	}

	records, err := s.GuildHistory("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("history length = %d, want 1", len(records))
	}
	if records[0].Status != StatusPending {
		t.Errorf("normalized status = %q, want %q", records[0].Status, StatusPending)
	}
}
