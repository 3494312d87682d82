package apply

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

func testConfig() *Config {
	return &Config{Guilds: map[string]GuildConfig{
		"g1": {
			Data: map[string]CategoryConfig{
				"cat1": {
					Name:           "Builders",
					AdminChannelID: "admin-chan",
					Roles: RoleConfig{
						RoleID:         "role-auto",
						GiveRoleID:     "role-base",
						MustHoldRoleID: "role-must",
						Threshold:      100,
						StatsDB:        "stats.db",
						StatsColumn:    "messages",
					},
					Choose: map[string]ExtraRole{
						"a": {Name: "Artist", RoleID: "role-extra"},
					},
				},
			},
			Review: &ReviewConfig{
				ReviewChannelID: "review-chan",
				VoteRoles: &VoteRoles{
					Admin:       "role-vote-admin",
					User:        "role-vote-user",
					RatioAllow:  Quorum{Admin: 1, User: 2},
					RatioReject: Quorum{Admin: 1, User: 2},
				},
			},
		},
	}}
}

type serviceFixture struct {
	service   *Service
	apps      *storage.ApplicationStore
	cooldowns *storage.CooldownStore
	roster    *fakeRoster
	messenger *fakeMessenger
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	dir := t.TempDir()
	queue := storage.NewOpQueue()
	apps := storage.NewApplicationStore(dir, queue)
	cooldowns := storage.NewCooldownStore(filepath.Join(dir, "cooldowns.json"), queue)
	roster := newFakeRoster()
	messenger := newFakeMessenger()
	logger := testLogger()
	notifier := NewNotifier(messenger, logger)
	perms := &CapabilityChecker{AllowedRoleIDs: []string{"role-admin"}}
	svc := NewService(testConfig(), apps, cooldowns, roster, messenger, notifier, perms, logger)
	return &serviceFixture{service: svc, apps: apps, cooldowns: cooldowns, roster: roster, messenger: messenger}
}

func TestCheckSubmit_Gates(t *testing.T) {
	ctx := context.Background()

	t.Run("first-time applicant passes", func(t *testing.T) {
		f := newServiceFixture(t)
		f.roster.setRoles("g1", "u1", "role-must")
		if err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1"); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("rejection in another category does not block", func(t *testing.T) {
		f := newServiceFixture(t)
		f.roster.setRoles("g1", "u1", "role-must")
		rejected := storage.Application{
			GuildID: "g1", UserID: "u1", CategoryID: "cat-other",
			Status: storage.StatusRejected,
		}
		if err := f.apps.AddToHistory("g1", rejected); err != nil {
			t.Fatal(err)
		}
		if err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1"); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("blacklisted user blocked", func(t *testing.T) {
		f := newServiceFixture(t)
		f.roster.setRoles("g1", "u1", "role-must")
		if err := f.cooldowns.AddToBlacklist("u1", "spam"); err != nil {
			t.Fatal(err)
		}
		err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1")
		var blErr *BlacklistedError
		if !errors.As(err, &blErr) {
			t.Fatalf("err = %v, want BlacklistedError", err)
		}
		if blErr.Remaining == nil {
			t.Error("BlacklistedError has no remaining time")
		}
	})

	t.Run("rejected history blocks forever", func(t *testing.T) {
		f := newServiceFixture(t)
		f.roster.setRoles("g1", "u1", "role-must")
		rejected := storage.Application{
			GuildID: "g1", UserID: "u1", CategoryID: "cat1",
			Status: storage.StatusRejected,
		}
		if err := f.apps.AddToHistory("g1", rejected); err != nil {
			t.Fatal(err)
		}
		if err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1"); !errors.Is(err, ErrPermanentlyRejected) {
			t.Errorf("err = %v, want ErrPermanentlyRejected", err)
		}
	})

	t.Run("active rejected record also blocks", func(t *testing.T) {
		f := newServiceFixture(t)
		f.roster.setRoles("g1", "u1", "role-must")
		if err := f.apps.AddActive(storage.Application{
			GuildID: "g1", UserID: "u1", CategoryID: "cat1",
			Status: storage.StatusRejected,
		}); err != nil {
			t.Fatal(err)
		}
		if err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1"); !errors.Is(err, ErrPermanentlyRejected) {
			t.Errorf("err = %v, want ErrPermanentlyRejected", err)
		}
	})

	t.Run("pending application blocks duplicates", func(t *testing.T) {
		f := newServiceFixture(t)
		f.roster.setRoles("g1", "u1", "role-must")
		if err := f.apps.AddActive(storage.Application{
			GuildID: "g1", UserID: "u1", CategoryID: "cat1",
			Status: storage.StatusPending,
		}); err != nil {
			t.Fatal(err)
		}
		if err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1"); !errors.Is(err, ErrDuplicateApplication) {
			t.Errorf("err = %v, want ErrDuplicateApplication", err)
		}
	})

	t.Run("missing prerequisite role", func(t *testing.T) {
		f := newServiceFixture(t)
		err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1")
		var preErr *PrerequisiteError
		if !errors.As(err, &preErr) {
			t.Fatalf("err = %v, want PrerequisiteError", err)
		}
		if preErr.RoleID != "role-must" {
			t.Errorf("prerequisite role = %q, want role-must", preErr.RoleID)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		f := newServiceFixture(t)
		if err := f.service.CheckSubmit(ctx, "g1", "u1", "nope"); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("err = %v, want ErrNotConfigured", err)
		}
	})
}

func TestSubmit_PersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.roster.setRoles("g1", "u1", "role-must")

	if err := f.service.Submit(ctx, "g1", "u1", "cat1", "hello there"); err != nil {
		t.Fatal(err)
	}

	app, err := f.apps.FindActive("g1", "u1", "cat1")
	if err != nil {
		t.Fatal(err)
	}
	if app.Status != storage.StatusPending || app.SelfIntroduction != "hello there" {
		t.Errorf("stored application = %+v", app)
	}

	posted := f.messenger.sentTo("admin-chan")
	if len(posted) != 1 {
		t.Fatalf("admin channel messages = %d, want 1", len(posted))
	}
	if len(posted[0].Message.Components) == 0 {
		t.Error("review message has no buttons")
	}
}

func TestReviewApproveThenSelfExit(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.roster.setRoles("g1", "u1", "role-must")

	if err := f.service.Submit(ctx, "g1", "u1", "cat1", "intro"); err != nil {
		t.Fatal(err)
	}

	res, err := f.service.ReviewApprove(ctx, "g1", "cat1", "u1", "admin1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Application.Status != storage.StatusApproved {
		t.Fatalf("status after approve = %q", res.Application.Status)
	}
	if res.Application.ChannelID == "" || res.Application.MessageID == "" {
		t.Errorf("approve did not record channel/message: %+v", res.Application)
	}

	// A second approve must hit the stale-status guard.
	if _, err := f.service.ReviewApprove(ctx, "g1", "cat1", "u1", "admin2"); !errors.Is(err, storage.ErrWrongStatus) {
		t.Errorf("second approve err = %v, want ErrWrongStatus", err)
	}

	// Only the applicant may self-exit.
	if _, err := f.service.SelfExit(ctx, "g1", "cat1", "u1", "someone-else"); !errors.Is(err, ErrNotApplicant) {
		t.Errorf("foreign self-exit err = %v, want ErrNotApplicant", err)
	}

	exited, err := f.service.SelfExit(ctx, "g1", "cat1", "u1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if exited.Status != storage.StatusRejected || exited.Reason != storage.ExitReason {
		t.Errorf("self-exit record = %+v", exited)
	}

	history, err := f.apps.History("g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Reason != storage.ExitReason {
		t.Errorf("history after self-exit = %+v", history)
	}

	// The exit counts as a rejection for future submissions.
	if err := f.service.CheckSubmit(ctx, "g1", "u1", "cat1"); !errors.Is(err, ErrPermanentlyRejected) {
		t.Errorf("resubmit after exit err = %v, want ErrPermanentlyRejected", err)
	}
}

func TestFinalApprove(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.roster.setRoles("g1", "u1", "role-must")

	if err := f.service.Submit(ctx, "g1", "u1", "cat1", "intro"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.ReviewApprove(ctx, "g1", "cat1", "u1", "admin1"); err != nil {
		t.Fatal(err)
	}

	done, err := f.service.FinalApprove(ctx, "g1", "cat1", "u1", "admin1")
	if err != nil {
		t.Fatal(err)
	}
	if done.ProcessedBy != "admin1" {
		t.Errorf("processedBy = %q", done.ProcessedBy)
	}

	if f.roster.grantCount("g1", "u1", "role-base") != 1 {
		t.Error("base role was not granted exactly once")
	}
	if _, err := f.apps.FindActive("g1", "u1", "cat1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("active record survived final approve: %v", err)
	}
	history, err := f.apps.History("g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != storage.StatusApproved {
		t.Errorf("history = %+v", history)
	}

	// Replaying the button must fail cleanly.
	if _, err := f.service.FinalApprove(ctx, "g1", "cat1", "u1", "admin1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("replayed final approve err = %v, want ErrNotFound", err)
	}
}

func TestGrantExtraRole(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.roster.setRoles("g1", "u1", "role-must")

	if err := f.service.Submit(ctx, "g1", "u1", "cat1", "intro"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.ReviewApprove(ctx, "g1", "cat1", "u1", "admin1"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.service.GrantExtraRole(ctx, "g1", "cat1", "u1", "admin1", "not-configured"); err == nil {
		t.Error("unknown extra role did not error")
	}

	res, err := f.service.GrantExtraRole(ctx, "g1", "cat1", "u1", "admin1", "role-extra")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.RoleNames) != 2 {
		t.Errorf("granted roles = %v, want extra + base", res.RoleNames)
	}
	if f.roster.grantCount("g1", "u1", "role-extra") != 1 || f.roster.grantCount("g1", "u1", "role-base") != 1 {
		t.Error("extra and base roles not each granted once")
	}

	history, err := f.apps.History("g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || len(history[0].ExtraRoles) != 1 || history[0].ExtraRoles[0] != "role-extra" {
		t.Errorf("history = %+v", history)
	}
}

func TestCapabilityChecker(t *testing.T) {
	checker := &CapabilityChecker{
		AllowedUserIDs: []string{"u-root"},
		AllowedRoleIDs: []string{"r-admin"},
	}

	tests := []struct {
		name   string
		userID string
		roles  []string
		want   bool
	}{
		{"allow-listed user", "u-root", nil, true},
		{"allow-listed role", "u1", []string{"r-other", "r-admin"}, true},
		{"no match", "u1", []string{"r-other"}, false},
		{"empty", "u1", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsAdmin(tt.userID, tt.roles); got != tt.want {
				t.Errorf("IsAdmin = %v, want %v", got, tt.want)
			}
		})
	}
}
