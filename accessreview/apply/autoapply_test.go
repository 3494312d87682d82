package apply

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

type autoFixture struct {
	reviewer  *AutoReviewer
	cooldowns *storage.CooldownStore
	roster    *fakeRoster
	messenger *fakeMessenger
	stats     *fakeStats
	votes     *storage.VoteStore
}

func newAutoFixture(t *testing.T, cfg *Config) *autoFixture {
	t.Helper()
	dir := t.TempDir()
	queue := storage.NewOpQueue()
	cooldowns := storage.NewCooldownStore(filepath.Join(dir, "cooldowns.json"), queue)
	votes := storage.NewVoteStore(filepath.Join(dir, "votes.json"), queue)
	roster := newFakeRoster()
	messenger := newFakeMessenger()
	stats := &fakeStats{values: map[string]int64{}}
	logger := testLogger()
	engine := NewVoteEngine(votes, roster, messenger, logger)
	reviewer := NewAutoReviewer(cfg, cooldowns, roster, stats, engine, NewNotifier(messenger, logger), logger)
	return &autoFixture{
		reviewer:  reviewer,
		cooldowns: cooldowns,
		roster:    roster,
		messenger: messenger,
		stats:     stats,
		votes:     votes,
	}
}

func noVoteConfig() *Config {
	cfg := testConfig()
	guild := cfg.Guilds["g1"]
	guild.Review = nil
	cfg.Guilds["g1"] = guild
	return cfg
}

func TestAutoReview_AlreadyHolding(t *testing.T) {
	f := newAutoFixture(t, noVoteConfig())
	f.roster.setRoles("g1", "u1", "role-auto")

	if _, err := f.reviewer.Review(context.Background(), "g1", "u1", "role-auto"); !errors.Is(err, ErrAlreadyHolding) {
		t.Errorf("err = %v, want ErrAlreadyHolding", err)
	}
}

func TestAutoReview_CooldownStampedBeforeEligibility(t *testing.T) {
	ctx := context.Background()
	f := newAutoFixture(t, noVoteConfig())
	// Member lacks the musthold role, so the attempt fails after the
	// stamp. The failed attempt must still consume the daily try.
	_, err := f.reviewer.Review(ctx, "g1", "u1", "role-auto")
	var preErr *PrerequisiteError
	if !errors.As(err, &preErr) {
		t.Fatalf("err = %v, want PrerequisiteError", err)
	}

	cooldowns, err := f.cooldowns.AutoApplyCooldowns()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cooldowns["u1"]; !ok {
		t.Error("failed attempt did not stamp the cooldown")
	}

	f.roster.setRoles("g1", "u1", "role-must")
	_, err = f.reviewer.Review(ctx, "g1", "u1", "role-auto")
	var cdErr *CooldownError
	if !errors.As(err, &cdErr) {
		t.Fatalf("second attempt err = %v, want CooldownError", err)
	}
	if cdErr.Remaining == nil || cdErr.Remaining.TotalSecondsLeft <= 0 {
		t.Errorf("cooldown error remaining = %+v", cdErr.Remaining)
	}
}

func TestAutoReview_BelowThreshold(t *testing.T) {
	f := newAutoFixture(t, noVoteConfig())
	f.roster.setRoles("g1", "u1", "role-must")
	f.stats.values["u1"] = 99

	res, err := f.reviewer.Review(context.Background(), "g1", "u1", "role-auto")
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("below-threshold review passed")
	}
	if res.Current != 99 || res.Threshold != 100 {
		t.Errorf("result = %+v", res)
	}
	if f.roster.grantCount("g1", "u1", "role-auto") != 0 {
		t.Error("failed review granted the role")
	}
	if len(f.messenger.sentTo("admin-chan")) != 1 {
		t.Error("no audit embed posted")
	}
}

func TestAutoReview_DirectGrant(t *testing.T) {
	f := newAutoFixture(t, noVoteConfig())
	f.roster.setRoles("g1", "u1", "role-must")
	f.stats.values["u1"] = 150

	res, err := f.reviewer.Review(context.Background(), "g1", "u1", "role-auto")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.VoteCreated {
		t.Errorf("result = %+v, want direct pass", res)
	}
	if f.roster.grantCount("g1", "u1", "role-auto") != 1 {
		t.Error("role not granted exactly once")
	}
}

func TestAutoReview_RoutesToVote(t *testing.T) {
	f := newAutoFixture(t, testConfig())
	f.roster.setRoles("g1", "u1", "role-must")
	f.stats.values["u1"] = 150

	res, err := f.reviewer.Review(context.Background(), "g1", "u1", "role-auto")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || !res.VoteCreated || res.VoteID == "" {
		t.Fatalf("result = %+v, want vote created", res)
	}
	// The role must wait for the committee, not be granted directly.
	if f.roster.grantCount("g1", "u1", "role-auto") != 0 {
		t.Error("vote-routed review granted the role directly")
	}

	rec, err := f.votes.Get(res.VoteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.RequesterID != "u1" || rec.TargetRoleID != "role-auto" || rec.Status != storage.VotePending {
		t.Errorf("vote record = %+v", rec)
	}
	if len(f.messenger.sentTo("review-chan")) != 1 {
		t.Error("vote message not posted to review channel")
	}
}
