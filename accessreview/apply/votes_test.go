package apply

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

type voteFixture struct {
	engine    *VoteEngine
	store     *storage.VoteStore
	roster    *fakeRoster
	messenger *fakeMessenger
}

func newVoteFixture(t *testing.T) *voteFixture {
	t.Helper()
	store := storage.NewVoteStore(filepath.Join(t.TempDir(), "votes.json"), storage.NewOpQueue())
	roster := newFakeRoster()
	messenger := newFakeMessenger()
	engine := NewVoteEngine(store, roster, messenger, testLogger())
	return &voteFixture{engine: engine, store: store, roster: roster, messenger: messenger}
}

func testRules() storage.VoteRules {
	return storage.VoteRules{
		AdminRoleID: "r-admin",
		UserRoleID:  "r-user",
		AllowAdmin:  1,
		AllowUser:   2,
		RejectAdmin: 1,
		RejectUser:  2,
	}
}

func (f *voteFixture) createVote(t *testing.T) string {
	t.Helper()
	voteID, err := f.engine.CreateVote(context.Background(), "g1", "requester", "r-target", "review-chan", testRules())
	if err != nil {
		t.Fatal(err)
	}
	return voteID
}

func (f *voteFixture) admin(userID string) string {
	f.roster.setRoles("g1", userID, "r-admin")
	return userID
}

func (f *voteFixture) user(userID string) string {
	f.roster.setRoles("g1", userID, "r-user")
	return userID
}

func TestCastBallot_Guards(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	voteID := f.createVote(t)

	if _, err := f.engine.CastBallot(ctx, voteID, "requester", BallotApprove); !errors.Is(err, ErrSelfVote) {
		t.Errorf("self vote err = %v, want ErrSelfVote", err)
	}
	if _, err := f.engine.CastBallot(ctx, voteID, "stranger", BallotApprove); !errors.Is(err, ErrNotPermittedToVote) {
		t.Errorf("roleless voter err = %v, want ErrNotPermittedToVote", err)
	}
	if _, err := f.engine.CastBallot(ctx, "missing", "stranger", BallotApprove); !errors.Is(err, storage.ErrVoteNotFound) {
		t.Errorf("unknown vote err = %v, want ErrVoteNotFound", err)
	}
}

func TestCastBallot_ToggleAndMove(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	voteID := f.createVote(t)
	voter := f.user("voter1")

	out, err := f.engine.CastBallot(ctx, voteID, voter, BallotApprove)
	if err != nil {
		t.Fatal(err)
	}
	if out.Retracted {
		t.Error("first press reported as retraction")
	}

	// Same choice again retracts, leaving the voter unvoted.
	out, err = f.engine.CastBallot(ctx, voteID, voter, BallotApprove)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Retracted {
		t.Error("second press did not retract")
	}
	rec, err := f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Votes.Approve) != 0 || len(rec.Votes.Reject) != 0 {
		t.Errorf("ballots after toggle = %+v", rec.Votes)
	}

	// Approve then reject moves the ballot; the voter is never in both.
	if _, err := f.engine.CastBallot(ctx, voteID, voter, BallotApprove); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CastBallot(ctx, voteID, voter, BallotReject); err != nil {
		t.Fatal(err)
	}
	rec, err = f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Votes.Approve) != 0 || len(rec.Votes.Reject) != 1 {
		t.Errorf("ballots after move = %+v", rec.Votes)
	}
}

func TestVote_AdminApproveFinalizesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	voteID := f.createVote(t)

	if _, err := f.engine.CastBallot(ctx, voteID, f.admin("a1"), BallotApprove); err != nil {
		t.Fatal(err)
	}

	rec, err := f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VoteApproved {
		t.Fatalf("status = %q, want approved", rec.Status)
	}
	if f.roster.grantCount("g1", "requester", "r-target") != 1 {
		t.Error("target role not granted exactly once")
	}

	if _, err := f.engine.CastBallot(ctx, voteID, f.user("late"), BallotReject); !errors.Is(err, ErrVoteClosed) {
		t.Errorf("ballot on closed vote err = %v, want ErrVoteClosed", err)
	}
}

func TestVote_RejectionDominates(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	voteID := f.createVote(t)

	// One admin rejection meets the reject quorum and closes the vote
	// no matter what the approvals look like.
	if _, err := f.engine.CastBallot(ctx, voteID, f.user("u1"), BallotApprove); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CastBallot(ctx, voteID, f.admin("a1"), BallotReject); err != nil {
		t.Fatal(err)
	}

	rec, err := f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VoteRejected {
		t.Fatalf("status = %q, want rejected", rec.Status)
	}
	if f.roster.grantCount("g1", "requester", "r-target") != 0 {
		t.Error("rejected vote granted the role")
	}
}

func TestVote_UserQuorumEscalatesOnce(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	now := time.Now()
	f.engine.SetClock(func() time.Time { return now })
	voteID := f.createVote(t)

	if _, err := f.engine.CastBallot(ctx, voteID, f.user("u1"), BallotApprove); err != nil {
		t.Fatal(err)
	}
	rec, err := f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VotePending {
		t.Fatalf("status before quorum = %q", rec.Status)
	}

	if _, err := f.engine.CastBallot(ctx, voteID, f.user("u2"), BallotApprove); err != nil {
		t.Fatal(err)
	}
	rec, err = f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VotePendingAdmin {
		t.Fatalf("status at quorum = %q, want pending_admin", rec.Status)
	}
	wantUntil := now.Add(EscalationWindow).UnixMilli()
	if rec.PendingUntil != wantUntil {
		t.Errorf("pendingUntil = %d, want %d", rec.PendingUntil, wantUntil)
	}

	// A retraction below quorum must not revert the escalation.
	if _, err := f.engine.CastBallot(ctx, voteID, "u2", BallotApprove); err != nil {
		t.Fatal(err)
	}
	rec, err = f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VotePendingAdmin || rec.PendingUntil != wantUntil {
		t.Errorf("escalation reverted: status=%q pendingUntil=%d", rec.Status, rec.PendingUntil)
	}

	// Admin rejection during the veto window still wins.
	if _, err := f.engine.CastBallot(ctx, voteID, f.admin("a1"), BallotReject); err != nil {
		t.Fatal(err)
	}
	rec, err = f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VoteRejected {
		t.Errorf("status after admin veto = %q, want rejected", rec.Status)
	}
}

func TestSweepPending_SilenceApproves(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	now := time.Now()
	f.engine.SetClock(func() time.Time { return now })
	voteID := f.createVote(t)

	if _, err := f.engine.CastBallot(ctx, voteID, f.user("u1"), BallotApprove); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.CastBallot(ctx, voteID, f.user("u2"), BallotApprove); err != nil {
		t.Fatal(err)
	}

	// Before the window elapses the sweep must not touch the vote.
	f.engine.SetClock(func() time.Time { return now.Add(EscalationWindow - time.Minute) })
	if err := f.engine.SweepPending(ctx); err != nil {
		t.Fatal(err)
	}
	rec, err := f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VotePendingAdmin {
		t.Fatalf("early sweep changed status to %q", rec.Status)
	}

	f.engine.SetClock(func() time.Time { return now.Add(EscalationWindow + time.Second) })
	if err := f.engine.SweepPending(ctx); err != nil {
		t.Fatal(err)
	}
	rec, err = f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VoteApproved {
		t.Fatalf("status after sweep = %q, want approved", rec.Status)
	}
	if f.roster.grantCount("g1", "requester", "r-target") != 1 {
		t.Error("target role not granted exactly once")
	}

	// Sweeping again must not grant twice.
	if err := f.engine.SweepPending(ctx); err != nil {
		t.Fatal(err)
	}
	if f.roster.grantCount("g1", "requester", "r-target") != 1 {
		t.Error("second sweep granted the role again")
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newVoteFixture(t)
	voteID := f.createVote(t)

	if err := f.engine.Finalize(ctx, voteID, storage.VoteApproved); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Finalize(ctx, voteID, storage.VoteRejected); err != nil {
		t.Fatal(err)
	}

	rec, err := f.store.Get(voteID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != storage.VoteApproved {
		t.Errorf("second finalize changed outcome to %q", rec.Status)
	}
	if f.roster.grantCount("g1", "requester", "r-target") != 1 {
		t.Error("role granted more than once")
	}
}
