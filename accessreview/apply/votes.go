package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

// EscalationWindow is how long admins get to veto after user quorum.
const EscalationWindow = 24 * time.Hour

var (
	// ErrVoteClosed means the vote no longer accepts ballots.
	ErrVoteClosed = errors.New("vote is closed")
	// ErrSelfVote means the requester tried to vote on their own
	// application.
	ErrSelfVote = errors.New("requester cannot vote on their own application")
	// ErrNotPermittedToVote means the voter holds neither voter-class
	// role.
	ErrNotPermittedToVote = errors.New("member may not vote")
)

// BallotAction is the button the voter pressed.
type BallotAction string

const (
	BallotApprove BallotAction = "approve"
	BallotReject  BallotAction = "reject"
)

// BallotOutcome tells the handler whether the press cast or retracted a
// ballot, so it can word the ephemeral reply.
type BallotOutcome struct {
	Action    BallotAction
	Retracted bool
}

// Tally is the classified vote count, recomputed from the ballot lists
// after every mutation rather than cached.
type Tally struct {
	AdminApprovals int
	UserApprovals  int
	AdminRejects   int
	UserRejects    int
}

// VoteEngine owns the committee-vote lifecycle: creation, ballot
// mutation, quorum evaluation with one-way escalation, and idempotent
// finalization. A separate sweeper closes escalated votes whose veto
// window has elapsed.
type VoteEngine struct {
	votes     *storage.VoteStore
	roster    Roster
	messenger Messenger
	logger    *slog.Logger
	now       func() time.Time
}

func NewVoteEngine(votes *storage.VoteStore, roster Roster, messenger Messenger, logger *slog.Logger) *VoteEngine {
	return &VoteEngine{
		votes:     votes,
		roster:    roster,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source for tests.
func (e *VoteEngine) SetClock(now func() time.Time) { e.now = now }

// CreateVote opens a committee vote for requester's role application
// and posts the ballot message to the review channel. The quorum rules
// are snapshotted into the record.
func (e *VoteEngine) CreateVote(ctx context.Context, guildID, requesterID, targetRoleID, reviewChannelID string, rules storage.VoteRules) (string, error) {
	if reviewChannelID == "" {
		return "", errors.New("no review channel configured")
	}

	now := e.now()
	voteID := fmt.Sprintf("%d-%s", now.UnixMilli(), requesterID)

	embed := e.tallyEmbed(voteID, requesterID, targetRoleID, rules, Tally{}, storage.VotePending, 0)
	row := discord.NewActionRow(
		discord.NewSuccessButton("👍 Approve", VoteButtonID("approve", voteID)),
		discord.NewDangerButton("👎 Reject", VoteButtonID("reject", voteID)),
	)
	messageID, err := e.messenger.SendMessage(ctx, reviewChannelID, discord.MessageCreate{
		Embeds:     []discord.Embed{embed},
		Components: []discord.ContainerComponent{row},
	})
	if err != nil {
		return "", fmt.Errorf("failed to post vote message: %w", err)
	}

	record := storage.VoteRecord{
		GuildID:      guildID,
		ChannelID:    reviewChannelID,
		MessageID:    messageID,
		RequesterID:  requesterID,
		TargetRoleID: targetRoleID,
		Rules:        rules,
		Status:       storage.VotePending,
		Votes:        storage.Ballots{Approve: []string{}, Reject: []string{}},
		CreatedAt:    now.UnixMilli(),
	}
	if err := e.votes.Add(voteID, record); err != nil {
		return "", fmt.Errorf("failed to save vote: %w", err)
	}

	e.logger.Info("Vote created",
		slog.String("type", "cmd"),
		slog.String("vote_id", voteID),
		slog.String("requester_id", requesterID),
		slog.String("role_id", targetRoleID))

	return voteID, nil
}

// CastBallot applies one button press. Pressing the same choice twice
// retracts it; pressing the opposite choice moves the ballot. The
// mutation and the list invariants run inside the store's critical
// section, then the quorum evaluation follows.
func (e *VoteEngine) CastBallot(ctx context.Context, voteID, voterID string, action BallotAction) (*BallotOutcome, error) {
	record, err := e.votes.Get(voteID)
	if err != nil {
		return nil, err
	}
	if record.Status != storage.VotePending && record.Status != storage.VotePendingAdmin {
		return nil, ErrVoteClosed
	}
	if voterID == record.RequesterID {
		return nil, ErrSelfVote
	}

	permitted, err := HasAnyRole(ctx, e.roster, record.GuildID, voterID, record.Rules.AdminRoleID, record.Rules.UserRoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voter roles: %w", err)
	}
	if !permitted {
		return nil, ErrNotPermittedToVote
	}

	outcome := &BallotOutcome{Action: action}
	_, err = e.votes.Mutate(voteID, func(rec *storage.VoteRecord) error {
		if rec.Status != storage.VotePending && rec.Status != storage.VotePendingAdmin {
			return ErrVoteClosed
		}
		target, opposite := &rec.Votes.Approve, &rec.Votes.Reject
		if action == BallotReject {
			target, opposite = opposite, target
		}
		if contains(*target, voterID) {
			*target = remove(*target, voterID)
			outcome.Retracted = true
			return nil
		}
		*opposite = remove(*opposite, voterID)
		*target = append(*target, voterID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.CheckVote(ctx, voteID); err != nil {
		e.logger.Error("Vote evaluation failed",
			slog.String("type", "sys"),
			slog.String("vote_id", voteID),
			slog.Any("error", err))
	}
	return outcome, nil
}

// CheckVote recomputes the tally and applies the outcome rules:
// rejection quorum always wins, admin-approval quorum finalizes
// immediately, user-approval quorum escalates once to the timed admin
// veto window, anything else just refreshes the public message.
func (e *VoteEngine) CheckVote(ctx context.Context, voteID string) error {
	record, err := e.votes.Get(voteID)
	if err != nil {
		return err
	}
	if record.Status != storage.VotePending && record.Status != storage.VotePendingAdmin {
		return nil
	}

	tally, err := e.countBallots(ctx, record)
	if err != nil {
		return err
	}
	rules := record.Rules

	rejected := (rules.RejectAdmin > 0 && tally.AdminRejects >= rules.RejectAdmin) ||
		(rules.RejectUser > 0 && tally.UserRejects >= rules.RejectUser)
	if rejected {
		return e.Finalize(ctx, voteID, storage.VoteRejected)
	}

	if rules.AllowAdmin > 0 && tally.AdminApprovals >= rules.AllowAdmin {
		return e.Finalize(ctx, voteID, storage.VoteApproved)
	}

	if rules.AllowUser > 0 && tally.UserApprovals >= rules.AllowUser && record.Status == storage.VotePending {
		pendingUntil := e.now().Add(EscalationWindow).UnixMilli()
		escalated, err := e.votes.Mutate(voteID, func(rec *storage.VoteRecord) error {
			// One-way: never escalate twice, never resurrect a
			// concurrently finalized vote.
			if rec.Status != storage.VotePending {
				return nil
			}
			rec.Status = storage.VotePendingAdmin
			rec.PendingUntil = pendingUntil
			return nil
		})
		if err != nil {
			return err
		}
		e.logger.Info("Vote escalated to admin window",
			slog.String("type", "cmd"),
			slog.String("vote_id", voteID),
			slog.Int64("pending_until", escalated.PendingUntil))
		return e.updateTallyMessage(ctx, voteID, escalated, tally)
	}

	return e.updateTallyMessage(ctx, voteID, record, tally)
}

// Finalize closes the vote with the given outcome. It is a no-op when
// the vote already left the open states, which is what makes the sweep
// and a concurrent ballot-triggered finalize safe against each other.
func (e *VoteEngine) Finalize(ctx context.Context, voteID string, outcome storage.VoteStatus) error {
	alreadyClosed := false
	record, err := e.votes.Mutate(voteID, func(rec *storage.VoteRecord) error {
		if rec.Status != storage.VotePending && rec.Status != storage.VotePendingAdmin {
			alreadyClosed = true
			return nil
		}
		rec.Status = outcome
		return nil
	})
	if err != nil {
		return err
	}
	if alreadyClosed {
		return nil
	}

	e.logger.Info("Vote finalized",
		slog.String("type", "cmd"),
		slog.String("vote_id", voteID),
		slog.String("outcome", string(outcome)))

	approved := outcome == storage.VoteApproved
	if approved {
		if err := e.roster.GrantRole(ctx, record.GuildID, record.RequesterID, record.TargetRoleID); err != nil {
			e.logger.Error("Failed to grant voted role",
				slog.String("type", "sys"),
				slog.String("vote_id", voteID),
				slog.String("role_id", record.TargetRoleID),
				slog.Any("error", err))
		}
	}

	final := discord.NewEmbedBuilder().
		SetTitle("Manual role review").
		SetDescriptionf("Application by <@%s> for <@&%s>.", record.RequesterID, record.TargetRoleID).
		AddField("Applicant", fmt.Sprintf("<@%s>", record.RequesterID), true).
		AddField("Role", fmt.Sprintf("<@&%s>", record.TargetRoleID), true).
		SetFooterText(fmt.Sprintf("Vote ID: %s", voteID)).
		SetTimestamp(e.now())
	if approved {
		final.SetColor(0x2ECC71).AddField("Status", "✅ Approved", false)
	} else {
		final.SetColor(0xE74C3C).AddField("Status", "❌ Rejected", false)
	}
	if err := e.messenger.EditMessage(ctx, record.ChannelID, record.MessageID, discord.MessageUpdate{
		Embeds:     &[]discord.Embed{final.Build()},
		Components: &[]discord.ContainerComponent{},
	}); err != nil {
		e.logger.Warn("Failed to edit vote message",
			slog.String("type", "sys"),
			slog.String("vote_id", voteID),
			slog.Any("error", err))
	}

	var dm discord.Embed
	if approved {
		dm = discord.NewEmbedBuilder().
			SetTitle("🎉 Review passed").
			SetDescriptionf("Congratulations! Your application for <@&%s> passed manual review.", record.TargetRoleID).
			SetColor(0x2ECC71).
			Build()
	} else {
		dm = discord.NewEmbedBuilder().
			SetTitle("Review result").
			SetDescriptionf("Unfortunately your application for <@&%s> did not pass manual review.", record.TargetRoleID).
			SetColor(0xE74C3C).
			Build()
	}
	if err := e.messenger.SendDirectMessage(ctx, record.RequesterID, discord.MessageCreate{
		Embeds: []discord.Embed{dm},
	}); err != nil {
		e.logger.Warn("Failed to DM vote requester",
			slog.String("type", "sys"),
			slog.String("user_id", record.RequesterID),
			slog.Any("error", err))
	}
	return nil
}

// SweepPending finalizes every escalated vote whose veto window has
// elapsed as approved.
func (e *VoteEngine) SweepPending(ctx context.Context) error {
	all, err := e.votes.Snapshot()
	if err != nil {
		return err
	}
	now := e.now().UnixMilli()
	for voteID, record := range all {
		if record.Status != storage.VotePendingAdmin || record.PendingUntil == 0 || now < record.PendingUntil {
			continue
		}
		e.logger.Info("Veto window elapsed, approving vote",
			slog.String("type", "sys"),
			slog.String("vote_id", voteID))
		if err := e.Finalize(ctx, voteID, storage.VoteApproved); err != nil {
			e.logger.Error("Failed to finalize swept vote",
				slog.String("type", "sys"),
				slog.String("vote_id", voteID),
				slog.Any("error", err))
		}
	}
	return nil
}

// RunSweeper blocks, sweeping on the given cadence until ctx ends.
func (e *VoteEngine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Vote sweeper started",
		slog.String("type", "sys"),
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Vote sweeper stopped", slog.String("type", "sys"))
			return
		case <-ticker.C:
			if err := e.SweepPending(ctx); err != nil {
				e.logger.Error("Vote sweep failed",
					slog.String("type", "sys"),
					slog.Any("error", err))
			}
		}
	}
}

// countBallots classifies each ballot by the voter's current roles.
// Voters who left the guild or dropped both roles count for nothing.
func (e *VoteEngine) countBallots(ctx context.Context, record *storage.VoteRecord) (Tally, error) {
	var tally Tally
	classify := func(userID string, admin, user *int) {
		roles, err := e.roster.MemberRoles(ctx, record.GuildID, userID)
		if err != nil {
			return
		}
		if record.Rules.AdminRoleID != "" && contains(roles, record.Rules.AdminRoleID) {
			*admin++
		} else if record.Rules.UserRoleID != "" && contains(roles, record.Rules.UserRoleID) {
			*user++
		}
	}
	for _, userID := range record.Votes.Approve {
		classify(userID, &tally.AdminApprovals, &tally.UserApprovals)
	}
	for _, userID := range record.Votes.Reject {
		classify(userID, &tally.AdminRejects, &tally.UserRejects)
	}
	return tally, nil
}

func (e *VoteEngine) updateTallyMessage(ctx context.Context, voteID string, record *storage.VoteRecord, tally Tally) error {
	embed := e.tallyEmbed(voteID, record.RequesterID, record.TargetRoleID, record.Rules, tally, record.Status, record.PendingUntil)
	if err := e.messenger.EditMessage(ctx, record.ChannelID, record.MessageID, discord.MessageUpdate{
		Embeds: &[]discord.Embed{embed},
	}); err != nil {
		e.logger.Warn("Failed to update vote tally",
			slog.String("type", "sys"),
			slog.String("vote_id", voteID),
			slog.Any("error", err))
	}
	return nil
}

func (e *VoteEngine) tallyEmbed(voteID, requesterID, targetRoleID string, rules storage.VoteRules, tally Tally, status storage.VoteStatus, pendingUntil int64) discord.Embed {
	statusLine := "Voting..."
	if status == storage.VotePendingAdmin {
		statusLine = fmt.Sprintf("User quorum met, veto window open until <t:%d:R>", pendingUntil/1000)
	}
	return discord.NewEmbedBuilder().
		SetTitle("Manual role review").
		SetDescriptionf("Application by <@%s> for <@&%s> requires a committee vote.", requesterID, targetRoleID).
		SetColor(colorVote).
		AddField("Applicant", fmt.Sprintf("<@%s>", requesterID), true).
		AddField("Role", fmt.Sprintf("<@&%s>", targetRoleID), true).
		AddField("Status", statusLine, false).
		AddField("👍 Approve", fmt.Sprintf("Admins: %d/%d\nUsers: %d/%d", tally.AdminApprovals, rules.AllowAdmin, tally.UserApprovals, rules.AllowUser), true).
		AddField("👎 Reject", fmt.Sprintf("Admins: %d/%d\nUsers: %d/%d", tally.AdminRejects, rules.RejectAdmin, tally.UserRejects, rules.RejectUser), true).
		SetFooterText(fmt.Sprintf("Vote ID: %s", voteID)).
		SetTimestamp(e.now()).
		Build()
}

func contains(list []string, want string) bool {
	for _, have := range list {
		if have == want {
			return true
		}
	}
	return false
}

func remove(list []string, drop string) []string {
	out := list[:0]
	for _, have := range list {
		if have != drop {
			out = append(out, have)
		}
	}
	return out
}
