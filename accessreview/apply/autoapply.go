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

// ErrAlreadyHolding means the applicant already has the target role.
var ErrAlreadyHolding = errors.New("member already holds the role")

// CooldownError carries the time left until the next attempt.
type CooldownError struct {
	Remaining *storage.TimeRemaining
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("auto-apply on cooldown, %dh %dm left", e.Remaining.HoursLeft, e.Remaining.MinutesLeft)
}

// StatsReader answers activity lookups against a guild's stats
// database. found is false when the member has no row at all.
type StatsReader interface {
	UserStat(ctx context.Context, database, column, userID string) (value int64, found bool, err error)
}

// AutoResult is the outcome of one auto-review attempt that got past
// the gates.
type AutoResult struct {
	Passed      bool
	VoteCreated bool
	VoteID      string
	Current     int64
	Threshold   int64
	RoleID      string
}

// AutoReviewer runs the button-triggered threshold review. One attempt
// per 24 hours per user; the cooldown is stamped as soon as the gate
// passes so a failed attempt still consumes the day.
type AutoReviewer struct {
	cfg       *Config
	cooldowns *storage.CooldownStore
	roster    Roster
	stats     StatsReader
	votes     *VoteEngine
	notifier  *Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewAutoReviewer(
	cfg *Config,
	cooldowns *storage.CooldownStore,
	roster Roster,
	stats StatsReader,
	votes *VoteEngine,
	notifier *Notifier,
	logger *slog.Logger,
) *AutoReviewer {
	return &AutoReviewer{
		cfg:       cfg,
		cooldowns: cooldowns,
		roster:    roster,
		stats:     stats,
		votes:     votes,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Review runs the full auto-apply flow for one button press.
func (r *AutoReviewer) Review(ctx context.Context, guildID, userID, targetRoleID string) (*AutoResult, error) {
	categoryID, category, ok := r.cfg.CategoryByRole(guildID, targetRoleID)
	if !ok {
		return nil, fmt.Errorf("%w: no category grants role %s", ErrNotConfigured, targetRoleID)
	}

	holding, err := HasAnyRole(ctx, r.roster, guildID, userID, targetRoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member roles: %w", err)
	}
	if holding {
		return nil, ErrAlreadyHolding
	}

	cooldowns, err := r.cooldowns.AutoApplyCooldowns()
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldowns: %w", err)
	}
	if stamp, ok := cooldowns[userID]; ok {
		if remaining := r.cooldowns.GetTimeRemaining(stamp, storage.AutoApplyWindow); remaining != nil {
			return nil, &CooldownError{Remaining: remaining}
		}
	}

	// Stamp before any eligibility check: a failed attempt consumes
	// the daily try just like a passed one.
	if err := r.cooldowns.SetAutoApplyCooldown(userID); err != nil {
		return nil, fmt.Errorf("failed to stamp cooldown: %w", err)
	}

	if mustHold, ok := category.MustHold(); ok {
		has, err := HasAnyRole(ctx, r.roster, guildID, userID, mustHold)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve member roles: %w", err)
		}
		if !has {
			return nil, &PrerequisiteError{RoleID: mustHold}
		}
	}

	current, _, err := r.stats.UserStat(ctx, category.Roles.StatsDB, category.Roles.StatsColumn, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read user stats: %w", err)
	}

	result := &AutoResult{
		Current:   current,
		Threshold: category.Roles.Threshold,
		RoleID:    targetRoleID,
	}

	r.logger.Info("Auto review evaluated",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("category_id", categoryID),
		slog.Int64("current", current),
		slog.Int64("threshold", category.Roles.Threshold))

	if current < category.Roles.Threshold {
		r.audit(ctx, category.AdminChannelID, userID, targetRoleID, fmt.Sprintf("Below threshold: %d / %d", current, category.Roles.Threshold), false)
		return result, nil
	}
	result.Passed = true

	guild, _ := r.cfg.Guild(guildID)
	if rules, ok := guild.VoteRules(); ok {
		voteID, err := r.votes.CreateVote(ctx, guildID, userID, targetRoleID, guild.Review.ReviewChannelID, rules)
		if err != nil {
			return nil, fmt.Errorf("failed to open committee vote: %w", err)
		}
		result.VoteCreated = true
		result.VoteID = voteID
		r.audit(ctx, category.AdminChannelID, userID, targetRoleID, "Threshold met, sent to committee vote", true)
		return result, nil
	}

	if err := r.roster.GrantRole(ctx, guildID, userID, targetRoleID); err != nil {
		return nil, fmt.Errorf("failed to grant role: %w", err)
	}
	r.audit(ctx, category.AdminChannelID, userID, targetRoleID, "Threshold met, role granted automatically", true)
	return result, nil
}

func (r *AutoReviewer) audit(ctx context.Context, channelID, userID, roleID, detail string, passed bool) {
	color := colorRejected
	verdict := "Failed"
	if passed {
		color = colorApproved
		verdict = "Passed"
	}
	embed := discord.NewEmbedBuilder().
		SetTitle("Auto review log").
		SetDescriptionf("Auto review for <@%s> (%s).", userID, userID).
		AddField("Requested role", fmt.Sprintf("<@&%s>", roleID), true).
		AddField("Result", verdict, true).
		AddField("Detail", detail, false).
		SetColor(color).
		SetTimestamp(r.now()).
		Build()
	r.notifier.Send(ctx, channelID, embed)
}
