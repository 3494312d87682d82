package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

var (
	// ErrPermanentlyRejected blocks resubmission after any rejection in
	// the category, active or archived.
	ErrPermanentlyRejected = errors.New("a rejected application exists for this category")
	// ErrDuplicateApplication blocks a second submission while one is
	// pending or approved.
	ErrDuplicateApplication = errors.New("an application is already in progress")
	// ErrNotConfigured means the guild or category has no apply config.
	ErrNotConfigured = errors.New("application category not configured")
	// ErrNotAdmin means the acting member failed the capability check.
	ErrNotAdmin = errors.New("member lacks admin capability")
	// ErrNotApplicant means someone other than the applicant pressed an
	// applicant-only control.
	ErrNotApplicant = errors.New("only the applicant may do this")
)

// BlacklistedError carries the block reason and, when the entry has not
// expired, the time left.
type BlacklistedError struct {
	Reason    string
	Remaining *storage.TimeRemaining
}

func (e *BlacklistedError) Error() string {
	return fmt.Sprintf("user is blacklisted: %s", e.Reason)
}

// PrerequisiteError names the role the applicant must already hold.
type PrerequisiteError struct {
	RoleID string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("missing prerequisite role %s", e.RoleID)
}

const (
	colorPending  = 0xFFA500
	colorApproved = 0x00FF00
	colorRejected = 0xFF0000
	colorExit     = 0xFF6600
	colorInfo     = 0x0099FF
	colorVote     = 0x3498DB
)

// Service drives the manual application lifecycle: submission, the
// pre-review pass, and the finish-stage admin decisions. Every
// transition re-validates the persisted status through the store's
// guarded operations, so stale button clicks fail with
// storage.ErrNotFound or storage.ErrWrongStatus instead of
// double-processing.
type Service struct {
	cfg       *Config
	apps      *storage.ApplicationStore
	cooldowns *storage.CooldownStore
	roster    Roster
	messenger Messenger
	notifier  *Notifier
	perms     *CapabilityChecker
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	cfg *Config,
	apps *storage.ApplicationStore,
	cooldowns *storage.CooldownStore,
	roster Roster,
	messenger Messenger,
	notifier *Notifier,
	perms *CapabilityChecker,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		apps:      apps,
		cooldowns: cooldowns,
		roster:    roster,
		messenger: messenger,
		notifier:  notifier,
		perms:     perms,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// IsAdmin resolves the acting member's roles and applies the capability
// check.
func (s *Service) IsAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	return s.perms.MemberIsAdmin(ctx, s.roster, guildID, userID)
}

// CheckSubmit runs every submission gate without writing anything. The
// handlers call it before showing the modal so an ineligible user gets
// turned away up front; Submit re-runs the same gates because the modal
// can sit open while state changes underneath it.
func (s *Service) CheckSubmit(ctx context.Context, guildID, userID, categoryID string) error {
	category, ok := s.cfg.Category(guildID, categoryID)
	if !ok {
		return ErrNotConfigured
	}

	entry, err := s.cooldowns.IsUserBlacklisted(userID)
	if err != nil {
		return fmt.Errorf("failed to check blacklist: %w", err)
	}
	if entry != nil {
		return &BlacklistedError{
			Reason:    entry.Reason,
			Remaining: s.cooldowns.GetTimeRemaining(entry.Timestamp, storage.BlacklistWindow),
		}
	}

	history, err := s.apps.History(guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	var records []storage.Application
	for _, rec := range history {
		if rec.CategoryID == categoryID {
			records = append(records, rec)
		}
	}
	if active, err := s.apps.FindActive(guildID, userID, categoryID); err == nil {
		records = append(records, *active)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read active application: %w", err)
	}

	for _, rec := range records {
		if rec.Status == storage.StatusRejected {
			return ErrPermanentlyRejected
		}
	}
	for _, rec := range records {
		if rec.Status == storage.StatusPending || rec.Status == storage.StatusApproved {
			return ErrDuplicateApplication
		}
	}

	if roleID, ok := category.MustHold(); ok {
		has, err := HasAnyRole(ctx, s.roster, guildID, userID, roleID)
		if err != nil {
			return fmt.Errorf("failed to resolve member roles: %w", err)
		}
		if !has {
			return &PrerequisiteError{RoleID: roleID}
		}
	}
	return nil
}

// Submit records a pending application and posts the review embed to
// the category's admin channel. The record is persisted before any
// Discord call so a delivery failure never loses the submission.
func (s *Service) Submit(ctx context.Context, guildID, userID, categoryID, selfIntroduction string) error {
	if err := s.CheckSubmit(ctx, guildID, userID, categoryID); err != nil {
		return err
	}
	category, _ := s.cfg.Category(guildID, categoryID)

	app := storage.Application{
		GuildID:          guildID,
		UserID:           userID,
		CategoryID:       categoryID,
		ApplyTime:        s.now().UTC().Format(time.RFC3339),
		SelfIntroduction: selfIntroduction,
		Status:           storage.StatusPending,
	}
	if err := s.apps.AddActive(app); err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}

	s.logger.Info("Application submitted",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("category_id", categoryID))

	if category.AdminChannelID == "" {
		s.logger.Warn("No admin channel configured for category",
			slog.String("type", "sys"),
			slog.String("guild_id", guildID),
			slog.String("category_id", categoryID))
		return nil
	}

	embed := discord.NewEmbedBuilder().
		SetTitlef("New %s application", category.DisplayName()).
		SetDescription(selfIntroduction).
		AddField("Applicant", fmt.Sprintf("<@%s>", userID), true).
		AddField("Status", "Awaiting review", true).
		SetColor(colorPending).
		SetTimestamp(s.now()).
		Build()
	row := discord.NewActionRow(
		discord.NewSuccessButton("Approve", ReviewButtonID("approve", guildID, categoryID, userID)),
		discord.NewDangerButton("Reject", ReviewButtonID("reject", guildID, categoryID, userID)),
	)
	if _, err := s.messenger.SendMessage(ctx, category.AdminChannelID, discord.MessageCreate{
		Embeds:     []discord.Embed{embed},
		Components: []discord.ContainerComponent{row},
	}); err != nil {
		s.logger.Error("Failed to post review message",
			slog.String("type", "sys"),
			slog.String("channel_id", category.AdminChannelID),
			slog.Any("error", err))
	}
	return nil
}

// ReviewResult reports a pre-review decision back to the interaction
// handler so it can rewrite the review message.
type ReviewResult struct {
	Application  *storage.Application
	CategoryName string
	Approved     bool
}

// ReviewApprove moves a pending application to approved: a private
// channel is created under the category, the welcome message with the
// finish button is posted there, and the record captures the channel,
// message and reviewer.
func (s *Service) ReviewApprove(ctx context.Context, guildID, categoryID, userID, reviewerID string) (*ReviewResult, error) {
	category, ok := s.cfg.Category(guildID, categoryID)
	if !ok {
		return nil, ErrNotConfigured
	}

	pending, err := s.apps.FindActive(guildID, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if pending.Status != storage.StatusPending {
		return nil, storage.ErrWrongStatus
	}

	name, err := s.roster.MemberDisplayName(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve applicant: %w", err)
	}

	channelID, err := s.roster.CreateMemberChannel(ctx, guildID, categoryID, userID, fmt.Sprintf("%s-application", name))
	if err != nil {
		return nil, fmt.Errorf("failed to create application channel: %w", err)
	}

	welcome := discord.NewEmbedBuilder().
		SetTitlef("Welcome, %s!", name).
		SetDescriptionf("Your **%s** application passed pre-review.", category.DisplayName()).
		AddField("Your introduction", pending.SelfIntroduction, false).
		SetColor(colorApproved).
		SetTimestamp(s.now()).
		Build()
	applicantRow := discord.NewActionRow(
		discord.NewDangerButton("End application", FinishButtonID(guildID, categoryID, userID)),
	)
	adminButtons := []discord.InteractiveComponent{
		discord.NewSuccessButton("Approve", AdminApproveID(guildID, categoryID, userID)),
		discord.NewDangerButton("Reject", AdminRejectID(guildID, categoryID, userID)),
	}
	if len(category.Choose) > 0 {
		adminButtons = append(adminButtons,
			discord.NewPrimaryButton("Approve with extra role", AdminRoleID(guildID, categoryID, userID)))
	}
	messageID, err := s.messenger.SendMessage(ctx, channelID, discord.MessageCreate{
		Content:    fmt.Sprintf("Welcome <@%s>!", userID),
		Embeds:     []discord.Embed{welcome},
		Components: []discord.ContainerComponent{applicantRow, discord.NewActionRow(adminButtons...)},
	})
	if err != nil {
		s.logger.Error("Failed to post welcome message",
			slog.String("type", "sys"),
			slog.String("channel_id", channelID),
			slog.Any("error", err))
	}

	updated, err := s.apps.Transition(guildID, userID, categoryID, storage.StatusPending, func(a *storage.Application) {
		a.Status = storage.StatusApproved
		a.ChannelID = channelID
		a.ReviewerID = reviewerID
		a.MessageID = messageID
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Application pre-approved",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("reviewer_id", reviewerID))

	return &ReviewResult{Application: updated, CategoryName: category.DisplayName(), Approved: true}, nil
}

// ReviewReject marks a pending application rejected. The record stays
// in the active document; its rejected status is what permanently
// blocks resubmission to the category.
func (s *Service) ReviewReject(ctx context.Context, guildID, categoryID, userID, reviewerID string) (*ReviewResult, error) {
	category, ok := s.cfg.Category(guildID, categoryID)
	if !ok {
		return nil, ErrNotConfigured
	}

	updated, err := s.apps.Transition(guildID, userID, categoryID, storage.StatusPending, func(a *storage.Application) {
		a.Status = storage.StatusRejected
		a.ReviewerID = reviewerID
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Application pre-rejected",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("reviewer_id", reviewerID))

	return &ReviewResult{Application: updated, CategoryName: category.DisplayName()}, nil
}

// FindApproved returns the active application if it is in the approved
// stage, for the finish-button branch checks.
func (s *Service) FindApproved(guildID, categoryID, userID string) (*storage.Application, error) {
	app, err := s.apps.FindActive(guildID, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if app.Status != storage.StatusApproved {
		return nil, storage.ErrWrongStatus
	}
	return app, nil
}

// SelfExit lets the applicant close their own approved application. It
// is recorded as a rejection with an exit reason, so the category stays
// blocked like any other rejection.
func (s *Service) SelfExit(ctx context.Context, guildID, categoryID, userID, actorID string) (*storage.Application, error) {
	if actorID != userID {
		return nil, ErrNotApplicant
	}

	processedAt := s.now().UTC().Format(time.RFC3339)
	updated, err := s.apps.Transition(guildID, userID, categoryID, storage.StatusApproved, func(a *storage.Application) {
		a.Status = storage.StatusRejected
		a.ProcessedAt = processedAt
		a.ProcessedBy = userID
		a.Reason = storage.ExitReason
	})
	if err != nil {
		return nil, err
	}
	if err := s.apps.AddToHistory(guildID, *updated); err != nil {
		return nil, fmt.Errorf("failed to archive application: %w", err)
	}

	if err := s.roster.RevokeChannelAccess(ctx, guildID, updated.ChannelID, userID); err != nil {
		s.logger.Error("Failed to revoke channel access",
			slog.String("type", "sys"),
			slog.String("channel_id", updated.ChannelID),
			slog.Any("error", err))
	}

	dm := discord.NewEmbedBuilder().
		SetTitle("Application closed").
		SetDescription("You have closed your application. Contact an administrator if you want to apply again.").
		SetColor(colorExit).
		Build()
	s.sendDM(ctx, userID, dm)

	s.logger.Info("Applicant exited application",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID))

	return updated, nil
}

// FinalApprove completes an approved application: the base role is
// granted, the record moves to history, and the private channel closes
// for the applicant.
func (s *Service) FinalApprove(ctx context.Context, guildID, categoryID, userID, adminID string) (*storage.Application, error) {
	category, ok := s.cfg.Category(guildID, categoryID)
	if !ok {
		return nil, ErrNotConfigured
	}

	taken, err := s.apps.TakeActive(guildID, userID, categoryID, storage.StatusApproved)
	if err != nil {
		return nil, err
	}
	taken.Status = storage.StatusApproved
	taken.ProcessedAt = s.now().UTC().Format(time.RFC3339)
	taken.ProcessedBy = adminID
	if err := s.apps.AddToHistory(guildID, *taken); err != nil {
		return nil, fmt.Errorf("failed to archive application: %w", err)
	}

	if roleID := category.Roles.GiveRoleID; roleID != "" {
		if err := s.roster.GrantRole(ctx, guildID, userID, roleID); err != nil {
			s.logger.Error("Failed to grant role",
				slog.String("type", "sys"),
				slog.String("role_id", roleID),
				slog.String("user_id", userID),
				slog.Any("error", err))
		}
	}

	if err := s.roster.RevokeChannelAccess(ctx, guildID, taken.ChannelID, userID); err != nil {
		s.logger.Error("Failed to revoke channel access",
			slog.String("type", "sys"),
			slog.String("channel_id", taken.ChannelID),
			slog.Any("error", err))
	}

	dm := discord.NewEmbedBuilder().
		SetTitle("🎉 Application approved").
		SetDescriptionf("Congratulations! Your **%s** application was approved.", category.DisplayName()).
		SetColor(colorApproved).
		Build()
	s.sendDM(ctx, userID, dm)

	s.logger.Info("Application finally approved",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("admin_id", adminID))

	return taken, nil
}

// FinalReject rejects an approved application at the finish stage. The
// reason is recorded on the archived record and relayed to the
// applicant.
func (s *Service) FinalReject(ctx context.Context, guildID, categoryID, userID, adminID, reason string) (*storage.Application, error) {
	processedAt := s.now().UTC().Format(time.RFC3339)
	updated, err := s.apps.Transition(guildID, userID, categoryID, storage.StatusApproved, func(a *storage.Application) {
		a.Status = storage.StatusRejected
		a.ProcessedAt = processedAt
		a.ProcessedBy = adminID
		a.Reason = reason
	})
	if err != nil {
		return nil, err
	}
	if err := s.apps.AddToHistory(guildID, *updated); err != nil {
		return nil, fmt.Errorf("failed to archive application: %w", err)
	}

	if err := s.roster.RevokeChannelAccess(ctx, guildID, updated.ChannelID, userID); err != nil {
		s.logger.Error("Failed to revoke channel access",
			slog.String("type", "sys"),
			slog.String("channel_id", updated.ChannelID),
			slog.Any("error", err))
	}

	description := "Unfortunately your application was not approved. Thank you for applying."
	if reason != "" {
		description += fmt.Sprintf("\n\nReason: %s", reason)
	}
	dm := discord.NewEmbedBuilder().
		SetTitle("Application result").
		SetDescription(description).
		SetColor(colorRejected).
		Build()
	s.sendDM(ctx, userID, dm)

	s.logger.Info("Application finally rejected",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("admin_id", adminID))

	return updated, nil
}

// ExtraGrantResult lists the roles granted alongside the closure.
type ExtraGrantResult struct {
	Application *storage.Application
	RoleNames   []string
}

// GrantExtraRole completes an approved application with one of the
// category's optional extra roles in addition to the base role.
func (s *Service) GrantExtraRole(ctx context.Context, guildID, categoryID, userID, adminID, extraRoleID string) (*ExtraGrantResult, error) {
	category, ok := s.cfg.Category(guildID, categoryID)
	if !ok {
		return nil, ErrNotConfigured
	}

	var extra *ExtraRole
	for _, candidate := range category.Choose {
		if candidate.RoleID == extraRoleID {
			copied := candidate
			extra = &copied
			break
		}
	}
	if extra == nil {
		return nil, fmt.Errorf("%w: extra role %s", ErrNotConfigured, extraRoleID)
	}

	taken, err := s.apps.TakeActive(guildID, userID, categoryID, storage.StatusApproved)
	if err != nil {
		return nil, err
	}
	taken.Status = storage.StatusApproved
	taken.ProcessedAt = s.now().UTC().Format(time.RFC3339)
	taken.ProcessedBy = adminID
	taken.ExtraRoles = []string{extraRoleID}
	if err := s.apps.AddToHistory(guildID, *taken); err != nil {
		return nil, fmt.Errorf("failed to archive application: %w", err)
	}

	granted := []string{extra.Name}
	if err := s.roster.GrantRole(ctx, guildID, userID, extraRoleID); err != nil {
		return nil, fmt.Errorf("failed to grant extra role: %w", err)
	}
	if baseRoleID := category.Roles.GiveRoleID; baseRoleID != "" {
		if err := s.roster.GrantRole(ctx, guildID, userID, baseRoleID); err != nil {
			s.logger.Error("Failed to grant base role",
				slog.String("type", "sys"),
				slog.String("role_id", baseRoleID),
				slog.Any("error", err))
		} else if name, err := s.roster.RoleName(ctx, guildID, baseRoleID); err == nil {
			granted = append(granted, name)
		}
	}

	if err := s.roster.RevokeChannelAccess(ctx, guildID, taken.ChannelID, userID); err != nil {
		s.logger.Error("Failed to revoke channel access",
			slog.String("type", "sys"),
			slog.String("channel_id", taken.ChannelID),
			slog.Any("error", err))
	}

	if taken.MessageID != "" {
		if err := s.messenger.EditMessage(ctx, taken.ChannelID, taken.MessageID, discord.MessageUpdate{
			Components: &[]discord.ContainerComponent{},
		}); err != nil {
			s.logger.Warn("Failed to strip welcome message components",
				slog.String("type", "sys"),
				slog.String("message_id", taken.MessageID),
				slog.Any("error", err))
		}
	}

	dm := discord.NewEmbedBuilder().
		SetTitle("🎉 Application approved").
		SetDescriptionf("Congratulations! Your **%s** application was approved.", category.DisplayName()).
		AddField("You were granted", strings.Join(granted, ", "), false).
		SetColor(colorApproved).
		Build()
	s.sendDM(ctx, userID, dm)

	s.logger.Info("Extra role granted",
		slog.String("type", "cmd"),
		slog.String("guild_id", guildID),
		slog.String("user_id", userID),
		slog.String("role_id", extraRoleID),
		slog.String("admin_id", adminID))

	return &ExtraGrantResult{Application: taken, RoleNames: granted}, nil
}

func (s *Service) sendDM(ctx context.Context, userID string, embed discord.Embed) {
	if err := s.messenger.SendDirectMessage(ctx, userID, discord.MessageCreate{
		Embeds: []discord.Embed{embed},
	}); err != nil {
		s.logger.Warn("Failed to DM user",
			slog.String("type", "sys"),
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

