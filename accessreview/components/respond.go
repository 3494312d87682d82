package components

import (
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/discord"

	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

// gateMessage turns a known eligibility failure into user-facing text.
// A second return of false means the error is not a gate and should
// propagate.
func gateMessage(err error) (string, bool) {
	var blacklisted *apply.BlacklistedError
	if errors.As(err, &blacklisted) {
		msg := fmt.Sprintf("You are currently blacklisted from applying: %s", blacklisted.Reason)
		if blacklisted.Remaining != nil {
			msg += fmt.Sprintf(" (%dh %dm left)", blacklisted.Remaining.HoursLeft, blacklisted.Remaining.MinutesLeft)
		}
		return msg, true
	}
	var prerequisite *apply.PrerequisiteError
	if errors.As(err, &prerequisite) {
		return fmt.Sprintf("You need the <@&%s> role before applying here.", prerequisite.RoleID), true
	}
	var cooldown *apply.CooldownError
	if errors.As(err, &cooldown) {
		msg := "You already used your attempt for today."
		if cooldown.Remaining != nil {
			msg = fmt.Sprintf("You already used your attempt for today. Try again in %dh %dm.",
				cooldown.Remaining.HoursLeft, cooldown.Remaining.MinutesLeft)
		}
		return msg, true
	}

	switch {
	case errors.Is(err, apply.ErrPermanentlyRejected):
		return "A previous application for this category was rejected; you cannot apply again.", true
	case errors.Is(err, apply.ErrDuplicateApplication):
		return "You already have an application in progress for this category.", true
	case errors.Is(err, apply.ErrNotConfigured):
		return "This application category is no longer configured.", true
	case errors.Is(err, apply.ErrNotApplicant):
		return "Only the applicant can use this button.", true
	case errors.Is(err, apply.ErrAlreadyHolding):
		return "You already hold that role.", true
	case errors.Is(err, apply.ErrVoteClosed):
		return "This vote has already been decided.", true
	case errors.Is(err, apply.ErrSelfVote):
		return "You cannot vote on your own request.", true
	case errors.Is(err, apply.ErrNotPermittedToVote):
		return "You do not have a voting role for this committee.", true
	case errors.Is(err, storage.ErrNotFound):
		return "This application no longer exists.", true
	case errors.Is(err, storage.ErrWrongStatus):
		return "This application was already processed.", true
	}
	return "", false
}

func ephemeral(content string) discord.MessageCreate {
	return discord.MessageCreate{
		Content: content,
		Flags:   discord.MessageFlagEphemeral,
	}
}
