package components

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/handler"

	"github.com/ellavondegurechaff/accessreview/accessreview"
	"github.com/ellavondegurechaff/accessreview/accessreview/apply"
)

// VoteHandler records a committee ballot and re-evaluates the vote.
func VoteHandler(b *accessreview.Bot) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		voteID := e.Vars["vote"]
		voterID := e.User().ID.String()

		var action apply.BallotAction
		switch e.Vars["action"] {
		case "approve":
			action = apply.BallotApprove
		case "reject":
			action = apply.BallotReject
		default:
			return fmt.Errorf("unknown vote action %q", e.Vars["action"])
		}

		outcome, err := b.VoteEngine.CastBallot(ctx, voteID, voterID, action)
		if err != nil {
			if msg, ok := gateMessage(err); ok {
				return e.CreateMessage(ephemeral(msg))
			}
			return err
		}

		if outcome.Retracted {
			return e.CreateMessage(ephemeral("Your ballot was withdrawn."))
		}
		return e.CreateMessage(ephemeral("Your ballot was counted."))
	}
}
