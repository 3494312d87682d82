package handlers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/disgo/rest"
)

const handlerTimeout = 10 * time.Second

// WrapWithLogging wraps a command handler with logging and an outermost
// error boundary: a failed handler answers the interaction with an
// ephemeral message instead of leaving it hanging.
func WrapWithLogging(name string, h handler.CommandHandler) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		start := time.Now()

		slog.Info("Command started",
			slog.String("type", "cmd"),
			slog.String("name", name),
			slog.String("user_id", e.User().ID.String()),
			slog.String("user_name", e.User().Username),
		)

		done := make(chan error, 1)
		go func() {
			done <- h(e)
		}()

		select {
		case err := <-done:
			logOutcome("cmd", name, e.User().Username, start, err)
			if err != nil {
				replyError(e.CreateMessage)
			}
			return err

		case <-time.After(handlerTimeout):
			slog.Error("Command timed out",
				slog.String("type", "cmd"),
				slog.String("name", name),
				slog.String("user_id", e.User().ID.String()),
				slog.Duration("timeout", handlerTimeout),
			)
			return fmt.Errorf("command timed out after %s", handlerTimeout)
		}
	}
}

// WrapComponentWithLogging is the component-interaction counterpart of
// WrapWithLogging.
func WrapComponentWithLogging(name string, h handler.ComponentHandler) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		start := time.Now()

		slog.Info("Component interaction started",
			slog.String("type", "component"),
			slog.String("name", name),
			slog.String("user_id", e.User().ID.String()),
			slog.String("user_name", e.User().Username),
		)

		done := make(chan error, 1)
		go func() {
			done <- h(e)
		}()

		select {
		case err := <-done:
			logOutcome("component", name, e.User().Username, start, err)
			if err != nil {
				replyError(e.CreateMessage)
			}
			return err

		case <-time.After(handlerTimeout):
			slog.Error("Component interaction timed out",
				slog.String("type", "component"),
				slog.String("name", name),
				slog.String("user_id", e.User().ID.String()),
				slog.Duration("timeout", handlerTimeout),
			)
			return fmt.Errorf("component interaction timed out after %s", handlerTimeout)
		}
	}
}

// WrapModalWithLogging is the modal-submit counterpart of
// WrapWithLogging.
func WrapModalWithLogging(name string, h handler.ModalHandler) handler.ModalHandler {
	return func(e *handler.ModalEvent) error {
		start := time.Now()

		slog.Info("Modal submitted",
			slog.String("type", "modal"),
			slog.String("name", name),
			slog.String("user_id", e.User().ID.String()),
			slog.String("user_name", e.User().Username),
		)

		done := make(chan error, 1)
		go func() {
			done <- h(e)
		}()

		select {
		case err := <-done:
			logOutcome("modal", name, e.User().Username, start, err)
			if err != nil {
				replyError(e.CreateMessage)
			}
			return err

		case <-time.After(handlerTimeout):
			slog.Error("Modal submission timed out",
				slog.String("type", "modal"),
				slog.String("name", name),
				slog.String("user_id", e.User().ID.String()),
				slog.Duration("timeout", handlerTimeout),
			)
			return fmt.Errorf("modal submission timed out after %s", handlerTimeout)
		}
	}
}

func logOutcome(kind, name, userName string, start time.Time, err error) {
	duration := time.Since(start)
	attrs := []any{
		slog.String("type", kind),
		slog.String("name", name),
		slog.String("user_name", userName),
		slog.Duration("took", duration),
	}

	switch {
	case err != nil:
		slog.Error("Interaction failed", append(attrs,
			slog.Any("error", err),
			slog.String("status", "failed"),
		)...)
	case duration > 2*time.Second:
		slog.Warn("Interaction executed slowly", append(attrs,
			slog.String("status", "slow"),
		)...)
	default:
		slog.Info("Interaction completed", append(attrs,
			slog.String("status", "success"),
		)...)
	}
}

// replyError makes a best-effort ephemeral reply; if the interaction
// was already answered this fails quietly. The reply is deliberately
// generic: internal error text stays in the logs.
func replyError(create func(discord.MessageCreate, ...rest.RequestOpt) error) {
	_ = create(discord.MessageCreate{
		Embeds: []discord.Embed{{
			Title:       "Something went wrong",
			Description: "There was an error processing your request. Please try again later.",
			Color:       0xFF0000,
		}},
		Flags: discord.MessageFlagEphemeral,
	})
}
