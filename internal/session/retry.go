package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Scripto81/Discordbottytyty/internal/chat"
	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// InputError rejects one reply. The stage re-prompts with Reprompt and
// spends one unit of its retry budget.
type InputError struct {
	Reprompt string
}

func (e *InputError) Error() string { return "invalid input: " + e.Reprompt }

func reject(format string, args ...any) error {
	return &InputError{Reprompt: fmt.Sprintf(format, args...)}
}

// abandonReason says why a stage gave up waiting.
type abandonReason int

const (
	abandonRetries abandonReason = iota + 1
	abandonTimeout
	abandonShutdown
)

type abandonError struct{ reason abandonReason }

func (e *abandonError) Error() string {
	switch e.reason {
	case abandonRetries:
		return "retry budget exhausted"
	case abandonTimeout:
		return "wait deadline elapsed"
	default:
		return "session cancelled"
	}
}

// failError ends the session in the Failed stage with a final message.
type failError struct {
	message string
	outcome *domain.TransferOutcome
}

func (e *failError) Error() string { return e.message }

// awaitValid reads replies until parse accepts one. Each *InputError spends
// one unit of budget and re-prompts; the reply that exhausts the budget ends
// the stage with abandonRetries. A timeout or cancelled ctx abandons the
// stage; any other error from parse or the conversation is returned as is.
func awaitValid[T any](ctx context.Context, s *Session, budget int, parse func(ctx context.Context, input string) (T, error)) (T, error) {
	var zero T
	for {
		input, err := s.conv.Await(ctx, s.cfg.WaitTimeout)
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrWaitTimeout):
				return zero, &abandonError{reason: abandonTimeout}
			case ctx.Err() != nil:
				return zero, &abandonError{reason: abandonShutdown}
			default:
				return zero, err
			}
		}

		v, err := parse(ctx, strings.TrimSpace(input))
		if err == nil {
			return v, nil
		}
		var ie *InputError
		if !errors.As(err, &ie) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, &abandonError{reason: abandonShutdown}
		}

		budget--
		s.log.Debug().
			Str("stage", string(s.progress.Stage)).
			Int("retries_left", budget).
			Msg("invalid reply")
		if budget <= 0 {
			return zero, &abandonError{reason: abandonRetries}
		}
		if err := s.conv.Send(ctx, ie.Reprompt); err != nil {
			return zero, err
		}
	}
}
