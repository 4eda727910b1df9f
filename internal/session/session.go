// Package session drives one rank-transfer ticket's conversation:
//
//	AwaitUsername -> AwaitVerificationConfirm -> AwaitGroupSelection
//	  -> Transferring -> Completed | Failed
//
// Any Await stage ends in Abandoned when its retry budget is spent or the
// requester stays silent past the wait deadline. Every terminal stage posts
// exactly one final message into the ticket channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/roblox"
)

// Conversation is the ticket channel as seen by the session.
type Conversation interface {
	Send(ctx context.Context, text string) error
	Await(ctx context.Context, timeout time.Duration) (string, error)
}

type IdentityResolver interface {
	ResolveUsername(ctx context.Context, username string) (int64, error)
}

type ProfileFetcher interface {
	ProfileDescription(ctx context.Context, accountID int64) (string, error)
}

// Verifier is the shared registry of outstanding challenges.
type Verifier interface {
	Issue(username, requesterID string) string
	Verify(username string) (domain.PendingVerification, bool)
	Consume(username string)
}

type Aggregator interface {
	Snapshot(ctx context.Context, accountID int64, groups []domain.GroupRef) domain.GroupRankSnapshot
}

type Transferrer interface {
	Transfer(ctx context.Context, accountID int64, sourceRole string, targetGroupID int64) domain.TransferOutcome
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Identity  IdentityResolver
	Profiles  ProfileFetcher
	Verifier  Verifier
	Ranks     Aggregator
	Transfers Transferrer
}

// Config holds the workflow limits and the group layout.
type Config struct {
	MainGroup       domain.GroupRef
	SecondaryGroups []domain.GroupRef
	RetryBudget     int
	WaitTimeout     time.Duration
	ConfirmToken    string
}

// Result is the terminal state of a session.
type Result struct {
	Progress domain.TicketProgress
	// Outcome is set when the selection reached a transfer decision
	// (including the not-a-member rejection).
	Outcome *domain.TransferOutcome
	// Final is the last message posted to the requester.
	Final string
}

// Session owns one ticket's conversation state. It is not safe for
// concurrent use; Run is called once.
type Session struct {
	ID          string
	RequesterID string

	// OnTransition, when set, observes every stage change.
	OnTransition func(ctx context.Context, p domain.TicketProgress)

	conv Conversation
	deps Deps
	cfg  Config
	log  zerolog.Logger

	progress domain.TicketProgress
	code     string
	snapshot domain.GroupRankSnapshot
}

// New prepares a session for ticket id, talking to requesterID through conv.
func New(id, requesterID string, conv Conversation, deps Deps, cfg Config) *Session {
	if cfg.RetryBudget < 1 {
		cfg.RetryBudget = 3
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 300 * time.Second
	}
	if cfg.ConfirmToken == "" {
		cfg.ConfirmToken = "done"
	}
	return &Session{
		ID:          id,
		RequesterID: requesterID,
		conv:        conv,
		deps:        deps,
		cfg:         cfg,
		log:         log.With().Str("ticket_id", id).Str("requester_id", requesterID).Logger(),
	}
}

// Stage returns the current stage.
func (s *Session) Stage() domain.Stage { return s.progress.Stage }

// Run drives the conversation to a terminal stage and returns the result.
func (s *Session) Run(ctx context.Context) Result {
	err := s.run(ctx)

	var (
		ab   *abandonError
		fail *failError
		res  Result
	)
	if err != nil && ctx.Err() != nil && !errors.As(err, &fail) {
		err = &abandonError{reason: abandonShutdown}
	}
	switch {
	case err == nil:
		out := domain.TransferSucceeded(s.progress.SourceRole)
		res.Outcome = &out
		res.Final = s.completedMessage()
		s.enter(ctx, domain.StageCompleted)
	case errors.As(err, &ab):
		res.Final = s.abandonedMessage(ab.reason)
		s.enter(ctx, domain.StageAbandoned)
	case errors.As(err, &fail):
		res.Final = fail.message
		res.Outcome = fail.outcome
		s.enter(ctx, domain.StageFailed)
	default:
		res.Final = "Something went wrong while handling this ticket. Please open a new ticket."
		s.log.Error().Err(err).Str("stage", string(s.progress.Stage)).Msg("session failed")
		s.enter(ctx, domain.StageFailed)
	}
	res.Progress = s.progress

	// The final message must go out even when ctx was cancelled.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := s.conv.Send(sendCtx, res.Final); serr != nil {
		s.log.Warn().Err(serr).Msg("final message not delivered")
	}

	s.log.Info().
		Str("stage", string(res.Progress.Stage)).
		Int64("account_id", res.Progress.AccountID).
		Msg("ticket session finished")
	return res
}

func (s *Session) run(ctx context.Context) error {
	s.enter(ctx, domain.StageAwaitUsername)
	if err := s.conv.Send(ctx, "Reply with your Roblox username to start the rank transfer."); err != nil {
		return err
	}
	if err := s.awaitUsername(ctx); err != nil {
		return err
	}

	s.enter(ctx, domain.StageAwaitVerificationConfirm)
	if err := s.conv.Send(ctx, s.challengeMessage()); err != nil {
		return err
	}
	if err := s.awaitConfirmation(ctx); err != nil {
		return err
	}

	s.snapshot = s.deps.Ranks.Snapshot(ctx, s.progress.AccountID, s.groups())
	s.enter(ctx, domain.StageAwaitGroupSelection)
	if err := s.conv.Send(ctx, s.menuMessage()); err != nil {
		return err
	}
	choice, err := s.awaitSelection(ctx)
	if err != nil {
		return err
	}

	s.progress.SourceGroupID = choice.Group.ID
	s.progress.SourceRole = choice.Role
	s.enter(ctx, domain.StageTransferring)
	if err := s.conv.Send(ctx, fmt.Sprintf("Transferring **%s** from %s to %s...",
		choice.Role, choice.Group.Label(), s.cfg.MainGroup.Label())); err != nil {
		return err
	}
	return s.transfer(ctx, choice)
}

func (s *Session) awaitUsername(ctx context.Context) error {
	type identity struct {
		username  string
		accountID int64
	}
	id, err := awaitValid(ctx, s, s.cfg.RetryBudget, func(ctx context.Context, input string) (identity, error) {
		if input == "" {
			return identity{}, reject("Reply with your Roblox username.")
		}
		accountID, err := s.deps.Identity.ResolveUsername(ctx, input)
		if err != nil {
			if errors.Is(err, roblox.ErrUserNotFound) {
				return identity{}, reject("No Roblox account is named %q. Check the spelling and reply with your username.", input)
			}
			s.log.Warn().Err(err).Str("username", input).Msg("username lookup failed")
			return identity{}, reject("Roblox could not look up %q right now. Reply with your username to try again.", input)
		}
		return identity{username: input, accountID: accountID}, nil
	})
	if err != nil {
		return err
	}
	s.progress.Username = id.username
	s.progress.AccountID = id.accountID
	s.code = s.deps.Verifier.Issue(id.username, s.RequesterID)
	return nil
}

func (s *Session) awaitConfirmation(ctx context.Context) error {
	token := strings.ToLower(s.cfg.ConfirmToken)
	_, err := awaitValid(ctx, s, s.cfg.RetryBudget, func(ctx context.Context, input string) (struct{}, error) {
		if strings.ToLower(input) != token {
			return struct{}{}, reject("Reply `%s` once `%s` is in your Roblox profile's About section.", token, s.code)
		}

		// A later ticket for the same username replaces this one's code.
		p, ok := s.deps.Verifier.Verify(s.progress.Username)
		if !ok || p.Code != s.code || p.RequesterID != s.RequesterID {
			return struct{}{}, &failError{message: fmt.Sprintf(
				"The verification code for %s was replaced by a newer request or has expired. Please open a new ticket.",
				s.progress.Username)}
		}

		desc, err := s.deps.Profiles.ProfileDescription(ctx, s.progress.AccountID)
		if err != nil {
			s.log.Warn().Err(err).Int64("account_id", s.progress.AccountID).Msg("profile fetch failed")
			return struct{}{}, reject("Roblox could not load your profile right now. Reply `%s` to try again; your code is still `%s`.", token, s.code)
		}
		if !strings.Contains(desc, s.code) {
			return struct{}{}, reject("`%s` is not in your profile's About section yet. Save it there and reply `%s`.", s.code, token)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	s.deps.Verifier.Consume(s.progress.Username)
	return nil
}

func (s *Session) awaitSelection(ctx context.Context) (domain.GroupRank, error) {
	n := s.snapshot.Len()
	return awaitValid(ctx, s, s.cfg.RetryBudget, func(ctx context.Context, input string) (domain.GroupRank, error) {
		i, err := strconv.Atoi(input)
		if err != nil {
			return domain.GroupRank{}, reject("Reply with a number between 1 and %d.", n)
		}
		e, ok := s.snapshot.Choice(i)
		if !ok {
			return domain.GroupRank{}, reject("Reply with a number between 1 and %d.", n)
		}
		switch {
		case e.Group.ID == s.cfg.MainGroup.ID:
			return domain.GroupRank{}, reject("%s is where ranks are transferred to. Pick a different group.", e.Group.Label())
		case e.Degraded:
			return domain.GroupRank{}, reject("Your rank in %s could not be read. Pick a different group.", e.Group.Label())
		case e.Role == domain.NotInGroup:
			out := domain.TransferNotAMember(e.Group.Label())
			return domain.GroupRank{}, &failError{
				message: fmt.Sprintf("You are not a member of %s. Join it first, then open a new ticket.", e.Group.Label()),
				outcome: &out,
			}
		}
		return e, nil
	})
}

func (s *Session) transfer(ctx context.Context, choice domain.GroupRank) error {
	out := s.deps.Transfers.Transfer(ctx, s.progress.AccountID, choice.Role, s.cfg.MainGroup.ID)
	switch out.Kind {
	case domain.OutcomeSuccess:
		return nil
	case domain.OutcomeRoleNotFoundInTarget:
		return &failError{
			message: fmt.Sprintf("%s has no role named **%s**, so this rank cannot be transferred. Staff need to align the role names.",
				s.cfg.MainGroup.Label(), choice.Role),
			outcome: &out,
		}
	default:
		return &failError{
			message: fmt.Sprintf("Roblox rejected the rank transfer: %s. Please open a new ticket to try again.", out.Detail),
			outcome: &out,
		}
	}
}

// enter records a stage change and notifies the observer.
func (s *Session) enter(ctx context.Context, stage domain.Stage) {
	s.progress.Stage = stage
	s.log.Debug().Str("stage", string(stage)).Msg("stage")
	if s.OnTransition != nil {
		s.OnTransition(context.WithoutCancel(ctx), s.progress)
	}
}

func (s *Session) groups() []domain.GroupRef {
	out := make([]domain.GroupRef, 0, 1+len(s.cfg.SecondaryGroups))
	out = append(out, s.cfg.MainGroup)
	return append(out, s.cfg.SecondaryGroups...)
}

func (s *Session) challengeMessage() string {
	return fmt.Sprintf("Found **%s**. To prove the account is yours, put this code in your Roblox profile's About section:\n`%s`\nThen reply `%s`.",
		s.progress.Username, s.code, strings.ToLower(s.cfg.ConfirmToken))
}

func (s *Session) menuMessage() string {
	var b strings.Builder
	b.WriteString("Verified. Your ranks:\n")
	for _, l := range s.snapshot.MenuLines() {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Reply with the number of the group whose rank should be transferred to %s.", s.cfg.MainGroup.Label())
	return b.String()
}

func (s *Session) completedMessage() string {
	return fmt.Sprintf("Done! %s now holds **%s** in %s.",
		s.progress.Username, s.progress.SourceRole, s.cfg.MainGroup.Label())
}

func (s *Session) abandonedMessage(r abandonReason) string {
	switch r {
	case abandonRetries:
		return "Too many invalid replies. This ticket is closed; open a new ticket to start over."
	case abandonTimeout:
		return fmt.Sprintf("No reply within %s. This ticket is closed; open a new ticket to start over.", s.cfg.WaitTimeout)
	default:
		return "The bot is shutting down. This ticket is closed; open a new ticket later."
	}
}
