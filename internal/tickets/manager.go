// Package tickets opens rank-transfer tickets: a private channel per request,
// a persisted ticket row and one conversation session running in the
// background until it reaches a terminal stage.
package tickets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/chat"
	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/session"
)

// ErrTicketAlreadyOpen is returned when the requester already has a ticket
// in progress.
var ErrTicketAlreadyOpen = errors.New("ticket already open")

var (
	ticketsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tickets_opened_total",
		Help: "Rank-transfer tickets opened.",
	})
	ticketsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tickets_active",
		Help: "Tickets whose conversation is still running.",
	})
	sessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_sessions_finished_total",
		Help: "Finished ticket conversations by terminal stage.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(ticketsOpened, ticketsActive, sessionsFinished)
}

// ChannelProvider is the messaging platform: private ticket channels and
// posting into them.
type ChannelProvider interface {
	// OpenTicketChannel creates a channel visible only to the requester,
	// staff and the bot, and returns its id.
	OpenTicketChannel(ctx context.Context, guildID, requesterID string) (string, error)
	Post(ctx context.Context, channelID, text string) error
	CloseChannel(ctx context.Context, channelID string) error
}

// Store persists ticket rows.
type Store interface {
	Create(ctx context.Context, guildID, requesterID, channelID string) (*domain.Ticket, error)
	FindOpen(ctx context.Context, requesterID string) (*domain.Ticket, error)
	SaveProgress(ctx context.Context, id string, p domain.TicketProgress) error
	Finish(ctx context.Context, id string, p domain.TicketProgress, outcome domain.OutcomeKind, detail string) error
	// AbandonOpen closes every non-terminal ticket and returns them.
	AbandonOpen(ctx context.Context) ([]domain.Ticket, error)
}

// Options configures a Manager.
type Options struct {
	Session session.Config
	// CloseDelay is how long the channel stays up after the final message.
	CloseDelay time.Duration
}

// Manager opens tickets and owns their background sessions.
type Manager struct {
	channels ChannelProvider
	store    Store
	inbox    *chat.Inbox
	deps     session.Deps
	opts     Options

	// base outlives the command that opened a ticket; cancelling it
	// abandons every running session.
	base context.Context

	mu     sync.Mutex
	active map[string]struct{} // requester ids with a running session
	wg     sync.WaitGroup
}

// NewManager returns a Manager whose sessions live until base is done.
func NewManager(base context.Context, channels ChannelProvider, store Store, inbox *chat.Inbox, deps session.Deps, opts Options) *Manager {
	return &Manager{
		channels: channels,
		store:    store,
		inbox:    inbox,
		deps:     deps,
		opts:     opts,
		base:     base,
		active:   make(map[string]struct{}),
	}
}

// restartMessage is the final status of a ticket whose conversation was cut
// off by a restart.
const restartMessage = "The bot restarted while this ticket was open. This ticket is closed; open a new ticket to start over."

// Recover closes tickets left open by a previous process: each one is marked
// abandoned, gets its final message and loses its channel after CloseDelay.
func (m *Manager) Recover(ctx context.Context) error {
	stale, err := m.store.AbandonOpen(ctx)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		log.Warn().Int("tickets", len(stale)).Msg("abandoned tickets left open by a previous run")
	}
	for i := range stale {
		if stale[i].ChannelID == "" {
			continue
		}
		m.wg.Add(1)
		go m.retire(stale[i])
	}
	return nil
}

// retire posts the restart notice into a stale ticket's channel and removes it.
func (m *Manager) retire(t domain.Ticket) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.base), 15*time.Second)
	defer cancel()

	if err := m.channels.Post(ctx, t.ChannelID, restartMessage); err != nil {
		log.Warn().Err(err).Str("ticket_id", t.ID).Msg("restart notice not posted")
	}
	m.closeAfterDelay(t.ID, t.ChannelID)
}

// Open creates a private channel and a ticket for requesterID and starts its
// conversation. It returns as soon as the session is running.
func (m *Manager) Open(ctx context.Context, guildID, requesterID string) (*domain.Ticket, error) {
	if !m.reserve(requesterID) {
		return nil, ErrTicketAlreadyOpen
	}

	t, err := m.open(ctx, guildID, requesterID)
	if err != nil {
		m.release(requesterID)
		return nil, err
	}

	ticketsOpened.Inc()
	ticketsActive.Inc()
	m.wg.Add(1)
	go m.run(t)

	log.Info().
		Str("ticket_id", t.ID).
		Str("requester_id", requesterID).
		Str("channel_id", t.ChannelID).
		Msg("ticket opened")
	return t, nil
}

func (m *Manager) open(ctx context.Context, guildID, requesterID string) (*domain.Ticket, error) {
	if _, err := m.store.FindOpen(ctx, requesterID); err == nil {
		return nil, ErrTicketAlreadyOpen
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	channelID, err := m.channels.OpenTicketChannel(ctx, guildID, requesterID)
	if err != nil {
		return nil, err
	}
	t, err := m.store.Create(ctx, guildID, requesterID, channelID)
	if err != nil {
		if cerr := m.channels.CloseChannel(context.WithoutCancel(ctx), channelID); cerr != nil {
			log.Warn().Err(cerr).Str("channel_id", channelID).Msg("orphan ticket channel not removed")
		}
		return nil, err
	}
	return t, nil
}

// run hosts one session from the first prompt to channel removal.
func (m *Manager) run(t *domain.Ticket) {
	defer m.wg.Done()
	defer ticketsActive.Dec()
	defer m.release(t.RequesterID)

	conv := chat.NewChannelConversation(m.channels, m.inbox, t.ChannelID, t.RequesterID)
	s := session.New(t.ID, t.RequesterID, conv, m.deps, m.opts.Session)
	s.OnTransition = func(ctx context.Context, p domain.TicketProgress) {
		if p.Stage.Terminal() {
			return // written once by Finish below
		}
		if err := m.store.SaveProgress(ctx, t.ID, p); err != nil {
			log.Warn().Err(err).Str("ticket_id", t.ID).Msg("ticket progress not saved")
		}
	}

	res := s.Run(m.base)
	conv.Close()
	sessionsFinished.WithLabelValues(string(res.Progress.Stage)).Inc()

	// Persist and clean up even while shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.base), 15*time.Second)
	defer cancel()

	var kind domain.OutcomeKind
	detail := res.Final
	if res.Outcome != nil {
		kind = res.Outcome.Kind
		if res.Outcome.Detail != "" {
			detail = res.Outcome.Detail
		}
	}
	if err := m.store.Finish(ctx, t.ID, res.Progress, kind, detail); err != nil {
		log.Error().Err(err).Str("ticket_id", t.ID).Msg("ticket result not saved")
	}

	m.closeAfterDelay(t.ID, t.ChannelID)
}

// closeAfterDelay removes a finished ticket's channel once CloseDelay has
// passed, or right away on shutdown.
func (m *Manager) closeAfterDelay(ticketID, channelID string) {
	select {
	case <-time.After(m.opts.CloseDelay):
	case <-m.base.Done():
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.base), 15*time.Second)
	defer cancel()
	if err := m.channels.CloseChannel(ctx, channelID); err != nil {
		log.Warn().Err(err).Str("ticket_id", ticketID).Str("channel_id", channelID).Msg("ticket channel not removed")
	}
}

func (m *Manager) reserve(requesterID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[requesterID]; busy {
		return false
	}
	m.active[requesterID] = struct{}{}
	return true
}

func (m *Manager) release(requesterID string) {
	m.mu.Lock()
	delete(m.active, requesterID)
	m.mu.Unlock()
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Wait blocks until every session has finished and its channel is closed.
func (m *Manager) Wait() {
	m.wg.Wait()
}
