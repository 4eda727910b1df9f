package tickets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/chat"
	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/services"
	"github.com/Scripto81/Discordbottytyty/internal/session"
)

// ----- fakes -----

type fakeChannels struct {
	mu      sync.Mutex
	opened  []string
	closed  []string
	posts   map[string][]string
	openErr error
}

func (f *fakeChannels) OpenTicketChannel(ctx context.Context, guildID, requesterID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	id := "ch-" + requesterID
	f.opened = append(f.opened, id)
	return id, nil
}

func (f *fakeChannels) Post(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posts == nil {
		f.posts = map[string][]string{}
	}
	f.posts[channelID] = append(f.posts[channelID], text)
	return nil
}

func (f *fakeChannels) CloseChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, channelID)
	return nil
}

func (f *fakeChannels) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

func (f *fakeChannels) lastPost(channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[channelID]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

type fakeStore struct {
	mu        sync.Mutex
	tickets   map[string]*domain.Ticket
	stages    []domain.Stage
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tickets: map[string]*domain.Ticket{}}
}

func (s *fakeStore) Create(ctx context.Context, guildID, requesterID, channelID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	t := &domain.Ticket{
		ID:          "t-" + requesterID,
		GuildID:     guildID,
		RequesterID: requesterID,
		ChannelID:   channelID,
		Stage:       domain.StageAwaitUsername,
	}
	s.tickets[t.ID] = t
	return t, nil
}

func (s *fakeStore) FindOpen(ctx context.Context, requesterID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.RequesterID == requesterID && t.Open() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) SaveProgress(ctx context.Context, id string, p domain.TicketProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t.Stage = p.Stage
	t.Username = p.Username
	t.AccountID = p.AccountID
	s.stages = append(s.stages, p.Stage)
	return nil
}

func (s *fakeStore) Finish(ctx context.Context, id string, p domain.TicketProgress, outcome domain.OutcomeKind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now().UTC()
	t.Stage = p.Stage
	t.Username = p.Username
	t.AccountID = p.AccountID
	t.SourceGroupID = p.SourceGroupID
	t.SourceRole = p.SourceRole
	t.Outcome = outcome
	t.Detail = detail
	t.ClosedAt = &now
	return nil
}

func (s *fakeStore) AbandonOpen(ctx context.Context) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.Open() {
			t.Stage = domain.StageAbandoned
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) get(id string) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tickets[id]
}

type stubIdentity struct{}

func (stubIdentity) ResolveUsername(ctx context.Context, username string) (int64, error) {
	return 42, nil
}

type registryProfiles struct{ reg *services.VerificationRegistry }

func (p registryProfiles) ProfileDescription(ctx context.Context, accountID int64) (string, error) {
	v, _ := p.reg.Verify("Builder")
	return "hi " + v.Code, nil
}

type stubRanks struct{}

func (stubRanks) Snapshot(ctx context.Context, accountID int64, groups []domain.GroupRef) domain.GroupRankSnapshot {
	entries := make([]domain.GroupRank, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, domain.GroupRank{Group: g, Role: "Captain"})
	}
	return domain.NewGroupRankSnapshot(entries)
}

type stubTransfers struct{}

func (stubTransfers) Transfer(ctx context.Context, accountID int64, sourceRole string, targetGroupID int64) domain.TransferOutcome {
	return domain.TransferSucceeded(sourceRole)
}

// ----- helpers -----

var testGroups = session.Config{
	MainGroup:       domain.GroupRef{ID: 1, Name: "Main"},
	SecondaryGroups: []domain.GroupRef{{ID: 2, Name: "Second"}},
}

func newManager(t *testing.T, base context.Context, ch *fakeChannels, st *fakeStore, inbox *chat.Inbox, deps session.Deps, wait time.Duration) *Manager {
	t.Helper()
	cfg := testGroups
	cfg.WaitTimeout = wait
	return NewManager(base, ch, st, inbox, deps, Options{Session: cfg})
}

// reply delivers text once the session is waiting for the requester.
func reply(t *testing.T, inbox *chat.Inbox, channelID, authorID, text string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !inbox.Deliver(channelID, authorID, text) {
		if time.Now().After(deadline) {
			t.Fatalf("session never waited for %q", text)
		}
		time.Sleep(time.Millisecond)
	}
}

// ----- tests -----

func TestOpen_FullTransfer(t *testing.T) {
	ch := &fakeChannels{}
	st := newFakeStore()
	inbox := chat.NewInbox()
	reg := services.NewVerificationRegistry(time.Hour)
	deps := session.Deps{
		Identity:  stubIdentity{},
		Profiles:  registryProfiles{reg: reg},
		Verifier:  reg,
		Ranks:     stubRanks{},
		Transfers: stubTransfers{},
	}
	m := newManager(t, context.Background(), ch, st, inbox, deps, time.Second)

	tk, err := m.Open(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tk.ChannelID != "ch-u1" {
		t.Fatalf("channel = %q", tk.ChannelID)
	}

	reply(t, inbox, tk.ChannelID, "u1", "Builder")
	reply(t, inbox, tk.ChannelID, "u1", "done")
	reply(t, inbox, tk.ChannelID, "u1", "2")
	m.Wait()

	got := st.get(tk.ID)
	if got.Stage != domain.StageCompleted || got.Outcome != domain.OutcomeSuccess || got.SourceRole != "Captain" || got.ClosedAt == nil {
		t.Fatalf("finished ticket = %+v", got)
	}
	if !strings.HasPrefix(ch.lastPost(tk.ChannelID), "Done!") {
		t.Fatalf("final post = %q", ch.lastPost(tk.ChannelID))
	}
	if ch.closedCount() != 1 {
		t.Fatalf("channel closes = %d; want 1", ch.closedCount())
	}
	if m.Active() != 0 {
		t.Fatalf("active = %d after finish", m.Active())
	}

	// progress was persisted before the terminal write
	want := []domain.Stage{domain.StageAwaitUsername, domain.StageAwaitVerificationConfirm, domain.StageAwaitGroupSelection, domain.StageTransferring}
	st.mu.Lock()
	stages := append([]domain.Stage(nil), st.stages...)
	st.mu.Unlock()
	if len(stages) != len(want) {
		t.Fatalf("saved stages = %v; want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("saved stages = %v; want %v", stages, want)
		}
	}
}

func TestOpen_SilentRequesterIsAbandoned(t *testing.T) {
	ch := &fakeChannels{}
	st := newFakeStore()
	m := newManager(t, context.Background(), ch, st, chat.NewInbox(), session.Deps{}, 20*time.Millisecond)

	tk, err := m.Open(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.Wait()

	got := st.get(tk.ID)
	if got.Stage != domain.StageAbandoned || got.ClosedAt == nil {
		t.Fatalf("ticket = %+v; want abandoned", got)
	}
	if !strings.Contains(got.Detail, "No reply") {
		t.Fatalf("detail = %q; want the final message", got.Detail)
	}
	if ch.closedCount() != 1 {
		t.Fatalf("channel closes = %d; want 1", ch.closedCount())
	}
}

func TestOpen_OneTicketPerRequester(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	ch := &fakeChannels{}
	st := newFakeStore()
	m := newManager(t, base, ch, st, chat.NewInbox(), session.Deps{}, time.Minute)
	m.opts.CloseDelay = time.Hour // shutdown must cut this short

	if _, err := m.Open(context.Background(), "g1", "u1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.Open(context.Background(), "g1", "u1"); !errors.Is(err, ErrTicketAlreadyOpen) {
		t.Fatalf("second Open err = %v; want ErrTicketAlreadyOpen", err)
	}
	if _, err := m.Open(context.Background(), "g1", "u2"); err != nil {
		t.Fatalf("other requester Open: %v", err)
	}
	if m.Active() != 2 {
		t.Fatalf("active = %d; want 2", m.Active())
	}

	cancel()
	m.Wait()

	for _, id := range []string{"t-u1", "t-u2"} {
		if got := st.get(id); got.Stage != domain.StageAbandoned {
			t.Fatalf("%s stage = %s; want abandoned on shutdown", id, got.Stage)
		}
	}
	if ch.closedCount() != 2 {
		t.Fatalf("channel closes = %d; want 2", ch.closedCount())
	}
}

func TestOpen_PersistedOpenTicketBlocks(t *testing.T) {
	ch := &fakeChannels{}
	st := newFakeStore()
	st.tickets["old"] = &domain.Ticket{ID: "old", RequesterID: "u1", Stage: domain.StageAwaitGroupSelection}
	m := newManager(t, context.Background(), ch, st, chat.NewInbox(), session.Deps{}, time.Second)

	if _, err := m.Open(context.Background(), "g1", "u1"); !errors.Is(err, ErrTicketAlreadyOpen) {
		t.Fatalf("err = %v; want ErrTicketAlreadyOpen", err)
	}
	if len(ch.opened) != 0 {
		t.Fatalf("no channel should be opened, got %v", ch.opened)
	}
	if m.Active() != 0 {
		t.Fatalf("reservation leaked")
	}
}

func TestOpen_CreateFailureRemovesChannel(t *testing.T) {
	ch := &fakeChannels{}
	st := newFakeStore()
	st.createErr = errors.New("disk full")
	m := newManager(t, context.Background(), ch, st, chat.NewInbox(), session.Deps{}, time.Second)

	if _, err := m.Open(context.Background(), "g1", "u1"); err == nil || err.Error() != "disk full" {
		t.Fatalf("err = %v; want disk full", err)
	}
	if ch.closedCount() != 1 {
		t.Fatalf("orphan channel not closed")
	}
	if m.Active() != 0 {
		t.Fatalf("reservation leaked")
	}
}

func TestOpen_ChannelFailure(t *testing.T) {
	ch := &fakeChannels{openErr: errors.New("missing permissions")}
	m := newManager(t, context.Background(), ch, newFakeStore(), chat.NewInbox(), session.Deps{}, time.Second)

	if _, err := m.Open(context.Background(), "g1", "u1"); err == nil {
		t.Fatalf("expected error")
	}
	if m.Active() != 0 {
		t.Fatalf("reservation leaked")
	}
}

func TestRecover_NotifiesAndClosesStaleTickets(t *testing.T) {
	st := newFakeStore()
	st.tickets["a"] = &domain.Ticket{ID: "a", RequesterID: "u1", ChannelID: "ch-a", Stage: domain.StageAwaitVerificationConfirm}
	st.tickets["b"] = &domain.Ticket{ID: "b", RequesterID: "u2", ChannelID: "ch-b", Stage: domain.StageTransferring}
	st.tickets["c"] = &domain.Ticket{ID: "c", RequesterID: "u3", ChannelID: "ch-c", Stage: domain.StageCompleted}
	ch := &fakeChannels{}
	m := newManager(t, context.Background(), ch, st, chat.NewInbox(), session.Deps{}, time.Second)

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	m.Wait()

	for _, id := range []string{"a", "b"} {
		if got := st.get(id); got.Stage != domain.StageAbandoned {
			t.Fatalf("ticket %s stage = %s; want abandoned", id, got.Stage)
		}
		ch.mu.Lock()
		posts := ch.posts["ch-"+id]
		ch.mu.Unlock()
		if len(posts) != 1 || posts[0] != restartMessage {
			t.Fatalf("posts in ch-%s = %v; want one restart notice", id, posts)
		}
	}
	if ch.lastPost("ch-c") != "" {
		t.Fatalf("finished ticket must not be notified")
	}
	ch.mu.Lock()
	closed := append([]string(nil), ch.closed...)
	ch.mu.Unlock()
	if len(closed) != 2 {
		t.Fatalf("closed = %v; want ch-a and ch-b", closed)
	}
	for _, c := range closed {
		if c != "ch-a" && c != "ch-b" {
			t.Fatalf("closed unexpected channel %q", c)
		}
	}
}

func TestRecover_NothingOpen(t *testing.T) {
	ch := &fakeChannels{}
	m := newManager(t, context.Background(), ch, newFakeStore(), chat.NewInbox(), session.Deps{}, time.Second)
	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	m.Wait()
	if ch.closedCount() != 0 {
		t.Fatalf("closed %d channels with nothing open", ch.closedCount())
	}
}
