package services

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

type membership struct {
	role   string
	member bool
	err    error
	delay  time.Duration
}

type fakeLookup struct {
	mu      sync.Mutex
	byGroup map[int64]membership
	calls   []int64
}

func (f *fakeLookup) GroupRole(ctx context.Context, accountID, groupID int64) (string, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, groupID)
	m := f.byGroup[groupID]
	f.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.role, m.member, m.err
}

func TestSnapshot_OrderAndMenu(t *testing.T) {
	groups := []domain.GroupRef{
		{ID: 1, Name: "Main"},
		{ID: 2, Name: "A"},
		{ID: 3, Name: "B"},
		{ID: 4, Name: "C"},
	}
	// Earlier groups answer slower so completion order differs from input order.
	l := &fakeLookup{byGroup: map[int64]membership{
		1: {role: "Guest", member: true, delay: 30 * time.Millisecond},
		2: {role: "Captain", member: true, delay: 20 * time.Millisecond},
		3: {member: false, delay: 10 * time.Millisecond},
		4: {role: "Member", member: true},
	}}
	a := NewGroupRankAggregator(l)

	snap := a.Snapshot(context.Background(), 99, groups)

	want := []string{"1:Main-Guest", "2:A-Captain", "3:B-Not in group", "4:C-Member"}
	if got := snap.MenuLines(); !reflect.DeepEqual(got, want) {
		t.Fatalf("MenuLines() = %v; want %v", got, want)
	}
	if len(l.calls) != 4 {
		t.Fatalf("lookups = %v; want one per group", l.calls)
	}
}

func TestSnapshot_DegradesFailedEntryOnly(t *testing.T) {
	groups := []domain.GroupRef{{ID: 1, Name: "Main"}, {ID: 2, Name: "A"}, {ID: 3, Name: "B"}}
	l := &fakeLookup{byGroup: map[int64]membership{
		1: {role: "Guest", member: true},
		2: {err: errors.New("HTTP 503")},
		3: {role: "Sergeant", member: true},
	}}
	a := &GroupRankAggregator{Lookup: l} // zero concurrency means sequential

	snap := a.Snapshot(context.Background(), 1, groups)
	if snap.Len() != 3 {
		t.Fatalf("Len() = %d; want 3", snap.Len())
	}
	e, _ := snap.Choice(2)
	if !e.Degraded || e.Role != "Unknown (error: HTTP 503)" || e.Member() {
		t.Fatalf("entry 2 = %+v; want degraded", e)
	}
	for _, n := range []int{1, 3} {
		e, _ := snap.Choice(n)
		if e.Degraded || !e.Member() {
			t.Fatalf("entry %d = %+v; want healthy member", n, e)
		}
	}
}

func TestSnapshot_Empty(t *testing.T) {
	a := NewGroupRankAggregator(&fakeLookup{})
	if snap := a.Snapshot(context.Background(), 1, nil); snap.Len() != 0 {
		t.Fatalf("empty groups should give empty snapshot")
	}
}
