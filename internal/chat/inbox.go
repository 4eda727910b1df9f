// Package chat routes inbound Discord messages to the ticket conversation
// that is currently waiting for them.
//
// A conversation registers interest in the next message from one author in
// one channel, usually before posting its prompt, then races that message
// against a deadline. Messages that
// arrive while nobody is waiting are dropped: input sent before a prompt is
// never replayed into the next stage.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrWaitTimeout is returned by Await when no message arrived in time.
	ErrWaitTimeout = errors.New("timed out waiting for a reply")

	// ErrAlreadyWaiting is returned when a second waiter registers for the
	// same channel and author.
	ErrAlreadyWaiting = errors.New("a reply is already awaited in this channel")
)

type waiterKey struct {
	channelID string
	authorID  string
}

// Inbox is the rendezvous between the Discord event handler and waiting
// conversations. The zero value is not usable; call NewInbox.
type Inbox struct {
	mu      sync.Mutex
	waiters map[waiterKey]chan string
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{waiters: make(map[waiterKey]chan string)}
}

// Deliver hands content to the conversation waiting on (channelID, authorID).
// It never blocks and reports whether a waiter took the message.
func (in *Inbox) Deliver(channelID, authorID, content string) bool {
	k := waiterKey{channelID, authorID}

	in.mu.Lock()
	ch, ok := in.waiters[k]
	if ok {
		// One message per wait; later ones are dropped until the next Await.
		delete(in.waiters, k)
	}
	in.mu.Unlock()

	if !ok {
		return false
	}
	ch <- content // buffered, exactly one send per registration
	return true
}

// Pending is a registered interest in the next message from one author in
// one channel. Messages delivered after Expect and before Wait are kept.
type Pending struct {
	in   *Inbox
	k    waiterKey
	ch   chan string
	done bool
}

// Expect registers for the next message from authorID in channelID without
// blocking. The registration ends with Wait or Cancel.
func (in *Inbox) Expect(channelID, authorID string) (*Pending, error) {
	k := waiterKey{channelID, authorID}
	ch := make(chan string, 1)

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, busy := in.waiters[k]; busy {
		return nil, ErrAlreadyWaiting
	}
	in.waiters[k] = ch
	return &Pending{in: in, k: k, ch: ch}, nil
}

// Wait blocks until the expected message arrives, the timeout elapses
// (ErrWaitTimeout) or ctx is done (ctx.Err()). It must be called at most
// once and from the goroutine that owns p.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	p.done = true
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-p.ch:
		return msg, nil
	case <-timer.C:
		if msg, ok := p.in.cancel(p.k, p.ch); ok {
			return msg, nil
		}
		return "", ErrWaitTimeout
	case <-ctx.Done():
		if msg, ok := p.in.cancel(p.k, p.ch); ok {
			return msg, nil
		}
		return "", ctx.Err()
	}
}

// Cancel drops the registration and any message it already received.
func (p *Pending) Cancel() {
	if p.done {
		return
	}
	p.done = true
	p.in.cancel(p.k, p.ch)
}

// Await is Expect followed by Wait.
func (in *Inbox) Await(ctx context.Context, channelID, authorID string, timeout time.Duration) (string, error) {
	p, err := in.Expect(channelID, authorID)
	if err != nil {
		return "", err
	}
	return p.Wait(ctx, timeout)
}

// cancel unregisters ch. If Deliver already claimed the registration, the
// message it sent is returned instead so it is not lost.
func (in *Inbox) cancel(k waiterKey, ch chan string) (string, bool) {
	in.mu.Lock()
	if cur, ok := in.waiters[k]; ok && cur == ch {
		delete(in.waiters, k)
		in.mu.Unlock()
		return "", false
	}
	in.mu.Unlock()
	return <-ch, true
}

// Waiting returns the number of registered waiters.
func (in *Inbox) Waiting() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.waiters)
}
