package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// ----- Fake repo -----

type fakeTicketRepo struct {
	getID     string
	getTicket *domain.Ticket
	getErr    error

	countRequester string
	countTotal     int64
	countErr       error

	pageRequester string
	pageOffset    int
	pageLimit     int
	pageItems     []domain.Ticket
	pageErr       error
	pageCalled    bool
}

func (r *fakeTicketRepo) GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	r.getID = id
	return r.getTicket, r.getErr
}

func (r *fakeTicketRepo) CountTickets(ctx context.Context, db *gorm.DB, requesterID string) (int64, error) {
	r.countRequester = requesterID
	return r.countTotal, r.countErr
}

func (r *fakeTicketRepo) ListTicketsPage(ctx context.Context, db *gorm.DB, requesterID string, offset, limit int) ([]domain.Ticket, error) {
	r.pageCalled = true
	r.pageRequester, r.pageOffset, r.pageLimit = requesterID, offset, limit
	return r.pageItems, r.pageErr
}

// ----- Tests -----

func TestTicketService_Get(t *testing.T) {
	r := &fakeTicketRepo{getTicket: &domain.Ticket{ID: "t1"}}
	s := NewTicketService(nil, r)

	got, err := s.Get(context.Background(), "t1")
	if err != nil || got.ID != "t1" || r.getID != "t1" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	r.getTicket, r.getErr = nil, gorm.ErrRecordNotFound
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("Get(missing) err = %v; want ErrTicketNotFound", err)
	}

	boom := errors.New("db down")
	r.getErr = boom
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("Get(db error) err = %v; want passthrough", err)
	}
}

func TestTicketService_ListPage(t *testing.T) {
	cases := []struct {
		name       string
		page, size int
		wantOffset int
		wantLimit  int
	}{
		{"defaults", 0, 0, 0, 20},
		{"second page", 2, 5, 5, 5},
		{"negative page", -3, 10, 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeTicketRepo{countTotal: 12, pageItems: []domain.Ticket{{ID: "a"}}}
			s := NewTicketService(nil, r)
			items, total, err := s.ListPage(context.Background(), "u1", tc.page, tc.size)
			if err != nil {
				t.Fatalf("ListPage: %v", err)
			}
			if total != 12 || len(items) != 1 {
				t.Fatalf("ListPage = %v, %d", items, total)
			}
			if r.pageOffset != tc.wantOffset || r.pageLimit != tc.wantLimit || r.pageRequester != "u1" || r.countRequester != "u1" {
				t.Fatalf("repo args offset=%d limit=%d requester=%q", r.pageOffset, r.pageLimit, r.pageRequester)
			}
		})
	}
}

func TestTicketService_ListPage_EmptyAndErrors(t *testing.T) {
	r := &fakeTicketRepo{}
	s := NewTicketService(nil, r)
	items, total, err := s.ListPage(context.Background(), "", 1, 10)
	if err != nil || total != 0 || items == nil || len(items) != 0 || r.pageCalled {
		t.Fatalf("empty ListPage = %v, %d, %v (pageCalled=%v)", items, total, err, r.pageCalled)
	}

	r.countErr = errors.New("count failed")
	if _, _, err := s.ListPage(context.Background(), "", 1, 10); err == nil {
		t.Fatalf("expected count error")
	}
}
