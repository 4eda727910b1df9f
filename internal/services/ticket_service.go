// Package services – TicketService
//
// This file implements the read side of tickets for the ops API: fetching a
// single ticket and listing tickets with pagination and an optional
// requester filter.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/utils"
)

// TicketRepo defines the repository contract required by TicketService.
type TicketRepo interface {
	// GetTicket fetches a ticket by ID.
	GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error)

	// CountTickets returns the total number of tickets for pagination.
	CountTickets(ctx context.Context, db *gorm.DB, requesterID string) (int64, error)

	// ListTicketsPage returns a page of tickets, newest first.
	ListTicketsPage(ctx context.Context, db *gorm.DB, requesterID string, offset, limit int) ([]domain.Ticket, error)
}

// TicketService exposes ticket queries.
type TicketService struct {
	DB   *gorm.DB
	Repo TicketRepo
}

// NewTicketService constructs a TicketService.
func NewTicketService(db *gorm.DB, r TicketRepo) *TicketService {
	return &TicketService{DB: db, Repo: r}
}

// Get returns one ticket or ErrTicketNotFound.
func (s *TicketService) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	t, err := s.Repo.GetTicket(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListPage returns a page of tickets (optionally for one requester) and the
// total count. Invalid page/pageSize fall back to 1 and 20.
func (s *TicketService) ListPage(ctx context.Context, requesterID string, page, pageSize int) ([]domain.Ticket, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountTickets(ctx, s.DB, requesterID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Ticket{}, 0, nil
	}

	items, err := s.Repo.ListTicketsPage(ctx, s.DB, requesterID, offset, pageSize)
	return items, total, err
}
