// Package repo implements the data persistence layer for tickets, backed by
// GORM. This file provides repository functions for the Ticket model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a ticket is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

const abandonedOnRestart = "bot restarted"

var terminalStages = []domain.Stage{domain.StageCompleted, domain.StageFailed, domain.StageAbandoned}

// CreateTicket inserts a new ticket in the AwaitUsername stage. The ID is a
// random UUID and CreatedAt is set to UTC.
func CreateTicket(ctx context.Context, db *gorm.DB, guildID, requesterID, channelID string) (*domain.Ticket, error) {
	now := time.Now().UTC()
	t := &domain.Ticket{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		GuildID:     guildID,
		ChannelID:   channelID,
		Stage:       domain.StageAwaitUsername,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTicket fetches a ticket by ID, or ErrNotFound.
func GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// FindOpenTicket returns the requester's most recent non-terminal ticket, or
// ErrNotFound when there is none.
func FindOpenTicket(ctx context.Context, db *gorm.DB, requesterID string) (*domain.Ticket, error) {
	var t domain.Ticket
	err := db.WithContext(ctx).
		Where("requester_id = ? AND stage NOT IN ?", requesterID, terminalStages).
		Order("created_at desc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTicketProgress writes the stage and identity fields of a ticket.
// Zero values are written too, so the row always mirrors p.
func SaveTicketProgress(ctx context.Context, db *gorm.DB, id string, p domain.TicketProgress) error {
	res := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("id = ?", id).
		Updates(progressColumns(p))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FinishTicket records the terminal progress, the transfer outcome (if any)
// and the close time.
func FinishTicket(ctx context.Context, db *gorm.DB, id string, p domain.TicketProgress, outcome domain.OutcomeKind, detail string) error {
	cols := progressColumns(p)
	cols["outcome"] = outcome
	cols["detail"] = detail
	cols["closed_at"] = time.Now().UTC()

	res := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("id = ?", id).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountTickets returns the number of tickets, optionally filtered by
// requester (empty requesterID counts all).
func CountTickets(ctx context.Context, db *gorm.DB, requesterID string) (int64, error) {
	var total int64
	err := scopeRequester(db.WithContext(ctx).Model(&domain.Ticket{}), requesterID).
		Count(&total).Error
	return total, err
}

// ListTicketsPage returns a page of tickets ordered by creation time
// descending, optionally filtered by requester.
func ListTicketsPage(ctx context.Context, db *gorm.DB, requesterID string, offset, limit int) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := scopeRequester(db.WithContext(ctx), requesterID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func scopeRequester(q *gorm.DB, requesterID string) *gorm.DB {
	if requesterID == "" {
		return q
	}
	return q.Where("requester_id = ?", requesterID)
}

func progressColumns(p domain.TicketProgress) map[string]any {
	return map[string]any{
		"stage":           p.Stage,
		"username":        p.Username,
		"account_id":      p.AccountID,
		"source_group_id": p.SourceGroupID,
		"source_role":     p.SourceRole,
		"updated_at":      time.Now().UTC(),
	}
}

// TicketStore adapts the package functions to the tickets.Store interface,
// binding them to one database handle.
type TicketStore struct {
	DB *gorm.DB
}

func (s TicketStore) Create(ctx context.Context, guildID, requesterID, channelID string) (*domain.Ticket, error) {
	return CreateTicket(ctx, s.DB, guildID, requesterID, channelID)
}

func (s TicketStore) FindOpen(ctx context.Context, requesterID string) (*domain.Ticket, error) {
	return FindOpenTicket(ctx, s.DB, requesterID)
}

func (s TicketStore) SaveProgress(ctx context.Context, id string, p domain.TicketProgress) error {
	return SaveTicketProgress(ctx, s.DB, id, p)
}

func (s TicketStore) Finish(ctx context.Context, id string, p domain.TicketProgress, outcome domain.OutcomeKind, detail string) error {
	return FinishTicket(ctx, s.DB, id, p, outcome, detail)
}

// AbandonOpenTickets marks every non-terminal ticket as abandoned and returns
// the tickets it closed, already updated. It is run at startup, before any
// session exists.
func AbandonOpenTickets(ctx context.Context, db *gorm.DB) ([]domain.Ticket, error) {
	var open []domain.Ticket
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stage NOT IN ?", terminalStages).Order("created_at ASC").Find(&open).Error; err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}
		ids := make([]string, len(open))
		for i := range open {
			ids[i] = open[i].ID
		}

		now := time.Now().UTC()
		if err := tx.Model(&domain.Ticket{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"stage":      domain.StageAbandoned,
				"detail":     abandonedOnRestart,
				"closed_at":  now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		for i := range open {
			open[i].Stage = domain.StageAbandoned
			open[i].Detail = abandonedOnRestart
			open[i].ClosedAt = &now
			open[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return open, nil
}

func (s TicketStore) AbandonOpen(ctx context.Context) ([]domain.Ticket, error) {
	return AbandonOpenTickets(ctx, s.DB)
}
