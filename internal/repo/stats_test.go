package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedTicket(t *testing.T, db *gorm.DB, id, requester string, stage domain.Stage, at time.Time) {
	t.Helper()
	tk := &domain.Ticket{ID: id, RequesterID: requester, ChannelID: "ch-" + id, Stage: stage, CreatedAt: at, UpdatedAt: at}
	if err := db.Create(tk).Error; err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestTicketsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := TicketsStats(context.Background(), db, "u1"); err == nil {
		t.Fatalf("expected error due to missing tickets table")
	}
}

func TestTicketsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Ticket{})
	count, maxAt, err := TicketsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("TicketsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestTicketsStats_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Ticket{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // max overall (u2)

	seedTicket(t, db, "t1", "u1", domain.StageCompleted, t1)
	seedTicket(t, db, "t2", "u1", domain.StageAwaitUsername, t2)
	seedTicket(t, db, "t3", "u2", domain.StageFailed, t3)

	count, maxAt, err := TicketsStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("TicketsStats error: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("u1 stats = (%d, %v); want (2, %v)", count, maxAt, t2)
	}

	count, maxAt, err = TicketsStats(context.Background(), db, "")
	if err != nil {
		t.Fatalf("TicketsStats(all) error: %v", err)
	}
	if count != 3 || maxAt == nil || !maxAt.Equal(t3) {
		t.Fatalf("all stats = (%d, %v); want (3, %v)", count, maxAt, t3)
	}
}
