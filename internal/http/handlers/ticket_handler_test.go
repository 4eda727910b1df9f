package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/repo"
	"github.com/Scripto81/Discordbottytyty/internal/services"
)

// ---------- test DB + repo shim ----------

func newTicketDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ticket_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Ticket{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testTicketRepo struct{}

func (testTicketRepo) GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	return repo.GetTicket(ctx, db, id)
}

func (testTicketRepo) CountTickets(ctx context.Context, db *gorm.DB, requesterID string) (int64, error) {
	return repo.CountTickets(ctx, db, requesterID)
}

func (testTicketRepo) ListTicketsPage(ctx context.Context, db *gorm.DB, requesterID string, offset, limit int) ([]domain.Ticket, error) {
	return repo.ListTicketsPage(ctx, db, requesterID, offset, limit)
}

type stubStatus struct{ active, pending int }

func (s stubStatus) ActiveTickets() int        { return s.active }
func (s stubStatus) PendingVerifications() int { return s.pending }

// failingTickets is a TicketService that always errors.
type failingTickets struct{}

func (failingTickets) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	return nil, errors.New("db down")
}

func (failingTickets) ListPage(ctx context.Context, requesterID string, page, pageSize int) ([]domain.Ticket, int64, error) {
	return nil, 0, errors.New("db down")
}

func newTicketRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/tickets", h.ListTickets)
	r.GET("/tickets/:id", h.GetTicket)
	r.GET("/status", h.Status)
	return r
}

func doGET(r http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- tests ----------

func TestGetTicket(t *testing.T) {
	db := newTicketDB(t)
	tk, err := repo.CreateTicket(context.Background(), db, "g1", "u1", "c1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := newTicketRouter(New(services.NewTicketService(db, testTicketRepo{}), nil))

	w := doGET(r, "/tickets/"+tk.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got domain.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.ID != tk.ID || got.RequesterID != "u1" || got.Stage != domain.StageAwaitUsername {
		t.Fatalf("unexpected ticket: %+v", got)
	}

	if w := doGET(r, "/tickets/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
	if w := doGET(r, "/tickets/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", w.Code)
	}
}

func TestGetTicket_InternalError(t *testing.T) {
	r := newTicketRouter(New(failingTickets{}, nil))
	w := doGET(r, "/tickets/"+uuid.NewString(), nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeInternal {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestListTickets_PaginationAndFilter(t *testing.T) {
	db := newTicketDB(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u1", "u1", "u2"} {
		if _, err := repo.CreateTicket(ctx, db, "g1", u, "c"); err != nil {
			t.Fatalf("seed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	r := newTicketRouter(New(services.NewTicketService(db, testTicketRepo{}), nil))

	w := doGET(r, "/tickets?requester_id=u1&page=1&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListTicketsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Tickets) != 2 || resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", resp.Pagination)
	}
	for _, tk := range resp.Tickets {
		if tk.RequesterID != "u1" {
			t.Fatalf("filter leaked %+v", tk)
		}
	}

	w = doGET(r, "/tickets?page_size=1000", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Pagination.PageSize != 100 || resp.Pagination.Total != 4 {
		t.Fatalf("clamp/all: %+v", resp.Pagination)
	}
}

func TestListTickets_Empty(t *testing.T) {
	db := newTicketDB(t)
	r := newTicketRouter(New(services.NewTicketService(db, testTicketRepo{}), nil))

	w := doGET(r, "/tickets?requester_id=nobody", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListTicketsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Tickets == nil || len(resp.Tickets) != 0 || resp.Pagination.HasNext {
		t.Fatalf("want empty list, got %+v", resp)
	}
}

func TestListTickets_ETag304(t *testing.T) {
	db := newTicketDB(t)
	if _, err := repo.CreateTicket(context.Background(), db, "g1", "u1", "c1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := newTicketRouter(New(services.NewTicketService(db, testTicketRepo{}), nil))

	w := doGET(r, "/tickets?requester_id=u1", nil)
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	w = doGET(r, "/tickets?requester_id=u1", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("want 304, got %d", w.Code)
	}

	// a different page has its own tag
	w = doGET(r, "/tickets?requester_id=u1&page=2", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("other page must not match, got %d", w.Code)
	}
}

func TestListTickets_ServiceError(t *testing.T) {
	r := newTicketRouter(New(failingTickets{}, nil))
	w := doGET(r, "/tickets", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != ErrCodeListFailed {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestStatus(t *testing.T) {
	r := newTicketRouter(New(failingTickets{}, stubStatus{active: 2, pending: 5}))
	w := doGET(r, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var s StatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &s)
	if s.ActiveTickets != 2 || s.PendingVerifications != 5 {
		t.Fatalf("unexpected status: %+v", s)
	}

	r = newTicketRouter(New(failingTickets{}, nil))
	if w := doGET(r, "/status", nil); w.Code != http.StatusNotFound {
		t.Fatalf("nil provider status=%d", w.Code)
	}
}
