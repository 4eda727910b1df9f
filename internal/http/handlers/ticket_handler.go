// Ticket HTTP handlers.
//
// Read-only audit endpoints over persisted rank-transfer tickets:
//   - GET /tickets/{id}   (one ticket)
//   - GET /tickets        (list, paginated, optional requester filter, ETag)
//   - GET /status         (live counters of the bot)
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/repo"
	"github.com/Scripto81/Discordbottytyty/internal/services"
	"github.com/Scripto81/Discordbottytyty/internal/utils"
)

// TicketService is the ticket query contract consumed by the handlers.
type TicketService interface {
	Get(ctx context.Context, id string) (*domain.Ticket, error)
	ListPage(ctx context.Context, requesterID string, page, pageSize int) ([]domain.Ticket, int64, error)
}

// StatusProvider reports live workflow counters. Nil disables /status.
type StatusProvider interface {
	ActiveTickets() int
	PendingVerifications() int
}

// Handlers groups the ops API endpoints.
type Handlers struct {
	tickets TicketService
	status  StatusProvider
}

// New constructs Handlers bound to the given services.
func New(tickets TicketService, status StatusProvider) *Handlers {
	return &Handlers{tickets: tickets, status: status}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListTicketsResponse wraps a page of tickets and pagination information.
type ListTicketsResponse struct {
	Tickets    []domain.Ticket `json:"tickets"`
	Pagination Pagination      `json:"pagination"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	ActiveTickets        int `json:"active_tickets"`
	PendingVerifications int `json:"pending_verifications"`
}

var ticketPages = utils.PageBounds{DefaultSize: 20, MaxSize: 100}

// GetTicket returns one ticket by id.
func (h *Handlers) GetTicket(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ticket id must be a UUID")
		return
	}

	t, err := h.tickets.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "ticket not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, t)
}

// ListTickets returns a page of tickets, newest first. The optional
// requester_id query narrows the list to one Discord member. Supports a weak
// ETag via If-None-Match.
func (h *Handlers) ListTickets(c *gin.Context) {
	ctx := c.Request.Context()
	requester := strings.TrimSpace(c.Query("requester_id"))
	page, pageSize := ticketPages.Page(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.tickets.(*services.TicketService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.TicketsStats(ctx, db, requester)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"tickets:%s:%d:%d:%d:%d"`, requester, page, pageSize, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.tickets.ListPage(ctx, requester, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListTicketsResponse{
		Tickets: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// Status reports the number of running ticket sessions and outstanding
// verification challenges.
func (h *Handlers) Status(c *gin.Context) {
	if h.status == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "status unavailable")
		return
	}
	ok(c, http.StatusOK, StatusResponse{
		ActiveTickets:        h.status.ActiveTickets(),
		PendingVerifications: h.status.PendingVerifications(),
	})
}
