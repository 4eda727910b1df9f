// Package httpapi wires the ops HTTP API (Gin): health, Prometheus metrics,
// live bot status and the read-only ticket audit endpoints.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery
//  5. Metrics
//  6. Rate limiter (per client IP)
//  7. Security headers
//  8. gzip
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/config"
	"github.com/Scripto81/Discordbottytyty/internal/domain"
	"github.com/Scripto81/Discordbottytyty/internal/http/handlers"
	"github.com/Scripto81/Discordbottytyty/internal/http/middleware"
	"github.com/Scripto81/Discordbottytyty/internal/repo"
	"github.com/Scripto81/Discordbottytyty/internal/services"
)

// ticketRepoShim adapts the repo free functions to services.TicketRepo.
type ticketRepoShim struct{}

func (ticketRepoShim) GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	return repo.GetTicket(ctx, db, id)
}

func (ticketRepoShim) CountTickets(ctx context.Context, db *gorm.DB, requesterID string) (int64, error) {
	return repo.CountTickets(ctx, db, requesterID)
}

func (ticketRepoShim) ListTicketsPage(ctx context.Context, db *gorm.DB, requesterID string, offset, limit int) ([]domain.Ticket, error) {
	return repo.ListTicketsPage(ctx, db, requesterID, offset, limit)
}

// RegisterRoutes attaches middleware and endpoints to r. status may be nil,
// in which case GET /status answers 404.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, status handlers.StatusProvider, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP()).Handler())
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.New(services.NewTicketService(db, ticketRepoShim{}), status)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/status", h.Status)
		api.GET("/tickets", h.ListTickets)
		api.GET("/tickets/:id", h.GetTicket)
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
