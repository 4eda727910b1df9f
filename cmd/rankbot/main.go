// Command rankbot runs the Discord rank-transfer bot: ticket channels with a
// Roblox identity check, group rank lookup and rank transfer into the main
// group, plus a small ops HTTP API (health, metrics, ticket audit).
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Scripto81/Discordbottytyty/internal/chat"
	"github.com/Scripto81/Discordbottytyty/internal/config"
	"github.com/Scripto81/Discordbottytyty/internal/discord"
	httpapi "github.com/Scripto81/Discordbottytyty/internal/http"
	"github.com/Scripto81/Discordbottytyty/internal/observability"
	"github.com/Scripto81/Discordbottytyty/internal/repo"
	"github.com/Scripto81/Discordbottytyty/internal/roblox"
	"github.com/Scripto81/Discordbottytyty/internal/services"
	"github.com/Scripto81/Discordbottytyty/internal/session"
	"github.com/Scripto81/Discordbottytyty/internal/sysutil"
	"github.com/Scripto81/Discordbottytyty/internal/tickets"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// statusView feeds GET /status.
type statusView struct {
	tickets  *tickets.Manager
	registry *services.VerificationRegistry
}

func (s statusView) ActiveTickets() int        { return s.tickets.Active() }
func (s statusView) PendingVerifications() int { return s.registry.Len() }

func main() {
	_ = godotenv.Load() // .env is optional

	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)
	sysutil.SetLogLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("rankbot stopped")
	}
	log.Info().Msg("rankbot stopped")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	groups, err := config.LoadGroups(cfg.Tickets.GroupsFile)
	if err != nil {
		return err
	}

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	rbx, err := roblox.New(ctx, roblox.Options{
		UsersURL:     cfg.Roblox.UsersURL,
		GroupsURL:    cfg.Roblox.GroupsURL,
		Cookie:       cfg.Roblox.Cookie,
		Timeout:      cfg.Roblox.Timeout,
		RPS:          cfg.Roblox.RPS,
		Burst:        cfg.Roblox.Burst,
		RoleCacheTTL: cfg.Roblox.RoleCacheTTL,
	})
	if err != nil {
		return err
	}
	defer rbx.Close()
	if cfg.Roblox.Cookie == "" {
		log.Warn().Msg("ROBLOX_COOKIE not set; rank transfers will fail")
	}

	registry := services.NewVerificationRegistry(cfg.Tickets.VerificationTTL)
	inbox := chat.NewInbox()

	bot, err := discord.New(cfg.Discord.Token, inbox, discord.Options{
		CommandPrefix: cfg.Discord.CommandPrefix,
		CategoryID:    cfg.Discord.CategoryID,
		StaffRoleIDs:  cfg.Discord.StaffRoleIDs,
	})
	if err != nil {
		return err
	}

	manager := tickets.NewManager(ctx, bot, repo.TicketStore{DB: db}, inbox, session.Deps{
		Identity:  rbx,
		Profiles:  rbx,
		Verifier:  registry,
		Ranks:     services.NewGroupRankAggregator(rbx),
		Transfers: services.NewRankTransferExecutor(rbx, rbx),
	}, tickets.Options{
		Session: session.Config{
			MainGroup:       groups.Main,
			SecondaryGroups: groups.Secondary,
			RetryBudget:     cfg.Tickets.RetryBudget,
			WaitTimeout:     cfg.Tickets.WaitTimeout,
			ConfirmToken:    cfg.Tickets.ConfirmToken,
		},
		CloseDelay: cfg.Tickets.CloseDelay,
	})
	if err := manager.Recover(ctx); err != nil {
		return err
	}
	bot.SetOpener(manager)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, statusView{tickets: manager, registry: registry}, cfg)
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Info().
		Str("version", appVersion).
		Str("addr", srv.Addr).
		Int64("main_group", groups.Main.ID).
		Int("secondary_groups", len(groups.Secondary)).
		Msg("rankbot starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.RunSweeper(gctx, cfg.Tickets.SweepInterval) })
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	// Running sessions end as abandoned once ctx is cancelled; their final
	// message and channel removal go through REST and are awaited here.
	stop()
	manager.Wait()
	return err
}
