package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/config"
	httpapi "github.com/tbourn/tg-ai-assistant/internal/http"
	"github.com/tbourn/tg-ai-assistant/internal/llm"
	"github.com/tbourn/tg-ai-assistant/internal/observability"
	"github.com/tbourn/tg-ai-assistant/internal/ocr"
	"github.com/tbourn/tg-ai-assistant/internal/search"
	"github.com/tbourn/tg-ai-assistant/internal/services"
	"github.com/tbourn/tg-ai-assistant/internal/session"
	"github.com/tbourn/tg-ai-assistant/internal/sysutil"
	"github.com/tbourn/tg-ai-assistant/internal/tasks"
	"github.com/tbourn/tg-ai-assistant/internal/telegram"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// app is everything serve runs.
type app struct {
	cfg      config.Config
	db       *gorm.DB
	api      *tgbotapi.BotAPI
	store    *session.Store
	tasks    *tasks.Supervisor
	bot      *telegram.Bot
	admin    *services.AdminService
	users    *services.UserService
	handlers http.Handler
}

func serve(ctx context.Context, cfg config.Config) error {
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, nil)
	ver := sysutil.Version(version)

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return err
	}
	log.Info().Str("bot", api.Self.UserName).Str("version", ver).Msg("telegram authorized")

	a, err := build(cfg, db, api)
	if err != nil {
		return err
	}
	if err := a.admin.SeedSuperadmins(ctx, cfg.Telegram.AdminIDs); err != nil {
		return err
	}
	return a.run(ctx)
}

// build wires the session store, clients, services and the bot.
func build(cfg config.Config, db *gorm.DB, api *tgbotapi.BotAPI) (*app, error) {
	kb, err := search.LoadKnowledge(cfg.KnowledgePath, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	log.Info().Int("entries", kb.Len()).Str("path", cfg.KnowledgePath).Msg("knowledge loaded")

	loc := cfg.Telegram.Location()
	store := session.New(session.Options{HistoryCap: cfg.Session.HistoryCap, FailedTTL: cfg.Session.FailedTTL})
	sup := tasks.New(cfg.Telegram.WorkerPoolSize, 4*cfg.Telegram.WorkerPoolSize)
	client := telegram.NewClient(api)

	llmClient := llm.New(llm.Options{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxConcurrent: int64(cfg.LLM.MaxConcurrent),
	})
	ocrClient := ocr.New(ocr.Options{
		URL:      cfg.OCR.URL,
		APIKey:   cfg.OCR.APIKey,
		Language: cfg.OCR.Language,
		Timeout:  cfg.OCR.Timeout,
		Retries:  cfg.OCR.Retries,
	})

	fetcher := &services.Fetcher{
		LLM:          llmClient,
		History:      store,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Window:       cfg.Session.ContextWindow,
		Timeout:      cfg.LLM.FetchTimeout,
		Location:     loc,
	}
	presenter := &services.Presenter{
		Messenger:       client,
		EditMinChars:    cfg.Stream.EditMinChars,
		EditMinInterval: cfg.Stream.EditMinInterval,
		FinalPause:      cfg.Stream.FinalPause,
		PartPause:       cfg.Stream.FinalPause,
	}
	orch := &services.Orchestrator{
		Sessions:  store,
		Fetcher:   fetcher,
		Messenger: client,
		Presenter: presenter,
		MaxManual: cfg.Session.MaxManualRetries,
		MaxAuto:   cfg.Session.MaxAutoRetries,
		Backoffs:  cfg.Session.AutoBackoffs,
		Jitter:    cfg.Session.RetryJitter,
		Cooldown:  cfg.Session.UserCooldown,
		Synthetic: cfg.Stream.Synthetic,
		ChunkSize: cfg.Stream.ChunkSize,
		Cooldowns: store,
	}
	users := &services.UserService{
		DB:            db,
		Messenger:     client,
		Location:      loc,
		InactiveAfter: cfg.InactiveAfter,
		NotifyPause:   time.Second / 20,
	}
	admin := &services.AdminService{
		DB:           db,
		Messenger:    client,
		Location:     loc,
		BroadcastRPS: cfg.BroadcastRPS,
	}
	chat := &services.ChatService{
		DB:             db,
		Sessions:       store,
		Fetcher:        fetcher,
		Knowledge:      kb,
		OCR:            ocrClient,
		Messenger:      client,
		Presenter:      presenter,
		Orchestrator:   orch,
		Users:          users,
		Tasks:          sup,
		MaxPromptRunes: cfg.Telegram.MaxPromptRunes,
		Streaming:      cfg.LLM.Streaming,
		Synthetic:      cfg.Stream.Synthetic,
		ChunkSize:      cfg.Stream.ChunkSize,
	}
	bot := telegram.New(telegram.Options{
		Client:    client,
		Chat:      chat,
		Admin:     admin,
		Users:     users,
		Tasks:     sup,
		Workers:   cfg.Telegram.WorkerPoolSize,
		UserRPS:   cfg.Telegram.UserRPS,
		UserBurst: cfg.Telegram.UserBurst,
	})

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Admin: admin, Tasks: sup}, cfg)

	return &app{
		cfg:      cfg,
		db:       db,
		api:      api,
		store:    store,
		tasks:    sup,
		bot:      bot,
		admin:    admin,
		users:    users,
		handlers: r,
	}, nil
}

// run blocks until ctx is cancelled or a member fails, then shuts down the
// HTTP server and drains the supervisor.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(a.cfg.Telegram.PollTimeout / time.Second)
	updates := a.api.GetUpdatesChan(u)
	g.Go(func() error {
		<-gctx.Done()
		a.api.StopReceivingUpdates()
		return nil
	})
	g.Go(func() error { return a.bot.Run(gctx, updates) })

	if a.cfg.HTTPEnabled {
		srv := &http.Server{
			Addr:              ":" + a.cfg.Port,
			Handler:           a.handlers,
			ReadTimeout:       a.cfg.ReadTimeout,
			ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
			WriteTimeout:      a.cfg.WriteTimeout,
			IdleTimeout:       a.cfg.IdleTimeout,
			MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		return tasks.Every(gctx, "session_sweep", a.cfg.Session.SweepInterval, a.sweep)
	})
	g.Go(func() error {
		return tasks.Every(gctx, "inactive_notify", a.cfg.InactiveCheckInterval, func(ctx context.Context) error {
			sent, failed, err := a.users.NotifyInactive(ctx)
			log.Info().Int("sent", sent).Int("failed", failed).Msg("inactive users notified")
			return err
		})
	})

	err := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.tasks.Shutdown(sctx); serr != nil {
		log.Warn().Err(serr).Msg("background tasks did not drain")
	}
	log.Info().Msg("bot stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweep drops expired in-memory state and idle per-user limiters.
func (a *app) sweep(context.Context) error {
	st := a.store.Sweep(time.Now(), 2*a.cfg.Session.UserCooldown)
	pruned := a.bot.PruneLimiters()
	log.Debug().
		Int("failed", st.Failed).
		Int("cooldowns", st.Cooldowns).
		Int("expansions", st.Expansions).
		Int("limiters", pruned).
		Msg("session sweep")
	return nil
}
