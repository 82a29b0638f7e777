package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"talk2chat/internal/config"
	"talk2chat/internal/entities"
	"talk2chat/internal/infrastructure"
	"talk2chat/internal/interfaces"
	httpHandler "talk2chat/internal/interfaces/http"
	"talk2chat/internal/logging"
	"talk2chat/internal/repository"
	"talk2chat/internal/usecases"
)

// stores groups the persistence ports the service runs on.
type stores struct {
	directory interfaces.TenantDirectory
	configs   interfaces.ConfigWriter
	sessions  interfaces.SessionRepository
	messages  interfaces.MessageRepository
	usage     interfaces.UsageRepository
	profiles  interfaces.ProfileRepository
	knowledge interfaces.KnowledgeBase
	chunks    interfaces.ChunkWriter
	close     []func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range st.close {
			c()
		}
	}()

	// Realtime hub, bridged through redis when more than one instance runs.
	hub := infrastructure.NewHub(nil)
	var publisher interfaces.EventPublisher = hub
	var locker interfaces.Locker = infrastructure.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := infrastructure.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		broker := infrastructure.NewRedisBroker(rdb, hub)
		hub.SetPublisher(broker)
		publisher = broker
		locker = infrastructure.NewRedisLocker(rdb)
		go func() {
			if err := broker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("realtime bridge stopped")
			}
		}()
		logging.Info().Msg("realtime events bridged through redis")
	}

	// AI providers
	breaker := infrastructure.DefaultBreakerConfig()
	var providers []interfaces.ChatProvider
	var embedder interfaces.Embedder
	for _, p := range infrastructure.OpenAICompatibleProviders() {
		providers = append(providers, infrastructure.NewBreakerProvider(p, breaker))
		if p.Name() == "openai" {
			embedder = p
		}
	}
	providers = append(providers, infrastructure.NewBreakerProvider(infrastructure.NewAnthropicProvider(""), breaker))
	ai := usecases.NewAIService(cfg.DefaultAIProvider, cfg.AIKeys, st.directory, providers...)

	if cfg.KnowledgeSeedCSV != "" && st.chunks != nil {
		seedKnowledge(ctx, cfg, st.chunks, embedder)
	}

	// Outbound relays
	dispatcher := usecases.NewOutboundDispatcher(st.sessions, st.messages, st.directory, cfg.RelayMaxAttempts)
	graph := infrastructure.NewBreakerRelay(infrastructure.NewGraphClient(cfg.GraphAPIBase, cfg.RelayTimeout), breaker)
	dispatcher.Register(entities.ChannelWhatsApp, graph)
	dispatcher.Register(entities.ChannelInstagram, graph)
	dispatcher.Register(entities.ChannelFacebook, graph)
	dispatcher.Register(entities.ChannelEmail, infrastructure.NewBreakerRelay(infrastructure.NewEmailClient(cfg.EmailAPIBase, cfg.RelayTimeout), breaker))
	dispatcher.Register(entities.ChannelTelegram, infrastructure.NewBreakerRelay(infrastructure.NewTelegramClient("", cfg.RelayTimeout), breaker))

	throttle := infrastructure.NewMessageRateLimiter(0.5, 3)
	webhookLimiter := infrastructure.NewMessageRateLimiter(cfg.WebhookRateLimit, cfg.WebhookBurst)
	go throttle.RunCleanup(5*time.Minute, ctx.Done())
	go webhookLimiter.RunCleanup(5*time.Minute, ctx.Done())

	responderDeps := usecases.AutoResponderDeps{
		AI:        ai,
		Messages:  st.messages,
		Usage:     st.usage,
		Directory: st.directory,
		Throttle:  throttle,
	}
	if st.knowledge != nil && embedder != nil {
		responderDeps.Knowledge = st.knowledge
		responderDeps.Embedder = embedder
	}

	messages := usecases.NewMessageService(usecases.MessageServiceDeps{
		Resolver:     usecases.NewIdentityResolver(st.directory),
		Matcher:      usecases.NewSessionMatcher(st.sessions, locker),
		Sessions:     st.sessions,
		Messages:     st.messages,
		Responder:    usecases.NewAutoResponder(responderDeps),
		Dispatcher:   dispatcher,
		Publisher:    publisher,
		Summarizer:   usecases.NewSummarizer(ai, st.sessions, st.messages, publisher),
		AsyncReplies: true,
	})

	handler := httpHandler.NewHandler(httpHandler.HandlerDeps{
		Messages:        messages,
		AI:              ai,
		Fanout:          usecases.NewFanoutFilter(st.profiles),
		Configs:         usecases.NewConfigService(st.directory, st.configs),
		Directory:       st.directory,
		Hub:             hub,
		MetaVerifyToken: cfg.MetaVerifyToken,
		MetaAppSecret:   cfg.MetaAppSecret,
		Origins:         cfg.CORSOrigins,
		BaseContext:     ctx,
	})
	if cfg.MetaAppSecret == "" {
		logging.Warn().Msg("META_APP_SECRET not set, Meta webhook signatures are not verified")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger())
	middleware := httpHandler.NewMiddleware(usecases.NewAuthUsecase(cfg.JWTSecret), cfg.CORSOrigins)
	httpHandler.SetupRoutes(r, handler, middleware, webhookLimiter)

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("realtime hub stopped")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logging.Info().Str("port", cfg.Port).Bool("in_memory", cfg.InMemory()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	<-hubDone
	return err
}

// openStores picks the persistence backends. Without DATABASE_URL everything
// lives in process, which suits local runs against webhook tunnels.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	var cipher interfaces.ConfigCipher
	if cfg.CredentialsKey != "" {
		c, err := infrastructure.NewCredentialCipher(cfg.CredentialsKey)
		if err != nil {
			return nil, err
		}
		cipher = c
	} else {
		logging.Warn().Msg("CREDENTIALS_KEY not set, channel secrets are stored in plaintext")
	}

	if cfg.InMemory() {
		logging.Warn().Msg("DATABASE_URL not set, using the in-memory store")
		mem := repository.NewMemoryStore()
		st := &stores{
			directory: mem,
			configs:   mem,
			sessions:  mem,
			messages:  mem.Messages(),
			usage:     mem,
			profiles:  mem,
		}
		return st, attachQdrant(cfg, st)
	}

	pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	st := &stores{close: []func(){pg.Close}}

	st.sessions = repository.NewSessionRepository(pg.Pool)
	st.messages = repository.NewMessageRepository(pg.Pool)
	st.usage = repository.NewUsageRepository(pg.Pool)
	st.profiles = repository.NewProfileRepository(pg.Pool)

	switch cfg.DirectoryBackend {
	case config.BackendSupabase:
		dir, err := repository.NewSupabaseDirectory(cfg.SupabaseURL, cfg.SupabaseKey, cipher)
		if err != nil {
			pg.Close()
			return nil, err
		}
		st.directory, st.configs = dir, dir
	default:
		dir := repository.NewDirectory(pg.Pool, cipher)
		st.directory, st.configs = dir, dir
	}

	switch cfg.KnowledgeBackend {
	case config.BackendPostgres:
		kb := repository.NewKnowledgeRepository(pg.Pool)
		st.knowledge, st.chunks = kb, kb
	case config.BackendQdrant:
		if err := attachQdrant(cfg, st); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return st, nil
}

func attachQdrant(cfg *config.Config, st *stores) error {
	if cfg.KnowledgeBackend != config.BackendQdrant {
		return nil
	}
	kb, err := infrastructure.NewQdrantKnowledgeBase(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
	if err != nil {
		return err
	}
	st.knowledge, st.chunks = kb, kb
	st.close = append(st.close, func() { _ = kb.Close() })
	return nil
}

// seedKnowledge imports KB_SEED_CSV. Failures are logged; the server starts
// either way.
func seedKnowledge(ctx context.Context, cfg *config.Config, chunks interfaces.ChunkWriter, embedder interfaces.Embedder) {
	key := cfg.AIKeys["openai"]
	if embedder == nil || key == "" {
		logging.Warn().Msg("KB_SEED_CSV set but no OPENAI_API_KEY for embeddings, skipping import")
		return
	}
	var tenantID *string
	if cfg.KnowledgeSeedFor != "" {
		tenantID = &cfg.KnowledgeSeedFor
	}
	res, err := repository.NewKnowledgeImporter(chunks, embedder, key).ImportFile(ctx, cfg.KnowledgeSeedCSV, tenantID)
	if err != nil {
		logging.Warn().Err(err).Str("file", cfg.KnowledgeSeedCSV).Msg("knowledge import failed")
		return
	}
	logging.Info().Int("imported", res.Imported).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("knowledge base seeded")
}
