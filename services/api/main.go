package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expertinthecity/internal/auth"
	"github.com/expertinthecity/internal/chatstore"
	"github.com/expertinthecity/internal/config"
	"github.com/expertinthecity/internal/handler"
	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/notifier"
	"github.com/expertinthecity/internal/presence"
	"github.com/expertinthecity/internal/push"
	"github.com/expertinthecity/internal/repository"
	"github.com/expertinthecity/internal/startup"
	"github.com/expertinthecity/internal/storage"
	"github.com/expertinthecity/internal/storage/memory"
	"github.com/expertinthecity/internal/ws"
	"github.com/expertinthecity/migrations"
)

const devJWTSecret = "dev-only-secret"

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory presence")
	flag.Parse()

	logger.Info("starting API gateway")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		cfg.Presence.Store = config.PresenceStoreMemory
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = startup.RunMigrations(migrateCtx, pool, migrations.Files)
	migrateCancel()
	if err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	userRepo := repository.NewUserRepository(pool)
	store := openPresenceStore(cfg, pool)
	defer store.Close()
	presenceSvc := presence.NewService(store)

	chats := chatstore.New()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup

	var receipts ws.ReceiptPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		groupID := cfg.Kafka.GroupPrefix + "-" + uuid.NewString()
		feed := chatstore.NewFeed(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, groupID, chats)
		defer feed.Close()
		bgWg.Add(1)
		go func() {
			defer bgWg.Done()
			feed.Run(bgCtx)
		}()
		rw := chatstore.NewReceiptWriter(cfg.Kafka.Brokers, cfg.Kafka.ReceiptsTopic)
		defer rw.Close()
		receipts = rw
		logger.Infof("chat feed: topic=%s group=%s", cfg.Kafka.EventsTopic, groupID)
	} else {
		logger.Info("KAFKA_BROKERS not set: chat feed disabled, chats stay local to this process")
	}

	var history ws.HistoryLoader
	if len(cfg.Scylla.Hosts) > 0 {
		session := startup.ConnectScyllaWithRetry(cfg.Scylla.Hosts, cfg.Scylla.Keyspace, 60*time.Second, "")
		defer session.Close()
		history = chatstore.NewHistory(session, cfg.Scylla.HistoryMax)
	}

	pushClient := push.NewClient(cfg.PushServiceURL)
	var pushNotifier ws.PushNotifier
	if pushClient.Enabled() {
		pushNotifier = pushClient
	}

	names := notifier.NameResolverFunc(func(userID string) string {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return userRepo.DisplayName(ctx, userID)
	})

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := ws.NewHub(ws.Deps{
		Presence: presenceSvc,
		Store:    chats,
		Verifier: verifier,
		Names:    names,
		Profiles: userRepo,
		Push:     pushNotifier,
		Receipts: receipts,
		History:  history,
	}, ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		AlertSoundURL:  cfg.AlertSoundURL,
	})

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	router := handler.Router{
		Config:   cfg,
		Verifier: verifier,
		Presence: handler.NewPresenceHandler(presenceSvc),
		Chats:    handler.NewChatHandler(chats, receipts),
		Push:     handler.NewPushHandler(pushClient),
		WS:       handler.NewWSHandler(hub, cfg.CORSAllowedOrigins),
	}
	h := router.Handler()

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		h = withSPA(h, webDist)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (presence store: %s)", cfg.ServerAddr, cfg.Presence.Store)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	bgCancel()
	bgWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// openPresenceStore выбирает хранилище присутствия по конфигурации.
func openPresenceStore(cfg *config.Config, pool *pgxpool.Pool) storage.PresenceStore {
	switch cfg.Presence.Store {
	case config.PresenceStoreMemory:
		logger.Info("presence store: memory (records are lost on restart)")
		return memory.New()
	case config.PresenceStorePostgres:
		repo := repository.NewPresenceRepository(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Процесс только что стартовал: ни одна сессия ещё не подключена.
		if err := repo.ResetOnline(ctx); err != nil {
			logger.Errorf("reset online status: %v", err)
		}
		return repo
	default:
		return startup.ConnectRedisWithRetry(cfg.RedisURL, cfg.Presence.RedisPrefix, 60*time.Second, "")
	}
}

// withSPA отдаёт собранный фронтенд для всех путей, кроме /api, /ws и /health.
func withSPA(api http.Handler, dir string) http.Handler {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" || r.URL.Path == "/health" {
			api.ServeHTTP(w, r)
			return
		}
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	})
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "expert"
		password = "expert_secret"
		database = "expertinthecity"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
