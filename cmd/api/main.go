package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeflow/activity"
	"tradeflow/agreement"
	"tradeflow/auth"
	"tradeflow/config"
	"tradeflow/db"
	"tradeflow/document"
	"tradeflow/ledger"
	"tradeflow/notification"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRADEFLOW_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	logger := log.New(os.Stderr, "tradeflow ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	defer app.close()

	if app.relay != nil {
		go func() {
			if err := app.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("outbox relay stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      app.server.routes(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  config.Duration(cfg.Server.IdleTimeout),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s (storage=%s, ledger=%t, admins=%d)", srv.Addr, cfg.Storage.Driver, cfg.Ledger.RPCURL != "", len(cfg.Admins))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

type app struct {
	server *Server
	relay  *agreement.OutboxRelay
	close  func()
}

type agreementStore interface {
	agreement.Repository
	agreement.OutboxStore
}

// stores groups the storage-facing collaborators of one driver.
type stores struct {
	agreements    agreementStore
	documents     document.Repository
	activity      activity.Store
	notifications notification.Repository
	users         auth.Repository
}

func buildApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	st, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	admins := cfg.AdminSet()
	sources := []agreement.DeploymentSource{st.agreements}
	var rpc *ledger.RPCClient
	if cfg.Ledger.RPCURL != "" {
		rpc = ledger.NewRPCClient(cfg.Ledger.RPCURL, nil)
		if cfg.Ledger.ReadRoles {
			sources = append(sources, agreement.LedgerDeployments{Reader: rpc})
		}
	}
	roles := agreement.NewRoleResolver(admins, sources...)

	audit := activity.NewLog(st.activity, logger)
	fanout := notification.NewFanout(st.notifications, admins, logger).WithConcurrency(cfg.Notifications.Concurrency)
	ledgerWait := config.Duration(cfg.Ledger.VerifyTimeout)

	agreements := agreement.NewService(st.agreements, roles, logger).
		WithActivity(audit).
		WithNotifier(fanout)
	documents := document.NewService(st.documents, roles, logger).
		WithActivity(audit).
		WithNotifier(fanout)
	if rpc != nil {
		verifier := ledger.NewVerifier(rpc, ledgerWait, logger)
		agreements = agreements.
			WithVerifier(verifier).
			WithStageReader(rpc, ledgerWait)
		documents = documents.WithVerifier(verifier)
	}

	authService := auth.NewService(st.users, cfg.Auth.JWTSecret).
		WithAdmins(admins).
		WithTokenTTL(config.Duration(cfg.Auth.TokenTTL))

	relay := agreement.NewOutboxRelay(st.agreements, func(ctx context.Context, msg agreement.OutboxMessage) error {
		logger.Printf("broadcast %s %s: %s", msg.Topic, msg.ID, msg.Payload)
		return nil
	}, logger)

	return &app{
		server: &Server{
			authService:         authService,
			agreementService:    agreements,
			documentService:     documents,
			activityLog:         audit,
			notificationService: notification.NewService(st.notifications, admins),
			logger:              logger,
		},
		relay: relay,
		close: closeStores,
	}, nil
}

func openStores(ctx context.Context, cfg *config.Config) (stores, func(), error) {
	if cfg.Storage.Driver == config.StorageMemory {
		return stores{
			agreements:    agreement.NewMemoryRepository(),
			documents:     document.NewMemoryRepository(),
			activity:      activity.NewMemoryStore(),
			notifications: notification.NewMemoryRepository(),
			users:         auth.NewMemoryRepository(),
		}, func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: config.Duration(cfg.Database.MaxConnLifetime),
	})
	if err != nil {
		return stores{}, nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	return stores{
		agreements:    agreement.NewRepository(pool),
		documents:     document.NewRepository(pool),
		activity:      activity.NewPGStore(pool),
		notifications: notification.NewRepository(pool),
		users:         auth.NewRepository(pool),
	}, pool.Close, nil
}
