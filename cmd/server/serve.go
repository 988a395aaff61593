package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"insureflow/internal/access"
	accounthandler "insureflow/internal/account/handler"
	"insureflow/internal/account/lockout"
	"insureflow/internal/account/revocation"
	accountservice "insureflow/internal/account/service"
	accountstore "insureflow/internal/account/store"
	"insureflow/internal/account/token"
	assignmenthandler "insureflow/internal/assignment/handler"
	assignmentservice "insureflow/internal/assignment/service"
	assignmentstore "insureflow/internal/assignment/store"
	"insureflow/internal/biometric"
	"insureflow/internal/biometric/proof"
	"insureflow/internal/biometric/seal"
	claimhandler "insureflow/internal/claim/handler"
	"insureflow/internal/claim/number"
	claimservice "insureflow/internal/claim/service"
	claimstore "insureflow/internal/claim/store"
	clienthandler "insureflow/internal/client/handler"
	clientservice "insureflow/internal/client/service"
	clientstore "insureflow/internal/client/store"
	hospitalhandler "insureflow/internal/hospital/handler"
	hospitalservice "insureflow/internal/hospital/service"
	hospitalstore "insureflow/internal/hospital/store"
	"insureflow/internal/notify"
	"insureflow/internal/platform/config"
	"insureflow/internal/platform/ephemeral"
	"insureflow/internal/platform/httpserver"
	"insureflow/internal/platform/kafka"
	"insureflow/internal/platform/logger"
	"insureflow/internal/platform/metrics"
	"insureflow/internal/platform/postgres"
	redisclient "insureflow/internal/platform/redis"
	policyhandler "insureflow/internal/policy/handler"
	policyservice "insureflow/internal/policy/service"
	policystore "insureflow/internal/policy/store"
	reporthandler "insureflow/internal/report/handler"
	reportservice "insureflow/internal/report/service"
	taskhandler "insureflow/internal/task/handler"
	taskservice "insureflow/internal/task/service"
	taskstore "insureflow/internal/task/store"
	httptransport "insureflow/internal/transport/http"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	auditpublisher "insureflow/pkg/platform/audit/publisher"
	auditmemory "insureflow/pkg/platform/audit/store/memory"
	auditpostgres "insureflow/pkg/platform/audit/store/postgres"
	auditworker "insureflow/pkg/platform/audit/worker"
	"insureflow/pkg/platform/tx"
)

const (
	topicPartitions  int32 = 3
	topicReplication int16 = 1
	startupTimeout         = 30 * time.Second
)

type serveOptions struct {
	migrate       bool
	adminEmail    string
	adminPassword string
}

// Each backend store pair must also serve the report aggregates.
type (
	clientStore interface {
		clientservice.Store
		Count(ctx context.Context) (int, error)
	}
	policyStore interface {
		policyservice.Store
		Count(ctx context.Context) (int, error)
	}
	hospitalStore interface {
		hospitalservice.Store
		Count(ctx context.Context) (int, error)
	}
	claimStore interface {
		claimservice.Store
		reportservice.ClaimStore
		policyservice.ClaimReferences
	}
)

type stores struct {
	accounts    accountservice.Store
	clients     clientStore
	policies    policyStore
	hospitals   hospitalStore
	assignments assignmentservice.Store
	claims      claimStore
	tasks       taskservice.Store
	audit       audit.Store
}

// app holds the wired services and the resources that must be released on exit.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	redis    *redisclient.Client
	kafka    *kafka.Producer
	runner   tx.Runner
	stores   stores
	relay    *auditworker.Worker
	accounts *accountservice.Service
	handler  http.Handler
}

func runServer(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.migrate {
		if cfg.Database.URL == "" {
			return fmt.Errorf("--migrate requires database.url")
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		n, err := postgres.Migrate(migrateCtx, cfg.Database.URL)
		cancel()
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", "count", n)
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.adminEmail != "" {
		if err := a.bootstrapAdmin(ctx, opts.adminEmail, opts.adminPassword); err != nil {
			return err
		}
	}

	srv := httpserver.New(cfg.Server, a.handler)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if a.relay != nil {
		g.Go(func() error {
			if err := a.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	log.Info("insureflow started",
		"env", cfg.Env,
		"addr", cfg.Server.Addr,
		"postgres", a.db != nil,
		"redis", a.redis != nil,
		"kafka", a.kafka != nil,
	)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("insureflow stopped")
	return nil
}

// buildApp connects the configured backends and wires every module. Missing database,
// Redis or Kafka settings fall back to in-process implementations.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	sealer, err := seal.NewFromHex(cfg.Biometric.SealKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("template sealer: %w", err)
	}

	a.stores = a.openStores()
	gate := access.NewGate(log)
	publisher := auditpublisher.NewPublisher(a.stores.audit, auditpublisher.WithLogger(log))

	var sender notify.Sender = notify.NewLogSender(log)
	if a.kafka != nil {
		sender = notify.NewKafkaSender(a.kafka, cfg.Kafka.NotificationTopic)
	}

	resetCodes, proofStore, sequencer := a.ephemeralStores()
	var failures lockout.Counter = lockout.NewMemoryCounter()
	if a.redis != nil {
		failures = lockout.NewRedisCounter(a.redis.Client, "lockout:")
	}

	reg := prometheus.NewRegistry()
	bioClient := biometric.NewClient(cfg.Biometric.BaseURL, &http.Client{})
	var matcher biometric.Matcher = bioClient
	if cfg.Biometric.Matcher == "exact" {
		matcher = biometric.ExactMatcher{}
	}
	scanner := biometric.New(bioClient, matcher,
		biometric.WithCaptureTimeout(cfg.Biometric.CaptureTimeout),
		biometric.WithVerifyTimeout(cfg.Biometric.VerifyTimeout),
		biometric.WithLogger(log),
		biometric.WithMetrics(biometric.NewMetrics(reg)),
	)
	proofs := proof.NewLedger(proofStore, scanner, cfg.Biometric.ProofTTL)

	var revoked interface {
		accountservice.TokenRevoker
		token.RevocationList
	} = revocation.NewMemoryList()
	if a.redis != nil {
		revoked = revocation.NewRedisList(a.redis.Client, "revoked:user:")
	}
	tokens := token.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL,
		token.WithRevocations(revoked))
	a.accounts = accountservice.New(a.stores.accounts, a.runner, gate, tokens,
		accountservice.WithLogger(log),
		accountservice.WithAuditPublisher(publisher),
		accountservice.WithPasswordReset(resetCodes, sender, cfg.Auth.OTPTTL),
		accountservice.WithLoginGuard(lockout.NewGuard(failures, cfg.Auth.LockoutAttempts, cfg.Auth.LockoutWindow)),
		accountservice.WithTokenRevocation(revoked, cfg.Auth.TokenTTL),
	)
	clients := clientservice.New(a.stores.clients, a.runner, gate, sealer,
		clientservice.WithLogger(log),
		clientservice.WithAuditPublisher(publisher),
		clientservice.WithBiometrics(scanner, proofs),
	)
	policies := policyservice.New(a.stores.policies, a.runner, gate, clients, sealer,
		policyservice.WithLogger(log),
		policyservice.WithAuditPublisher(publisher),
		policyservice.WithClaimReferences(a.stores.claims),
	)
	hospitals := hospitalservice.New(a.stores.hospitals, a.runner, gate,
		hospitalservice.WithLogger(log),
		hospitalservice.WithAuditPublisher(publisher),
		hospitalservice.WithAccountProvisioner(a.accounts),
	)
	assignments := assignmentservice.New(a.stores.assignments, a.runner, gate, policies, hospitals,
		assignmentservice.WithLogger(log),
		assignmentservice.WithAuditPublisher(publisher),
	)
	claims := claimservice.New(a.stores.claims, a.runner, gate, claimservice.Deps{
		Policies:    policies,
		Hospitals:   hospitals,
		Assignments: assignments,
		Clients:     clients,
		Proofs:      proofs,
		Numbers:     number.NewGenerator(sequencer),
	},
		claimservice.WithLogger(log),
		claimservice.WithAuditPublisher(publisher),
		claimservice.WithRequiredBiometric(cfg.Claims.RequireBiometric),
	)
	tasks := taskservice.New(a.stores.tasks, a.runner, gate,
		taskservice.WithLogger(log),
		taskservice.WithAuditPublisher(publisher),
		taskservice.WithDirectory(a.accounts),
	)
	reports := reportservice.New(a.stores.clients, a.stores.policies, a.stores.hospitals, a.stores.claims, clients, gate,
		reportservice.WithLogger(log),
	)

	accountRoutes := accounthandler.New(a.accounts, log)
	a.handler = httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        metrics.NewHTTP(reg),
		Gatherer:       prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		Tokens:         tokens,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         a.healthChecks(),
		Public:         []httptransport.PublicRegistrar{accountRoutes},
		Routes: []httptransport.Registrar{
			accountRoutes,
			clienthandler.New(clients, log),
			policyhandler.New(policies, log),
			hospitalhandler.New(hospitals, log),
			assignmenthandler.New(assignments, log),
			claimhandler.New(claims, log),
			reporthandler.New(reports, log),
			taskhandler.New(tasks, log),
		},
	})
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	var err error
	if a.cfg.Database.URL != "" {
		if a.db, err = postgres.Open(ctx, a.cfg.Database); err != nil {
			return err
		}
		a.runner = tx.NewSQLRunner(a.db, a.cfg.Database.TxTimeout)
	} else {
		a.logger.Warn("database.url not set, using in-memory stores")
		a.runner = tx.NewMemoryRunner()
	}

	if a.redis, err = redisclient.New(ctx, a.cfg.Redis); err != nil {
		return err
	}

	if a.kafka, err = kafka.New(ctx, a.cfg.Kafka); err != nil {
		return err
	}
	if a.kafka != nil {
		if err := a.kafka.EnsureTopics(ctx, topicPartitions, topicReplication,
			a.cfg.Kafka.AuditTopic, a.cfg.Kafka.NotificationTopic); err != nil {
			return fmt.Errorf("ensure kafka topics: %w", err)
		}
	}
	return nil
}

func (a *app) openStores() stores {
	if a.db == nil {
		return stores{
			accounts:    accountstore.NewInMemoryStore(),
			clients:     clientstore.NewInMemoryStore(),
			policies:    policystore.NewInMemoryStore(),
			hospitals:   hospitalstore.NewInMemoryStore(),
			assignments: assignmentstore.NewInMemoryStore(),
			claims:      claimstore.NewInMemoryStore(),
			tasks:       taskstore.NewInMemoryStore(),
			audit:       auditmemory.NewInMemoryStore(),
		}
	}

	outbox := auditpostgres.New(a.db)
	if a.kafka != nil {
		a.relay = auditworker.NewWorker(outbox, a.kafka, a.runner, a.cfg.Kafka.AuditTopic,
			auditworker.WithInterval(a.cfg.Kafka.RelayInterval),
			auditworker.WithLogger(a.logger),
		)
	} else {
		a.logger.Warn("kafka not configured, audit events stay in the outbox")
	}
	return stores{
		accounts:    accountstore.NewPostgres(a.db),
		clients:     clientstore.NewPostgres(a.db),
		policies:    policystore.NewPostgres(a.db),
		hospitals:   hospitalstore.NewPostgres(a.db),
		assignments: assignmentstore.NewPostgres(a.db),
		claims:      claimstore.NewPostgres(a.db),
		tasks:       taskstore.NewPostgres(a.db),
		audit:       outbox,
	}
}

// ephemeralStores returns the password reset codes, verification proofs and claim
// number sequence, on Redis when configured.
func (a *app) ephemeralStores() (resetCodes, proofs ephemeral.Store, seq number.Sequencer) {
	if a.redis == nil {
		return ephemeral.NewMemoryStore(), ephemeral.NewMemoryStore(), number.NewMemorySequencer()
	}
	return ephemeral.NewRedisStore(a.redis.Client, "pwreset:"),
		ephemeral.NewRedisStore(a.redis.Client, "proof:"),
		number.NewRedisSequencer(a.redis.Client, "claimseq:")
}

func (a *app) healthChecks() []httptransport.HealthCheck {
	var checks []httptransport.HealthCheck
	if a.db != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "postgres", Check: a.db.PingContext})
	}
	if a.redis != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Check: a.redis.Health})
	}
	if a.kafka != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "kafka", Check: a.kafka.Health})
	}
	return checks
}

func (a *app) bootstrapAdmin(ctx context.Context, email, password string) error {
	_, err := a.accounts.CreateSuperuser(ctx, email, "Administrator", password)
	switch {
	case err == nil:
		a.logger.InfoContext(ctx, "bootstrap superuser created", "email", email)
		return nil
	case dErrors.HasCode(err, dErrors.CodeConflict):
		return nil
	default:
		return fmt.Errorf("bootstrap superuser: %w", err)
	}
}

func (a *app) Close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}
