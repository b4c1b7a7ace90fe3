package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bonsaipay/internal/config"
	"bonsaipay/internal/domain"
	"bonsaipay/internal/infra/auth/oidc"
	"bonsaipay/internal/infra/chain"
	"bonsaipay/internal/infra/db"
	"bonsaipay/internal/infra/ethabi"
	"bonsaipay/internal/infra/events/rabbitmq"
	httpinfra "bonsaipay/internal/infra/http"
	"bonsaipay/internal/infra/memstore"
	"bonsaipay/internal/infra/metrics"
	"bonsaipay/internal/infra/policyopa"
	"bonsaipay/internal/infra/prover/bonsai"
	"bonsaipay/internal/usecase"
)

const eventBuffer = 256

// app holds the wired service and everything that has to be released on
// shutdown, in reverse order of construction.
type app struct {
	server      *httpinfra.Server
	coordinator *usecase.Coordinator
	closers     []func() error
	logger      *zap.Logger
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	bytecode, err := cfg.AccountBytecode()
	if err != nil {
		return nil, err
	}

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	var (
		accounts    domain.AccountStore  = memstore.NewAccounts()
		submissions domain.SubmissionLog = memstore.NewSubmissions()
	)
	if store.Enabled() {
		a.onClose(store.Close)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		accounts = db.NewAccountRepository(store.DB)
		submissions = db.NewSubmissionRepository(store.DB)
	}

	verifier, err := oidc.NewVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity verifier: %w", err)
	}

	prover, err := bonsai.NewClient(bonsai.Config{
		BaseURL:      cfg.BonsaiAPIURL,
		APIKey:       cfg.BonsaiAPIKey,
		Version:      cfg.Risc0Version,
		ELFPath:      cfg.ProverELFPath,
		PollInterval: time.Duration(cfg.ProverPollMS) * time.Millisecond,
	}, &http.Client{Timeout: 30 * time.Second}, logger.Named("bonsai"))
	if err != nil {
		return nil, fmt.Errorf("prover: %w", err)
	}

	chainClient, closeChain, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID, cfg.WalletPrivateKey, chain.Options{
		PollInterval:   time.Duration(cfg.ChainReceiptPollMS) * time.Millisecond,
		ReceiptTimeout: time.Duration(cfg.ChainReceiptTimeoutSecs) * time.Second,
	}, logger.Named("chain"))
	if err != nil {
		return nil, err
	}
	a.onClose(func() error { closeChain(); return nil })

	encoder, err := ethabi.NewEncoder()
	if err != nil {
		return nil, err
	}

	policy, err := policyopa.NewEngine(ctx, cfg.PolicyBundlePath)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	logger.Info("policy loaded", zap.String("bundle_hash", policy.BundleHash()))

	var publisher domain.EventPublisher
	if cfg.AMQPURL != "" {
		p, err := rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger.Named("events"))
		if err != nil {
			return nil, err
		}
		a.onClose(p.Close)
		publisher = p
	}

	collectors := metrics.New()
	events := usecase.NewEventEmitter(publisher, nil, logger.Named("events")).Async(eventBuffer)
	a.onClose(events.Close)

	registry := usecase.NewRegistry(accounts, chainClient, encoder, bytecode, cfg.BootstrapFunding())
	registry.Submissions = submissions
	registry.Events = events
	registry.Metrics = collectors
	registry.Logger = logger.Named("registry")

	composer := &usecase.Composer{
		Chain:       chainClient,
		Encoder:     encoder,
		Contract:    cfg.Contract(),
		Submissions: submissions,
		Metrics:     collectors,
		Logger:      logger.Named("composer"),
	}

	coordinator := usecase.NewCoordinator(usecase.CoordinatorOptions{
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.WorkerQueueSize,
		Timeout:   cfg.RequestTimeout(),
		Metrics:   collectors,
		Events:    events,
		Logger:    logger.Named("coordinator"),
	})
	a.coordinator = coordinator

	pipeline := &usecase.Pipeline{
		Verifier:       verifier,
		Policy:         policy,
		AllowedDomains: cfg.PolicyAllowedDomains,
		Prover:         prover,
		ImageID:        cfg.ProverImageID,
		EncodeInput:    ethabi.EncodeInput,
		DecodeJournal:  ethabi.DecodeClaims,
		Registry:       registry,
		Composer:       composer,
		Coordinator:    coordinator,
		ExecuteValue:   cfg.ExecuteValue(),
		ProverTimeout:  cfg.ProverTimeout(),
		Metrics:        collectors,
		Logger:         logger.Named("pipeline"),
	}

	a.server = httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Pipeline:   pipeline,
		Store:      store,
		Metrics:    collectors,
		QueueDepth: coordinator.QueueDepth,
		Logger:     logger.Named("http"),
	})
	a.onClose(a.server.Close)
	return a, nil
}
