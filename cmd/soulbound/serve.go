package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/soulbound/pkg/artifacts"
	"github.com/Mindburn-Labs/soulbound/pkg/audit"
	"github.com/Mindburn-Labs/soulbound/pkg/auth"
	"github.com/Mindburn-Labs/soulbound/pkg/config"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
	"github.com/Mindburn-Labs/soulbound/pkg/observability"
	"github.com/Mindburn-Labs/soulbound/pkg/ratelimit"
	"github.com/Mindburn-Labs/soulbound/pkg/registry"
	"github.com/Mindburn-Labs/soulbound/pkg/server"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
)

// zeroOwner is used when OWNER_ADDRESS is unset. Nobody holds a key for
// it, so the privileged mint path stays closed.
const zeroOwner = "0x0000000000000000000000000000000000000000"

// app is a fully wired server, ready to listen.
type app struct {
	handler http.Handler
	store   store.Store
	journal *audit.Journal
	regs    *registry.Registries
	obs     *observability.Provider
	closers []func() error
	logger  *slog.Logger
	owner   contracts.Identity
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

// eventLogger logs every committed registry event.
func eventLogger(logger *slog.Logger) contracts.EventSink {
	l := logger.With("component", "events")
	return contracts.EventSinkFunc(func(ctx context.Context, ev contracts.Event) {
		attrs := []any{"type", ev.Type, "actor", ev.Actor}
		if ev.ProposalID != nil {
			attrs = append(attrs, "proposal_id", *ev.ProposalID)
		}
		if ev.ConnectionID != nil {
			attrs = append(attrs, "connection_id", *ev.ConnectionID)
		}
		l.InfoContext(ctx, "registry event", attrs...)
	})
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func() error) {
	if cfg.RedisAddr != "" {
		rl := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, 0)
		err := rl.Ping(ctx)
		if err == nil {
			logger.Info("rate limiter: redis", "addr", cfg.RedisAddr)
			return rl, rl.Close
		}
		logger.Warn("redis unavailable, using in-memory rate limiter", "addr", cfg.RedisAddr, "error", err)
		_ = rl.Close()
	}
	ml := ratelimit.NewMemoryLimiter(10 * time.Minute)
	return ml, ml.Close
}

// buildApp wires every collaborator described by cfg.
func buildApp(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) (a *app, err error) {
	a = &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = cfg.OTelInsecure
	if a.obs, err = observability.New(ctx, obsCfg); err != nil {
		return a, fmt.Errorf("telemetry: %w", err)
	}

	if a.store, err = openStore(ctx, cfg, stdout); err != nil {
		return a, fmt.Errorf("store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	blobs, err := artifacts.NewStore(ctx, cfg.Artifacts)
	if err != nil {
		return a, fmt.Errorf("artifacts: %w", err)
	}
	if c, ok := blobs.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	composer, err := metadata.NewComposer(blobs)
	if err != nil {
		return a, fmt.Errorf("metadata: %w", err)
	}

	ownerAddr := cfg.OwnerAddress
	if ownerAddr == "" {
		logger.Warn("OWNER_ADDRESS not set; direct minting is disabled")
		ownerAddr = zeroOwner
	}
	if a.owner, err = identity.ParseAddress(ownerAddr); err != nil {
		return a, fmt.Errorf("owner: %w", err)
	}

	a.journal = audit.NewJournal()
	a.regs, err = registry.Deploy(a.store, a.owner,
		registry.WithLogger(logger),
		registry.WithTracer(a.obs.Tracer()),
		registry.WithEvents(contracts.MultiSink{a.journal, eventLogger(logger)}),
	)
	if err != nil {
		return a, err
	}

	ks, err := identity.LoadOrCreateKeyFile(cfg.JWTKeyFile)
	if err != nil {
		return a, fmt.Errorf("jwt keys: %w", err)
	}
	limiter, closeLimiter := newLimiter(ctx, cfg, logger)
	a.closers = append(a.closers, closeLimiter)

	srv, err := server.New(server.Deps{
		Registries: a.regs,
		Artifacts:  blobs,
		Composer:   composer,
		Journal:    a.journal,
		Logger:     logger,
	})
	if err != nil {
		return a, err
	}
	a.handler = srv.Handler(server.HandlerOptions{
		Validator:     identity.NewTokenManager(ks),
		Limiter:       limiter,
		Policy:        ratelimit.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst},
		CORSOrigins:   auth.ParseOrigins(cfg.CORSOrigins),
		Observability: a.obs,
	})
	return a, nil
}

func healthHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		err := a.store.View(r.Context(), func(tx store.Tx) error {
			_, err := tx.Proposals().Count(r.Context())
			return err
		})
		if err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

func runServer(args []string, stdout, stderr io.Writer) int {
	_, _ = fmt.Fprintf(stdout, "%sSoulBound registry starting...%s\n", ColorBold+ColorPurple, ColorReset)

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "API listen port")
	fs.StringVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "health listen port")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger := cfg.NewLogger(stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, stdout, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Owner: %s%s%s\n", ColorBold+ColorGreen, a.owner, ColorReset)

	apiServer := &http.Server{Addr: ":" + cfg.Port, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	healthServer := &http.Server{Addr: ":" + cfg.HealthPort, Handler: healthHandler(a), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	for _, s := range []*http.Server{apiServer, healthServer} {
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}(s)
	}
	logger.Info("health server listening", "addr", healthServer.Addr)
	logger.Info("ready", "url", "http://localhost:"+cfg.Port)
	_, _ = fmt.Fprintln(stdout, "[soulbound] press ctrl+c to stop")

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		code = 1
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = healthServer.Shutdown(shutdownCtx)
	a.Close(shutdownCtx)
	return code
}
