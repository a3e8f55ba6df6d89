package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/deskrelay/internal/actions"
	"github.com/haasonsaas/deskrelay/internal/config"
	"github.com/haasonsaas/deskrelay/internal/display"
	"github.com/haasonsaas/deskrelay/internal/loop"
	"github.com/haasonsaas/deskrelay/internal/observability"
	"github.com/haasonsaas/deskrelay/internal/responses"
	"github.com/haasonsaas/deskrelay/internal/sandbox"
)

// session holds the wired components of one run.
type session struct {
	logger     *observability.Logger
	metrics    *observability.Metrics
	registry   *prometheus.Registry
	tracer     *observability.Tracer
	client     *responses.Client
	surface    *display.Surface
	controller *loop.Controller
}

func runSession(cmd *cobra.Command, cfg config.Config, instruction string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	key, err := p.resolveAPIKey(cfg.Agent.APIKey)
	if err != nil {
		return err
	}
	cfg.Agent.APIKey = key
	instruction, err = p.resolveInstruction(instruction)
	if err != nil {
		return err
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "deskrelay",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		Insecure:       cfg.Observability.OTLPInsecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	s, err := newSession(cfg, logger, tracer, cmd)
	if err != nil {
		return err
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		stopMetrics := serveMetrics(ctx, addr, s.registry, logger)
		defer stopMetrics()
	}

	ctx = observability.AddSessionID(ctx, s.controller.SessionID())
	logger.Info(ctx, "starting session",
		"model", s.client.Model(),
		"desktop", s.surface.Handle().String(),
		"backend", cfg.Environment.Backend)

	first, err := s.client.Start(ctx, instruction)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	summary, err := s.controller.Run(ctx, first)
	if summary != nil {
		logger.Info(ctx, "session ended",
			"iterations", summary.Iterations,
			"succeeded", summary.Outcomes[actions.OutcomeSuccess],
			"failed", summary.Outcomes[actions.OutcomeExecutionFailed]+summary.Outcomes[actions.OutcomeDispatchFailed],
			"unrecognized", summary.Outcomes[actions.OutcomeUnrecognized])
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Warn(ctx, "session interrupted")
		return nil
	}
	return err
}

// newSession wires executor, surface, dispatcher, agent client and loop
// controller from cfg. cfg must carry an API key.
func newSession(cfg config.Config, logger *observability.Logger, tracer *observability.Tracer, cmd *cobra.Command) (*session, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	executor, err := sandbox.New(cfg.Environment.Backend,
		sandbox.WithTimeout(cfg.Environment.CommandTimeout),
		sandbox.WithDockerBinary(cfg.Environment.DockerBinary),
		sandbox.WithObserver(metrics.CommandObserved),
	)
	if err != nil {
		return nil, err
	}

	container := cfg.Environment.Container
	if strings.EqualFold(cfg.Environment.Backend, sandbox.BackendLocal) {
		container = ""
	}
	handle, err := sandbox.NewHandle(cfg.Environment.Display, container)
	if err != nil {
		return nil, err
	}

	capture, err := sandbox.ParseCommand(cfg.Environment.ScreenshotCommand)
	if err != nil {
		return nil, fmt.Errorf("screenshot command: %w", err)
	}
	surfaceOpts := []display.Option{
		display.WithScreenshotCommand(capture),
		display.WithLogger(logger.WithFields("component", "surface")),
		display.WithMetrics(metrics),
	}
	if cfg.Loop.ScaleScreenshots {
		surfaceOpts = append(surfaceOpts, display.WithGeometry(display.NewGeometry(cfg.Agent.DisplayWidth, cfg.Agent.DisplayHeight)))
	}
	surface := display.New(executor, handle, surfaceOpts...)

	dispatcher := actions.NewDispatcher(surface,
		actions.WithWaitDuration(cfg.Loop.WaitDuration),
		actions.WithLogger(logger.WithFields("component", "dispatcher")),
		actions.WithMetrics(metrics),
		actions.WithTracer(tracer),
	)

	client, err := responses.NewClient(cfg.ResponsesConfig(),
		responses.WithLogger(logger.WithFields("component", "agent")),
		responses.WithMetrics(metrics),
		responses.WithTracer(tracer),
	)
	if err != nil {
		return nil, err
	}

	controller := loop.NewController(client, dispatcher, surface,
		loop.Config{
			SettleDelay:             cfg.Loop.SettleDelay,
			MaxIterations:           cfg.Loop.MaxIterations,
			AcknowledgeSafetyChecks: cfg.Agent.AcknowledgeSafetyChecks,
			BlankWidth:              cfg.Agent.DisplayWidth,
			BlankHeight:             cfg.Agent.DisplayHeight,
		},
		loop.WithOutput(cmd.OutOrStdout()),
		loop.WithLogger(logger.WithFields("component", "loop")),
		loop.WithMetrics(metrics),
		loop.WithTracer(tracer),
	)

	return &session{
		logger:     logger,
		metrics:    metrics,
		registry:   registry,
		tracer:     tracer,
		client:     client,
		surface:    surface,
		controller: controller,
	}, nil
}

// serveMetrics exposes registry on addr until the returned stop func runs.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *observability.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
