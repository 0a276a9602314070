package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/torosent/kukai/internal/attempt"
	"github.com/torosent/kukai/internal/columnar"
	"github.com/torosent/kukai/internal/config"
	"github.com/torosent/kukai/internal/flightsink"
	"github.com/torosent/kukai/internal/ingest"
	"github.com/torosent/kukai/internal/metrics"
	"github.com/torosent/kukai/internal/output"
	"github.com/torosent/kukai/internal/runner"
	"github.com/torosent/kukai/internal/tracing"
)

// environment is what every role needs from process setup.
type environment struct {
	cfg      *config.Config
	logger   *zap.Logger
	provider *tracing.Provider
	stdout   io.Writer
	stderr   io.Writer
}

func runCommander(ctx context.Context, env *environment) error {
	cc := env.cfg.Commander
	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			env.logger.Warn("closing store", zap.Error(err))
		}
	}()

	svc := ingest.NewService(ingest.ServiceOptions{
		Store:  store,
		Token:  cc.Token,
		Logger: env.logger,
		Tracer: env.provider.Tracer(),
	})
	srv := ingest.NewServer(svc, ingest.ServerOptions{
		MetricsAddress: cc.MetricsAddress,
		GracePeriod:    cc.GracePeriod,
		Logger:         env.logger,
	})

	env.logger.Info("commander configured",
		zap.String("address", cc.Address),
		zap.String("store", cc.Store),
		zap.Strings("edges", cc.Edges),
		zap.Bool("token", cc.Token != ""),
	)
	serveErr := srv.ListenAndServe(ctx, cc.Address)

	chunks, records := svc.Totals()
	output.PrintIngestReport(env.stdout, output.IngestReport{
		Store:   cc.Store,
		Chunks:  int(chunks),
		Records: int(records),
	})
	return serveErr
}

func openStore(ctx context.Context, cc config.CommanderConfig) (ingest.Store, error) {
	switch cc.Store {
	case config.StoreRedis:
		return ingest.OpenRedisStore(ctx, ingest.RedisOptions{
			Address:  cc.Redis.Address,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			Key:      cc.Redis.Key,
		})
	case config.StoreMemory, "":
		return ingest.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cc.Store)
	}
}

func runEdge(ctx context.Context, env *environment) error {
	ec := env.cfg.Edge
	sink, err := flightsink.New(ctx, flightsink.Options{
		Address:   ec.CommanderAddress,
		EdgeID:    ec.ID,
		Token:     ec.Token,
		TLS:       ec.TLS,
		Insecure:  ec.Insecure,
		Propagate: env.provider.ShouldPropagate(),
		Tracer:    env.provider.Tracer(),
		Logger:    env.logger,
	})
	if err != nil {
		return err
	}
	defer sink.Close()

	logger := env.logger.With(zap.String("edge", ec.ID))
	if err := sink.Handshake(ctx); err != nil {
		if errors.Is(err, flightsink.ErrRejected) {
			return err
		}
		logger.Warn("commander handshake failed, continuing", zap.Error(err))
	}

	return generate(ctx, env, sink, runner.AdmissionBlocking, "flight", logger)
}

func runStandalone(ctx context.Context, env *environment) error {
	sink, err := columnar.Open(env.cfg.Standalone.Output, env.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			env.logger.Warn("closing metrics file", zap.Error(err))
		}
	}()

	logger := env.logger.With(zap.String("output", sink.Path()))
	return generate(ctx, env, sink, runner.AdmissionTry, "arrow", logger)
}

// generate runs the worker pool with a background flusher into sink, then
// performs the final flush and prints the run summary. The final flush
// error is returned.
func generate(ctx context.Context, env *environment, sink metrics.Sink, admission runner.Admission, sinkName string, logger *zap.Logger) error {
	lc := env.cfg.Load
	protocol, err := attempt.ParseProtocol(lc.Protocol)
	if err != nil {
		return err
	}
	dialer, err := attempt.NewDialer(protocol, attempt.Options{
		Timeout:   lc.Timeout,
		KeepAlive: lc.ReuseConnection,
	})
	if err != nil {
		return err
	}

	buffer := metrics.NewBuffer(lc.Concurrency * 64)
	summary := metrics.NewSummary()
	flusher := metrics.NewFlusher(buffer, sink, metrics.FlusherOptions{
		Interval: lc.FlushInterval,
		Logger:   logger,
		Tracer:   env.provider.Tracer(),
		SinkName: sinkName,
	})

	r := runner.New(runner.Options{
		Concurrency: lc.Concurrency,
		Duration:    lc.Duration,
		Targets:     lc.Targets,
		Payload:     []byte(lc.Payload),
		Reuse:       lc.ReuseConnection,
		Gate:        runner.NewGate(lc.RPS, lc.Burst),
		Admission:   admission,
		Pace:        lc.Pace,
		NewExecutor: attempt.NewFactory(dialer, lc.ReuseConnection, logger),
		Recorder:    metrics.MultiRecorder(buffer, summary),
		Logger:      logger,
	})

	logger.Info("generating traffic",
		zap.Float64("rps", lc.RPS),
		zap.Int("concurrency", lc.Concurrency),
		zap.Duration("duration", lc.Duration),
		zap.String("protocol", string(protocol)),
		zap.Bool("reuse_connection", lc.ReuseConnection),
		zap.Int("targets", len(lc.Targets)),
	)

	var progress *output.ProgressReporter
	if !env.cfg.JSONOutput {
		progress = output.NewProgressReporter(summary, progressInterval, env.stderr)
		progress.Start()
	}

	flusher.Start(ctx)
	result := r.Run(ctx)
	// The last batch goes out even when the run was interrupted.
	finalErr := flusher.Final(context.WithoutCancel(ctx))
	flusher.Stop()

	if progress != nil {
		progress.Stop()
	}

	delivery := flusher.Stats()
	report := output.RunReport{
		Mode:     string(env.cfg.Mode),
		Stats:    summary.Stats(result.Duration),
		Delivery: &delivery,
	}
	logger.Info("run finished",
		zap.Int64("attempts", result.Total),
		zap.Int64("failures", result.Failures),
		zap.Duration("elapsed", result.Duration),
		zap.Int64("batches", delivery.Batches),
		zap.Int64("failed_flushes", delivery.Failures),
	)
	if env.cfg.JSONOutput {
		if err := output.PrintJSONReport(env.stdout, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(env.stdout, report)
	}

	if finalErr != nil {
		return fmt.Errorf("final metrics flush: %w", finalErr)
	}
	return nil
}
