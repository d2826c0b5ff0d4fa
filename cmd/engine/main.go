// Command engine runs the Agent Run Engine worker process: it builds the
// application context, registers River workers, and keeps the Lock
// Manager's reaper, the follow-up Scheduler and the dead-letter depth
// poller running until signaled to stop.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShadewG/autobot-engine/internal/app"
	"github.com/ShadewG/autobot-engine/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// shutdownGrace bounds how long Stop waits for the Job Queue to drain
// in-flight jobs before the process exits anyway.
const shutdownGrace = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "autobot-engine"))),
	)
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	logger.Info("engine started")

	bgCtx, cancelBg := context.WithCancel(context.Background())
	go a.Locks.RunReaper(bgCtx)
	go a.Scheduler.Run(bgCtx)
	go a.RunEngine.PollDeadLetterDepth(bgCtx, cfg.SchedulerInterval)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	cancelBg()
	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelStop()
	return a.Stop(stopCtx)
}
