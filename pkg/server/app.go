package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "RegimeDuel/internal/middleware"
	"RegimeDuel/internal/service/execution"
	"RegimeDuel/internal/usecase"
	"RegimeDuel/pkg/config"
	xhttp "RegimeDuel/pkg/http"
	pkgkafka "RegimeDuel/pkg/kafka"
	"RegimeDuel/pkg/logger"
	"RegimeDuel/pkg/queue"
)

type closer struct {
	name string
	c    io.Closer
}

// App owns the process lifecycle: restore, start, wait for a signal, then
// stop everything in reverse order and persist a final snapshot.
type App struct {
	cfg *config.Config
	log *logger.Logger

	engine   *usecase.DecisionEngine
	keeper   *usecase.StateKeeper
	recorder *usecase.EventRecorder
	runner   *usecase.EngineRunner
	http     *xhttp.Server

	collector *usecase.SignalCollector
	pipeline  *mid.TickPipeline
	consumer  *pkgkafka.Consumer
	handlers  []pkgkafka.MessageHandler
	queue     *queue.RedisQueue
	paper     *execution.PaperGateway
	closers   []closer

	cancel context.CancelFunc
}

type Option func(*App)

// WithSignalCollector runs a WebSocket collector. It starts its own pipeline.
func WithSignalCollector(c *usecase.SignalCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithPipeline starts a tick pipeline that is fed by Kafka handlers.
func WithPipeline(p *mid.TickPipeline) Option {
	return func(a *App) { a.pipeline = p }
}

// WithConsumer registers handlers on consumer and runs it.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = append(a.handlers, handlers...)
	}
}

func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.queue = q }
}

// WithPaperGateway runs the simulated broker's stop checks.
func WithPaperGateway(p *execution.PaperGateway) Option {
	return func(a *App) { a.paper = p }
}

// WithCloser adds a resource closed last, in reverse registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, closer{name: name, c: c})
		}
	}
}

func New(
	cfg *config.Config,
	log *logger.Logger,
	engine *usecase.DecisionEngine,
	keeper *usecase.StateKeeper,
	recorder *usecase.EventRecorder,
	runner *usecase.EngineRunner,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	a := &App{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		keeper:   keeper,
		recorder: recorder,
		runner:   runner,
		http:     httpServer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start restores state and launches every component. Components run until
// Shutdown or until ctx ends.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.keeper.Load(ctx)

	a.recorder.Start(ctx)

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("start journal queue: %w", err)
		}
	}

	if a.paper != nil {
		go a.paper.Run(ctx, a.cfg.Engine.TickInterval)
	}

	if a.pipeline != nil {
		a.pipeline.Start(ctx)
	}

	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("signal collector stopped", logger.Error(err))
			}
		}()
	}

	a.runner.Start(ctx)

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	a.log.Info("engine started",
		logger.Strings("instruments", a.engine.Instruments()),
		logger.String("sensor", a.cfg.Sensor.Mode),
		logger.String("execution", a.cfg.Engine.Execution),
		logger.Bool("shadow_only", a.cfg.Engine.ShadowOnly))
	return nil
}

// Shutdown stops intake first, then the engine loops (which write the final
// snapshot), then drains events and closes infrastructure.
func (a *App) Shutdown(ctx context.Context) error {
	start := time.Now()

	if err := a.http.Stop(ctx); err != nil {
		a.log.Warn("http shutdown", logger.Error(err))
	}
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("signal collector shutdown", logger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer shutdown", logger.Error(err))
		}
	}
	if a.pipeline != nil {
		a.pipeline.Stop()
	}

	var firstErr error
	if err := a.runner.Stop(ctx); err != nil {
		a.log.Error("final snapshot failed", logger.Error(err))
		firstErr = err
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.recorder.Stop()

	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("journal queue shutdown", logger.Error(err))
		}
	}

	// flush pending alerts while the producer is still open
	a.log.RemoveCollector()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.c.Close(); err != nil {
			a.log.Warn("close failed", logger.String("resource", c.name), logger.Error(err))
		}
	}

	a.log.Info("shutdown complete", logger.Duration("took", time.Since(start)))
	return firstErr
}
