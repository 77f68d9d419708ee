package di

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/internal/handler/api"
	mid "RegimeDuel/internal/middleware"
	internalrepo "RegimeDuel/internal/repository"
	"RegimeDuel/internal/service/execution"
	"RegimeDuel/internal/service/feed"
	"RegimeDuel/internal/service/ratelimit"
	"RegimeDuel/internal/service/sensor"
	"RegimeDuel/internal/services/agent"
	"RegimeDuel/internal/services/allocator"
	"RegimeDuel/internal/services/breaker"
	"RegimeDuel/internal/services/edge"
	"RegimeDuel/internal/services/ledger"
	"RegimeDuel/internal/services/predictor"
	"RegimeDuel/internal/usecase"
	pkgcache "RegimeDuel/pkg/cache"
	pkgch "RegimeDuel/pkg/clickhouse"
	"RegimeDuel/pkg/config"
	xhttp "RegimeDuel/pkg/http"
	pkgkafka "RegimeDuel/pkg/kafka"
	"RegimeDuel/pkg/logger"
	"RegimeDuel/pkg/metrics"
	"RegimeDuel/pkg/queue"
	"RegimeDuel/pkg/server"
)

// ProvideLogger creates the application logger. When a publisher is
// available and alerts are enabled, warnings and errors are also shipped to
// the alerts topic.
func ProvideLogger(cfg *config.Config, pub *internalrepo.KafkaEventPublisher) (*logger.Logger, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Alerts.Enabled && pub != nil {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Alerts.FlushInterval,
			CountThreshold: cfg.Alerts.CountThreshold,
			Topic:          cfg.Kafka.Topics.Alerts,
			Publisher:      pub,
			MinLevel:       cfg.Alerts.MinLevel,
		})
	}
	return log, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New(nil)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaEventPublisher wraps the producer for the events topic.
func ProvideKafkaEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events)
}

// ProvideEventPublisher exposes the Kafka publisher as the domain interface.
// It returns a nil interface when Kafka is off.
func ProvideEventPublisher(pub *internalrepo.KafkaEventPublisher) drepo.EventPublisher {
	if pub == nil {
		return nil
	}
	return pub
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 4*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisPingTimeout(cfg.Redis.PingTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCacheService falls back to an in-process cache without Redis.
func ProvideCacheService(rc *pkgcache.RedisCache) pkgcache.Service {
	if rc != nil {
		return rc
	}
	return pkgcache.NewMemoryCache(
		pkgcache.WithMemoryMaxSize(1024),
		pkgcache.WithMemoryCleanup(time.Minute),
	)
}

// ProvideSnapshotStore stores engine snapshots in the cache.
func ProvideSnapshotStore(cfg *config.Config, cache pkgcache.Service) drepo.SnapshotStore {
	return internalrepo.NewCacheSnapshotStore(cache, cfg.Redis.SnapshotKey, cfg.Redis.LockTTL)
}

// ProvideClickHouseClient creates a ClickHouse client and makes sure the
// journal table exists. It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithConnectRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.JournalSchema(cfg.ClickHouse.Database, cfg.ClickHouse.JournalTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideTradeJournal returns the ClickHouse journal, or a nil interface.
func ProvideTradeJournal(cfg *config.Config, client *pkgch.Client) drepo.TradeJournal {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseJournal(client.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.JournalTable)
}

// ProvideJournalJob builds the job that writes closed trades to the journal.
func ProvideJournalJob(journal drepo.TradeJournal, m drepo.Metrics) *usecase.JournalJob {
	if journal == nil {
		return nil
	}
	return usecase.NewJournalJob(journal, m)
}

// ProvideRedisQueue creates the durable journal queue. Without Redis or a
// journal there is nothing to queue and it returns nil.
func ProvideRedisQueue(cfg *config.Config, log *logger.Logger, rc *pkgcache.RedisCache, job *usecase.JournalJob, m drepo.Metrics) *queue.RedisQueue {
	if rc == nil || job == nil {
		return nil
	}
	q := queue.NewRedisQueue(log, &queue.QueueConfig{
		Workers:       cfg.Queue.Workers,
		RetryLimit:    cfg.Queue.MaxRetries,
		RetryDelay:    cfg.Queue.RetryDelay,
		MaxRetryDelay: cfg.Queue.MaxRetryDelay,
	}, rc.Client(),
		queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Queue.Name),
		queue.WithObserver(func(jobType string, elapsed time.Duration, err error) {
			m.RecordLatency("queue_"+jobType, elapsed.Seconds())
			if err != nil {
				m.RecordError("queue_" + jobType)
			}
		}),
	)
	q.RegisterJob(job)
	return q
}

// ProvideJournalQueue prefers the Redis queue and falls back to writing
// inline through the job.
func ProvideJournalQueue(q *queue.RedisQueue, job *usecase.JournalJob) usecase.JournalQueue {
	switch {
	case q != nil:
		return q
	case job != nil:
		return job
	default:
		return nil
	}
}

func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Sensor.Timeout))
}

func ProvideHTTPFeed(cfg *config.Config, client *xhttp.Client) *feed.HTTPFeed {
	return feed.NewHTTPFeed(client, cfg.Sensor.BaseURL,
		feed.WithCacheTTL(cfg.Sensor.SpecTTL, cfg.Sensor.ATRTTL),
		feed.WithMaxRetries(cfg.Sensor.MaxRetries),
		feed.WithRateLimit(cfg.Sensor.RateLimit, cfg.Sensor.MaxRPS),
	)
}

// ProvideLatestFeed keeps the most recent pushed update per instrument and
// asks the HTTP feed for anything it has not seen yet.
func ProvideLatestFeed(fallback *feed.HTTPFeed) *feed.LatestFeed {
	return feed.NewLatestFeed(fallback)
}

// ProvideMarketDataFeed picks the feed the engine reads from.
func ProvideMarketDataFeed(cfg *config.Config, httpFeed *feed.HTTPFeed, latest *feed.LatestFeed) drepo.MarketDataFeed {
	if cfg.Sensor.Mode == "http" {
		return httpFeed
	}
	return latest
}

// ProvidePaperGateway returns the simulated broker in paper mode, nil otherwise.
func ProvidePaperGateway(cfg *config.Config, f drepo.MarketDataFeed, log *logger.Logger) *execution.PaperGateway {
	if cfg.Engine.Execution != "paper" {
		return nil
	}
	return execution.NewPaperGateway(f, log, cfg.Engine.ShadowTimeout)
}

// ProvideExecutionGateway picks where live orders go.
func ProvideExecutionGateway(cfg *config.Config, paper *execution.PaperGateway, producer *pkgkafka.Producer) (drepo.ExecutionGateway, error) {
	switch cfg.Engine.Execution {
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("kafka execution requires brokers")
		}
		return execution.NewKafkaGateway(producer, cfg.Kafka.Topics.Orders), nil
	default:
		return paper, nil
	}
}

func ProvideEventRecorder(cfg *config.Config, pub drepo.EventPublisher, jq usecase.JournalQueue, m drepo.Metrics, log *logger.Logger) *usecase.EventRecorder {
	var opts []usecase.RecorderOption
	if jq != nil {
		opts = append(opts, usecase.WithJournal(jq))
	}
	return usecase.NewEventRecorder(pub, m, log, cfg.Engine.RecorderBuffer, opts...)
}

// EngineSettings maps configuration onto the engine's component settings.
func EngineSettings(cfg *config.Config) usecase.Settings {
	return usecase.Settings{
		Engine: usecase.EngineConfig{
			Instruments:            cfg.Engine.Instruments,
			InitialEquity:          cfg.Engine.InitialEquity,
			MinProbability:         cfg.Engine.MinProbability,
			RiskPct:                cfg.Engine.RiskPct,
			StopATRMult:            cfg.Engine.StopATRMult,
			TargetATRMult:          cfg.Engine.TargetATRMult,
			TrailActivateATR:       cfg.Engine.TrailActivateATR,
			TrailDistanceATR:       cfg.Engine.TrailDistanceATR,
			ShadowTimeout:          cfg.Engine.ShadowTimeout,
			FrictionTicks:          cfg.Engine.FrictionTicks,
			ShadowOnly:             cfg.Engine.ShadowOnly,
			AllowLiveLowConfidence: cfg.Engine.AllowLiveLowConfidence,
			OmegaSizing:            cfg.Engine.OmegaSizing,
			ExplorationNoise:       cfg.Engine.ExplorationNoise,
			PoolCapacity:           cfg.Engine.PoolCapacity,
		},
		Ledger: ledger.Config{
			InitialRate:   cfg.Ledger.InitialRate,
			MinRate:       cfg.Ledger.MinRate,
			DecayFactor:   cfg.Ledger.DecayFactor,
			MaxBoost:      cfg.Ledger.MaxBoost,
			LossPenalty:   cfg.Ledger.LossPenalty,
			TimeDecayRate: cfg.Ledger.TimeDecayRate,
		},
		Gate: edge.Config{
			MinTrades:   cfg.Gate.MinTrades,
			BaseWinRate: cfg.Gate.BaseWinRate,
			MaxPValue:   cfg.Gate.MaxPValue,
		},
		Predictor: predictor.Config{
			Alpha:         cfg.Predictor.Alpha,
			OmegaBaseline: cfg.Predictor.OmegaBaseline,
			OmegaFloor:    cfg.Predictor.OmegaFloor,
			OmegaMax:      cfg.Predictor.OmegaMax,
		},
		Agents: agent.Config{
			RollingWindow:       cfg.Agents.RollingWindow,
			SwapThreshold:       cfg.Agents.SwapThreshold,
			SwapMinTrades:       cfg.Agents.SwapMinTrades,
			SwapMinRealTrades:   cfg.Agents.SwapMinRealTrades,
			LearningPhaseTrades: cfg.Agents.LearningPhaseTrades,
			FrictionMultiplier:  cfg.Gate.FrictionMultiplier,
		},
		Thresholds: map[models.AgentKind]float64{
			models.AgentSniper:    cfg.Agents.SniperThreshold,
			models.AgentBerserker: cfg.Agents.BerserkerThreshold,
		},
		RiskMults: map[models.AgentKind]float64{
			models.AgentSniper:    cfg.Agents.SniperRiskMult,
			models.AgentBerserker: cfg.Agents.BerserkerRiskMult,
		},
		Allocator: allocator.Config{
			Period:   cfg.Allocator.Period,
			MinAlloc: cfg.Allocator.MinAlloc,
			MaxAlloc: cfg.Allocator.MaxAlloc,
		},
		Breaker: breaker.Config{
			MaxDailyLoss:         cfg.Breaker.MaxDailyLoss,
			MaxConsecutiveLosses: cfg.Breaker.MaxConsecutiveLosses,
			MinRollingWinRate:    cfg.Breaker.MinRollingWinRate,
			RollingMinSamples:    cfg.Breaker.RollingMinSamples,
			MaxDrawdown:          cfg.Breaker.MaxDrawdown,
			Cooldown:             cfg.Breaker.Cooldown,
			RetrainMinTrades:     cfg.Breaker.RetrainMinTrades,
			RetrainMinWinRate:    cfg.Breaker.RetrainMinWinRate,
			RetrainMinPF:         cfg.Breaker.RetrainMinPF,
			ReleaseCode:          cfg.Breaker.ReleaseCode,
		},
	}
}

// ProvideDecisionEngine builds the engine and, in paper mode, routes the
// simulated broker's closes back into it.
func ProvideDecisionEngine(
	cfg *config.Config,
	f drepo.MarketDataFeed,
	gateway drepo.ExecutionGateway,
	recorder *usecase.EventRecorder,
	m drepo.Metrics,
	log *logger.Logger,
	paper *execution.PaperGateway,
) *usecase.DecisionEngine {
	rng := rand.New(rand.NewSource(cfg.Engine.Seed))
	engine := usecase.NewDecisionEngine(EngineSettings(cfg), f, gateway, recorder, m, log, rng)
	if paper != nil {
		paper.SetFillHandler(engine.OnPositionClosed)
	}
	return engine
}

func ProvideStateKeeper(engine *usecase.DecisionEngine, store drepo.SnapshotStore, m drepo.Metrics, log *logger.Logger) *usecase.StateKeeper {
	return usecase.NewStateKeeper(engine, store, m, log)
}

// ProvideEngineRunner polls the feed itself only in http sensor mode; the
// push modes drive ticks through the pipeline.
func ProvideEngineRunner(cfg *config.Config, engine *usecase.DecisionEngine, keeper *usecase.StateKeeper, log *logger.Logger) *usecase.EngineRunner {
	return usecase.NewEngineRunner(engine, keeper, log,
		cfg.Sensor.Mode == "http",
		cfg.Engine.TickInterval,
		cfg.Engine.MaintenanceInterval,
	)
}

func ProvideSignalProcessor(latest *feed.LatestFeed, engine *usecase.DecisionEngine) *usecase.SignalProcessor {
	return usecase.NewSignalProcessor(latest, engine)
}

// ProvideTickPipeline throttles pushed updates. It is nil in http mode.
func ProvideTickPipeline(cfg *config.Config, proc *usecase.SignalProcessor, m drepo.Metrics) *mid.TickPipeline {
	if cfg.Sensor.Mode == "http" {
		return nil
	}
	return mid.NewTickPipeline(proc, m,
		mid.WithMaxRPS(cfg.Sensor.MaxRPS),
		mid.WithBufferSize(cfg.Sensor.BufferSize),
		mid.WithStaleAfter(cfg.Sensor.StaleAfter),
	)
}

// ProvideSignalCollector reads the sensor websocket. It is nil outside
// websocket mode.
func ProvideSignalCollector(
	cfg *config.Config,
	proc *usecase.SignalProcessor,
	pipe *mid.TickPipeline,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.SignalCollector {
	if cfg.Sensor.Mode != "websocket" {
		return nil
	}
	stream := sensor.New(cfg.Sensor.WebSocketURL, cfg.Sensor.Token, cfg.Sensor.ReconnectDelay, cfg.Sensor.PingInterval, log)
	return usecase.NewSignalCollector(stream, proc, pipe, cfg.Engine.Instruments, m, log)
}

// KafkaHandlers is the set of topic handlers the consumer serves.
type KafkaHandlers []pkgkafka.MessageHandler

// ProvideKafkaHandlers registers the signals topic in kafka sensor mode and
// the fills topic in kafka execution mode.
func ProvideKafkaHandlers(cfg *config.Config, pipe *mid.TickPipeline, engine *usecase.DecisionEngine, m drepo.Metrics, log *logger.Logger) KafkaHandlers {
	var handlers KafkaHandlers
	if cfg.Sensor.Mode == "kafka" && pipe != nil {
		handlers = append(handlers, usecase.NewKafkaSignalsHandler(cfg.Kafka.Topics.Signals, pipe, m))
	}
	if cfg.Engine.Execution == "kafka" {
		handlers = append(handlers, usecase.NewKafkaFillsHandler(cfg.Kafka.Topics.Fills, engine, m, log))
	}
	return handlers
}

// ProvideKafkaConsumer creates a consumer when there is anything to consume.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger, handlers KafkaHandlers) (*pkgkafka.Consumer, error) {
	if len(handlers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{}, pkgkafka.NewLoggingHook(log)))
	return consumer, nil
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Console.ReleaseRefill, cfg.Console.ReleaseBurst)
}

// ProvideConsoleHandler creates the operator console. The ClickHouse ping is
// exposed on /api/health when the journal is enabled.
func ProvideConsoleHandler(log *logger.Logger, engine *usecase.DecisionEngine, journal drepo.TradeJournal, rl *ratelimit.Limiter, ch *pkgch.Client) *api.ConsoleHandler {
	var opts []api.ConsoleOption
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	return api.NewConsoleHandler(log, engine, journal, rl, opts...)
}

// ProvideHTTPServer creates the console server.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, handler *api.ConsoleHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(log),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	)
}

// ProvideApp assembles the application. Optional components are attached
// only when their mode selected them.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	engine *usecase.DecisionEngine,
	keeper *usecase.StateKeeper,
	recorder *usecase.EventRecorder,
	runner *usecase.EngineRunner,
	httpServer *xhttp.Server,
	collector *usecase.SignalCollector,
	pipe *mid.TickPipeline,
	consumer *pkgkafka.Consumer,
	handlers KafkaHandlers,
	q *queue.RedisQueue,
	paper *execution.PaperGateway,
	pub *internalrepo.KafkaEventPublisher,
	cache pkgcache.Service,
	chClient *pkgch.Client,
) *server.App {
	var opts []server.Option
	if collector != nil {
		opts = append(opts, server.WithSignalCollector(collector))
	} else if pipe != nil {
		opts = append(opts, server.WithPipeline(pipe))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, handlers...))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q))
	}
	if paper != nil {
		opts = append(opts, server.WithPaperGateway(paper))
	}

	// closed in reverse order
	if chClient != nil {
		opts = append(opts, server.WithCloser("clickhouse", chClient))
	}
	opts = append(opts, server.WithCloser("cache", cache))
	if pub != nil {
		opts = append(opts, server.WithCloser("kafka producer", pub))
	}
	return server.New(cfg, log, engine, keeper, recorder, runner, httpServer, opts...)
}
