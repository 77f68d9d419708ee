//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"RegimeDuel/pkg/config"
	"RegimeDuel/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure
		ProvideKafkaProducer,
		ProvideKafkaEventPublisher,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideCacheService,
		ProvideClickHouseClient,

		// Repositories
		ProvideEventPublisher,
		ProvideSnapshotStore,
		ProvideTradeJournal,
		ProvideJournalJob,
		ProvideRedisQueue,
		ProvideJournalQueue,

		// Market data and execution
		ProvideHTTPClient,
		ProvideHTTPFeed,
		ProvideLatestFeed,
		ProvideMarketDataFeed,
		ProvidePaperGateway,
		ProvideExecutionGateway,

		// Use cases
		ProvideEventRecorder,
		ProvideDecisionEngine,
		ProvideStateKeeper,
		ProvideEngineRunner,
		ProvideSignalProcessor,
		ProvideTickPipeline,
		ProvideSignalCollector,
		ProvideKafkaHandlers,
		ProvideKafkaConsumer,

		// Console
		ProvideRateLimiter,
		ProvideConsoleHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
