//go:build wireinject
// +build wireinject

package di

import (
	"FinFuse/pkg/config"
	"FinFuse/pkg/server"

	"github.com/google/wire"
)

// InfraSet holds the external clients and the stores built on them.
var InfraSet = wire.NewSet(
	ProvideRegistry,
	ProvideMetrics,
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideRedisClient,
	ProvideClickHouseClient,
	ProvideCache,
	ProvideSignalStore,
	ProvideSignalArchive,
	ProvideEventPublisher,
	ProvideScheduler,
	ProvideDeadLetter,
	ProvideQueue,
)

// UsecaseSet holds the signal, decision and execution services.
var UsecaseSet = wire.NewSet(
	ProvideLifecycle,
	ProvideAggregator,
	ProvideSignalService,
	ProvideIngestPipeline,
	ProvideIngestor,
	ProvideDecisionService,
	ProvideExecutionAdapter,
	ProvideTradeExecutor,
	ProvideJobService,
	ProvideMonitor,
	ProvideJobEvents,
	ProvideAnalysisRunner,
	ProvideQueueHandlers,
	ProvideSignalCollector,
	ProvideExpirySweeper,
	ProvideCronRunner,
)

// TransportSet holds the HTTP and Kafka entry points.
var TransportSet = wire.NewSet(
	ProvideKafkaConsumer,
	ProvideKafkaHandlers,
	ProvideRouter,
	ProvideHTTPServer,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		InfraSet,
		UsecaseSet,
		TransportSet,
		ProvideApp,
	)
	return &server.App{}, nil
}
