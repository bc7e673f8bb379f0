package di

import (
	"context"
	"fmt"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/internal/handler/api"
	mid "FinFuse/internal/middleware"
	internalrepo "FinFuse/internal/repository"
	svcmetrics "FinFuse/internal/service/metrics"
	"FinFuse/internal/service/execution"
	"FinFuse/internal/service/feed"
	analytics "FinFuse/internal/services/analytics"
	"FinFuse/internal/usecase"
	"FinFuse/pkg/cache"
	pkgch "FinFuse/pkg/clickhouse"
	"FinFuse/pkg/config"
	xhttp "FinFuse/pkg/http"
	pkgkafka "FinFuse/pkg/kafka"
	applogger "FinFuse/pkg/logger"
	"FinFuse/pkg/metrics"
	"FinFuse/pkg/queue"
	"FinFuse/pkg/scheduler"
	"FinFuse/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// ProvideRegistry creates the registry every metric in the process uses.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger. Error lines are aggregated
// and shipped to the logs topic when collection is on.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: "finfuse",
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collect.Interval,
			CountThreshold: cfg.Log.Collect.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Service:        "finfuse",
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideRedisClient connects to Redis, or returns nil when it is off.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return client, nil
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// archive is off.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideCache backs locks and cached results with Redis when available.
func ProvideCache(cfg *config.Config, rdb *redis.Client) cache.Service {
	if rdb == nil {
		return cache.NewMemoryCache()
	}
	rc := cache.NewRedisCache(rdb, cfg.Redis.KeyPrefix+":cache")
	return cache.NewLayeredCache(rc, cfg.Cache.L1Size, cfg.Cache.L1TTL)
}

// ProvideSignalStore selects the signal store backend.
func ProvideSignalStore(cfg *config.Config, rdb *redis.Client) domrepo.SignalStore {
	if cfg.Store.Backend == "redis" && rdb != nil {
		return internalrepo.NewRedisSignalStore(rdb,
			internalrepo.WithRedisKeyPrefix(cfg.Redis.KeyPrefix+":signals"),
			internalrepo.WithTerminalTTL(cfg.Store.TerminalTTL),
		)
	}
	return internalrepo.NewMemorySignalStore()
}

// ProvideSignalArchive archives to ClickHouse, creating its tables first.
func ProvideSignalArchive(ch *pkgch.Client, lgr *applogger.Logger) (domrepo.SignalArchive, error) {
	if ch == nil {
		return internalrepo.NopArchive{}, nil
	}
	archive := internalrepo.NewCHSignalArchive(ch, lgr)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

// ProvideEventPublisher publishes domain events to Kafka when available.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.EventPublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, internalrepo.EventTopics{
		Signals: cfg.Kafka.Topics.SignalEvents,
		Jobs:    cfg.Kafka.Topics.JobEvents,
		Status:  cfg.Kafka.Topics.Status,
	})
}

// ProvideScheduler creates the delay queue shared by the job queue and the
// expiry sweeper.
func ProvideScheduler() *scheduler.DelayQueue {
	return scheduler.New()
}

// ProvideDeadLetter parks exhausted jobs in Redis. nil without Redis.
func ProvideDeadLetter(cfg *config.Config, rdb *redis.Client) *queue.RedisDeadLetter {
	if rdb == nil || !cfg.Queue.DeadLetter.Enabled {
		return nil
	}
	return queue.NewRedisDeadLetter(rdb,
		queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue"),
		queue.WithMaxLen(cfg.Queue.DeadLetter.MaxLen),
	)
}

// ProvideQueue creates the three lanes.
func ProvideQueue(cfg *config.Config, lgr *applogger.Logger, sched *scheduler.DelayQueue, dlq *queue.RedisDeadLetter) *queue.Manager {
	opts := []queue.ManagerOption{
		queue.WithLaneConfig(queue.LaneTrade, laneConfig(cfg.Queue.Trade)),
		queue.WithLaneConfig(queue.LaneAnalysis, laneConfig(cfg.Queue.Analysis)),
		queue.WithLaneConfig(queue.LaneMonitor, laneConfig(cfg.Queue.Monitor)),
	}
	if dlq != nil {
		opts = append(opts, queue.WithLaneOptions(queue.WithDeadLetter(dlq)))
	}
	return queue.NewManager(lgr, sched, opts...)
}

func laneConfig(l config.Lane) queue.LaneConfig {
	lc := queue.DefaultLaneConfig()
	if l.Workers > 0 {
		lc.Workers = l.Workers
	}
	if l.MaxAttempts > 0 {
		lc.MaxAttempts = l.MaxAttempts
	}
	if l.Backoff != "" {
		if kind, err := queue.ParseBackoffKind(l.Backoff); err == nil {
			lc.Backoff.Kind = kind
		}
	}
	if l.BackoffBase > 0 {
		lc.Backoff.Base = l.BackoffBase
	}
	if l.BackoffMax > 0 {
		lc.Backoff.Max = l.BackoffMax
	}
	if l.LeaseTimeout > 0 {
		lc.LeaseTimeout = l.LeaseTimeout
	}
	if l.HistorySize > 0 {
		lc.HistorySize = l.HistorySize
	}
	return lc
}

func ProvideLifecycle(store domrepo.SignalStore, archive domrepo.SignalArchive, events domrepo.EventPublisher, m domrepo.Metrics, lgr *applogger.Logger) *usecase.Lifecycle {
	return usecase.NewLifecycle(store, archive, events, m, lgr)
}

// ProvideAggregator applies the configured per-source weights.
func ProvideAggregator(cfg *config.Config, store domrepo.SignalStore, archive domrepo.SignalArchive, events domrepo.EventPublisher, m domrepo.Metrics, lgr *applogger.Logger) (*usecase.Aggregator, error) {
	weights := make(usecase.SourceWeights, len(cfg.Decision.Weights))
	for name, w := range cfg.Decision.Weights {
		src, err := models.ParseSource(name)
		if err != nil {
			return nil, fmt.Errorf("decision.weights: %w", err)
		}
		weights[src] = w
	}
	return usecase.NewAggregator(store, archive, events, m, lgr, weights), nil
}

func ProvideSignalService(store domrepo.SignalStore, archive domrepo.SignalArchive, events domrepo.EventPublisher, m domrepo.Metrics, life *usecase.Lifecycle, lgr *applogger.Logger) *usecase.SignalService {
	return usecase.NewSignalService(store, archive, events, m, life, lgr)
}

// ProvideIngestPipeline fronts the signal service for every ingest channel.
func ProvideIngestPipeline(cfg *config.Config, signals *usecase.SignalService, m domrepo.Metrics, lgr *applogger.Logger) *mid.IngestPipeline {
	return mid.NewIngestPipeline(signals, m, lgr,
		mid.WithRate(cfg.Ingest.Burst, cfg.Ingest.RatePerSec),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
	)
}

func ProvideIngestor(p *mid.IngestPipeline) usecase.Ingestor { return p }

func ProvideDecisionService(cfg *config.Config, store domrepo.SignalStore, agg *usecase.Aggregator, life *usecase.Lifecycle, jobs *queue.Manager, c cache.Service, archive domrepo.SignalArchive, m domrepo.Metrics, lgr *applogger.Logger) *usecase.DecisionService {
	return usecase.NewDecisionService(store, agg, life, jobs, c, archive, m, lgr, usecase.DecisionConfig{
		Threshold: cfg.Decision.Threshold,
		LockTTL:   cfg.Decision.LockTTL,
		ResultTTL: cfg.Decision.ResultTTL,
	})
}

// ProvideExecutionAdapter selects paper trading or the Kafka order topic.
func ProvideExecutionAdapter(cfg *config.Config, producer *pkgkafka.Producer, lgr *applogger.Logger) (domrepo.ExecutionAdapter, error) {
	switch cfg.Execution.Adapter {
	case "kafka":
		if producer == nil {
			return nil, fmt.Errorf("kafka execution adapter needs kafka enabled")
		}
		return execution.NewKafkaAdapter(producer, cfg.Kafka.Topics.Orders, lgr), nil
	default:
		return execution.NewPaperAdapter(lgr, cfg.Execution.PaperLatency), nil
	}
}

func ProvideTradeExecutor(cfg *config.Config, store domrepo.SignalStore, life *usecase.Lifecycle, adapter domrepo.ExecutionAdapter, m domrepo.Metrics, lgr *applogger.Logger) *usecase.TradeExecutor {
	return usecase.NewTradeExecutor(store, life, adapter, m, lgr, cfg.Decision.Threshold)
}

func ProvideJobService(jobs *queue.Manager, exec *usecase.TradeExecutor, dlq *queue.RedisDeadLetter) *usecase.JobService {
	svc := usecase.NewJobService(jobs, exec)
	if dlq != nil {
		svc.SetDeadLetters(dlq)
	}
	return svc
}

func ProvideMonitor(jobs *queue.Manager, store domrepo.SignalStore, events domrepo.EventPublisher, m domrepo.Metrics, lgr *applogger.Logger) *usecase.Monitor {
	return usecase.NewMonitor(jobs, store, events, m, lgr)
}

func ProvideJobEvents(events domrepo.EventPublisher, m domrepo.Metrics, lgr *applogger.Logger) *usecase.JobEvents {
	return usecase.NewJobEvents(events, m, lgr)
}

// ProvideAnalysisRunner returns nil when no model service is configured.
func ProvideAnalysisRunner(cfg *config.Config, signals *usecase.SignalService, jobs *queue.Manager, c cache.Service, reg *prometheus.Registry, lgr *applogger.Logger) (*usecase.AnalysisRunner, error) {
	if !cfg.Analytics.Enabled {
		return nil, nil
	}
	sources := make([]models.Source, 0, len(cfg.Analytics.Sources))
	for _, name := range cfg.Analytics.Sources {
		src, err := models.ParseSource(name)
		if err != nil {
			return nil, fmt.Errorf("analytics.sources: %w", err)
		}
		sources = append(sources, src)
	}
	model := analytics.NewHTTPModelClient(cfg.Analytics.BaseURL, cfg.Analytics.Timeout, c, cfg.Analytics.CacheTTL)
	model.SetMetrics(svcmetrics.NewModelMetrics(reg))
	return usecase.NewAnalysisRunner(model, signals, jobs, lgr, usecase.AnalysisConfig{
		Symbols:   cfg.Analytics.Symbols,
		Sources:   sources,
		Timeframe: models.Timeframe(cfg.Analytics.Timeframe),
	}), nil
}

// ProvideQueueHandlers lists one handler per lane.
func ProvideQueueHandlers(exec *usecase.TradeExecutor, analysis *usecase.AnalysisRunner, monitor *usecase.Monitor) []queue.Handler {
	handlers := []queue.Handler{exec, monitor}
	if analysis != nil {
		handlers = append(handlers, analysis)
	}
	return handlers
}

// ProvideSignalCollector returns nil when the websocket feed is off.
func ProvideSignalCollector(cfg *config.Config, ingest usecase.Ingestor, m domrepo.Metrics, lgr *applogger.Logger) *usecase.SignalCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	client := feed.New(feed.Config{
		URL:            cfg.Feed.URL,
		Token:          cfg.Feed.Token,
		Symbols:        cfg.Feed.Symbols,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		PingInterval:   cfg.Feed.PingInterval,
		BufferSize:     cfg.Feed.BufferSize,
	}, lgr)
	return usecase.NewSignalCollector(client, ingest, m, lgr)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil
// when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, lgr *applogger.Logger, reg *prometheus.Registry) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(lgr,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerOffsetReset(cfg.Kafka.Consumer.OffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaHandlers binds the signal ingest and outcome topics.
func ProvideKafkaHandlers(cfg *config.Config, ingest usecase.Ingestor, exec *usecase.TradeExecutor, m domrepo.Metrics, lgr *applogger.Logger) []pkgkafka.MessageHandler {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return []pkgkafka.MessageHandler{
		usecase.NewKafkaSignalsHandler(cfg.Kafka.Topics.Signals, ingest, m, lgr),
		usecase.NewKafkaOutcomesHandler(cfg.Kafka.Topics.Outcomes, exec, m, lgr),
	}
}

func ProvideCronRunner(lgr *applogger.Logger) *scheduler.CronRunner {
	return scheduler.NewCronRunner(lgr)
}

func ProvideExpirySweeper(cfg *config.Config, store domrepo.SignalStore, life *usecase.Lifecycle, sched *scheduler.DelayQueue, m domrepo.Metrics, lgr *applogger.Logger) *usecase.ExpirySweeper {
	return usecase.NewExpirySweeper(store, life, sched, m, lgr, cfg.Sweeper.Interval)
}

// ProvideRouter builds the HTTP routes.
func ProvideRouter(lgr *applogger.Logger, ingest usecase.Ingestor, signals *usecase.SignalService, decisions *usecase.DecisionService, jobs *usecase.JobService, monitor *usecase.Monitor) *api.Router {
	return api.NewRouter(
		api.NewSignalsHandler(lgr, ingest, signals),
		api.NewDecisionsHandler(decisions),
		api.NewJobsHandler(jobs, monitor),
	)
}

// ProvideHTTPServer creates the echo server serving the router and metrics.
func ProvideHTTPServer(cfg *config.Config, router *api.Router, lgr *applogger.Logger, reg *prometheus.Registry) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(router, lgr,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins...),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithMetrics(metricsPath, reg, reg),
	)
}

// ProvideApp assembles the application. Closers are listed in dependency
// order; the App releases them in reverse.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	jobs *queue.Manager,
	handlers []queue.Handler,
	jobEvents *usecase.JobEvents,
	cron *scheduler.CronRunner,
	analysis *usecase.AnalysisRunner,
	monitor *usecase.Monitor,
	sweeper *usecase.ExpirySweeper,
	pipeline *mid.IngestPipeline,
	collector *usecase.SignalCollector,
	consumer *pkgkafka.Consumer,
	kafkaHandlers []pkgkafka.MessageHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	rdb *redis.Client,
	ch *pkgch.Client,
	c cache.Service,
	adapter domrepo.ExecutionAdapter,
) (*server.App, error) {
	var closers []server.Closer
	if producer != nil {
		closers = append(closers, server.Closer{Name: "kafka producer", Close: producer.Close})
		closers = append(closers, server.Closer{Name: "log collector", Close: func() error {
			lgr.RemoveCollector()
			return nil
		}})
	}
	if rdb != nil {
		closers = append(closers, server.Closer{Name: "redis", Close: rdb.Close})
	}
	if ch != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	closers = append(closers,
		server.Closer{Name: "cache", Close: c.Close},
		server.Closer{Name: "execution adapter", Close: adapter.Close},
	)

	comps := server.Components{
		Logger:    lgr,
		Queue:     jobs,
		Handlers:  handlers,
		JobEvents: jobEvents,
		Cron:      cron,
		Analysis:  analysis,
		Monitor:   monitor,
		Sweeper:   sweeper,
		Pipeline:  pipeline,
		Collector: collector,
		Consumer:  consumer,
		Kafka:     kafkaHandlers,
		HTTP:      httpServer,
		Closers:   closers,
	}
	return server.New(cfg, comps)
}
