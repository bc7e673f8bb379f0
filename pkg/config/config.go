package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"FinFuse/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`

	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
		// Error lines aggregated and shipped to Kafka when enabled.
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collect"`
	} `yaml:"log"`

	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr" default:"localhost:6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"5"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
		KeyPrefix    string        `yaml:"key_prefix" default:"finfuse"`
	} `yaml:"redis"`

	Store struct {
		Backend     string        `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
		TerminalTTL time.Duration `yaml:"terminal_ttl" default:"168h"`
	} `yaml:"store"`

	Cache struct {
		L1Size int           `yaml:"l1_size" default:"1000"`
		L1TTL  time.Duration `yaml:"l1_ttl" default:"5s"`
	} `yaml:"cache"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Topics       struct {
			Signals      string `yaml:"signals" default:"finfuse.signals.in"`
			Outcomes     string `yaml:"outcomes" default:"finfuse.outcomes"`
			Orders       string `yaml:"orders" default:"finfuse.orders"`
			SignalEvents string `yaml:"signal_events" default:"finfuse.signals.events"`
			JobEvents    string `yaml:"job_events" default:"finfuse.jobs.events"`
			Status       string `yaml:"status" default:"finfuse.status"`
			Logs         string `yaml:"logs" default:"finfuse.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"finfuse"`
			OffsetReset string        `yaml:"offset_reset" default:"latest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"4"`
			BufferSize  int           `yaml:"buffer_size" default:"1000"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic    string        `yaml:"dlq_topic" default:"finfuse.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finfuse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url" validate:"omitempty,url"`
		Token          string        `yaml:"token"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		BufferSize     int           `yaml:"buffer_size" default:"1000"`
	} `yaml:"feed"`

	Analytics struct {
		Enabled   bool          `yaml:"enabled"`
		BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
		Timeout   time.Duration `yaml:"timeout" default:"5s"`
		CacheTTL  time.Duration `yaml:"cache_ttl" default:"30s"`
		Symbols   []string      `yaml:"symbols"`
		Sources   []string      `yaml:"sources" validate:"dive,oneof=technical sentiment pattern prediction"`
		Timeframe string        `yaml:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	} `yaml:"analytics"`

	Queue struct {
		Trade      Lane `yaml:"trade"`
		Analysis   Lane `yaml:"analysis"`
		Monitor    Lane `yaml:"monitor"`
		DeadLetter struct {
			Enabled bool  `yaml:"enabled" default:"true"`
			MaxLen  int64 `yaml:"max_len" default:"10000"`
		} `yaml:"dead_letter"`
	} `yaml:"queue"`

	Cron struct {
		Analysis string `yaml:"analysis" default:"0 */5 * * * *"`
		Monitor  string `yaml:"monitor" default:"*/30 * * * * *"`
	} `yaml:"cron"`

	Decision struct {
		Threshold float64            `yaml:"threshold" default:"75" validate:"gt=0,lte=100"`
		LockTTL   time.Duration      `yaml:"lock_ttl" default:"10s"`
		ResultTTL time.Duration      `yaml:"result_ttl" default:"1h"`
		Weights   map[string]float64 `yaml:"weights" validate:"dive,keys,oneof=technical sentiment pattern prediction,endkeys,gte=0"`
	} `yaml:"decision"`

	Sweeper struct {
		Interval time.Duration `yaml:"interval" default:"1m"`
	} `yaml:"sweeper"`

	Ingest struct {
		Burst      float64 `yaml:"burst" default:"10" validate:"gte=0"`
		RatePerSec float64 `yaml:"rate_per_sec" default:"2" validate:"gte=0"`
		BufferSize int     `yaml:"buffer_size" default:"1000" validate:"gte=1"`
	} `yaml:"ingest"`

	Execution struct {
		Adapter      string        `yaml:"adapter" default:"paper" validate:"oneof=paper kafka"`
		PaperLatency time.Duration `yaml:"paper_latency"`
	} `yaml:"execution"`
}

// Lane is the YAML form of one job lane's settings. Zero values fall back
// to the queue defaults.
type Lane struct {
	Workers      int           `yaml:"workers" validate:"gte=0"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=0"`
	Backoff      string        `yaml:"backoff" validate:"omitempty,oneof=fixed exponential"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	HistorySize  int           `yaml:"history_size" validate:"gte=0"`
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides it with environment
// variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseWithEnv(b, os.LookupEnv)
}

// ParseWithEnv is Parse followed by environment overrides read through
// lookup, then validation of the merged result.
func ParseWithEnv(b []byte, lookup func(string) (string, bool)) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = util.SplitCSV(v)
		}
	}

	str("FINFUSE_ENV", &c.Environment)
	str("FINFUSE_LOG_LEVEL", &c.Log.Level)
	str("FINFUSE_STORE", &c.Store.Backend)
	str("FINFUSE_EXECUTION_ADAPTER", &c.Execution.Adapter)
	str("FINFUSE_FEED_URL", &c.Feed.URL)
	str("FINFUSE_FEED_TOKEN", &c.Feed.Token)
	str("FINFUSE_ANALYTICS_URL", &c.Analytics.BaseURL)
	str("FINFUSE_CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("FINFUSE_CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("FINFUSE_REDIS_PASSWORD", &c.Redis.Password)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	list("FINFUSE_SYMBOLS", &c.Feed.Symbols)
	list("FINFUSE_ANALYSIS_SYMBOLS", &c.Analytics.Symbols)

	if v, ok := lookup("FINFUSE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FINFUSE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("FINFUSE_DECISION_THRESHOLD"); ok && v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FINFUSE_DECISION_THRESHOLD: %w", err)
		}
		c.Decision.Threshold = th
	}
	// Setting REDIS_ADDR implies the deployment has Redis.
	if _, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Enabled = true
	}
	if len(c.Kafka.Brokers) > 0 {
		if _, ok := lookup("KAFKA_BROKERS"); ok {
			c.Kafka.Enabled = true
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks field rules and the cross-section dependencies.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Store.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("store.backend redis requires redis.enabled")
	}
	if c.Execution.Adapter == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("execution.adapter kafka requires kafka.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required when the feed is enabled")
	}
	if c.Analytics.Enabled && c.Analytics.BaseURL == "" {
		return fmt.Errorf("analytics.base_url is required when analytics is enabled")
	}
	if c.Feed.Enabled && len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols cannot be empty when the feed is enabled")
	}
	if c.Analytics.Enabled && len(c.Analytics.Symbols) == 0 {
		return fmt.Errorf("analytics.symbols cannot be empty when analytics is enabled")
	}
	return nil
}

// Symbols returns every symbol the service watches, uppercased and
// deduplicated.
func (c *Config) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range util.UpperAll(append(append([]string{}, c.Feed.Symbols...), c.Analytics.Symbols...)) {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
