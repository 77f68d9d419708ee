package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"RegimeDuel/pkg/util"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Redis       RedisConfig      `yaml:"redis"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Queue       QueueConfig      `yaml:"queue"`
	Sensor      SensorConfig     `yaml:"sensor"`
	Engine      EngineConfig     `yaml:"engine"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	Gate        GateConfig       `yaml:"gate"`
	Predictor   PredictorConfig  `yaml:"predictor"`
	Agents      AgentsConfig     `yaml:"agents"`
	Allocator   AllocatorConfig  `yaml:"allocator"`
	Breaker     BreakerConfig    `yaml:"breaker"`
	Console     ConsoleConfig    `yaml:"console"`
	Alerts      AlertsConfig     `yaml:"alerts"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout" validate:"required"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors" default:"true"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type KafkaConfig struct {
	Brokers      []string       `yaml:"brokers"`
	RequiredAcks int            `yaml:"required_acks" default:"-1"`
	Compression  string         `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Topics       TopicsConfig   `yaml:"topics"`
	Producer     ProducerConfig `yaml:"producer"`
	Consumer     ConsumerConfig `yaml:"consumer"`
}

type TopicsConfig struct {
	Signals string `yaml:"signals" default:"regime.signals"`
	Fills   string `yaml:"fills" default:"execution.fills"`
	Orders  string `yaml:"orders" default:"execution.orders"`
	Events  string `yaml:"events" default:"engine.events"`
	Alerts  string `yaml:"alerts" default:"engine.alerts"`
}

type ProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
	Linger       time.Duration `yaml:"linger" default:"5ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
}

type ConsumerConfig struct {
	GroupID     string        `yaml:"group_id" default:"regimeduel"`
	StartOffset string        `yaml:"start_offset" default:"earliest" validate:"oneof=earliest latest"`
	Workers     int           `yaml:"workers" default:"1" validate:"gte=1"`
	BufferSize  int           `yaml:"buffer_size" default:"256"`
	RetryMax    int           `yaml:"retry_max" default:"3"`
	BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
	DLQTopic    string        `yaml:"dlq_topic" default:"engine.dlq"`
	MinBytes    int           `yaml:"min_bytes" default:"1"`
	MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"6379"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size" default:"10"`
	Prefix      string        `yaml:"prefix" default:"regimeduel"`
	SnapshotKey string        `yaml:"snapshot_key" default:"engine:snapshot"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"30s"`
	PingTimeout time.Duration `yaml:"ping_timeout" default:"5s"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled" default:"true"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"regimeduel"`
	JournalTable     string        `yaml:"journal_table" default:"closed_trades"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type QueueConfig struct {
	Name          string        `yaml:"name" default:"journal"`
	Workers       int           `yaml:"workers" default:"2" validate:"gte=1"`
	MaxRetries    int           `yaml:"max_retries" default:"5"`
	RetryDelay    time.Duration `yaml:"retry_delay" default:"2s"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" default:"1m"`
}

type SensorConfig struct {
	Mode           string        `yaml:"mode" default:"kafka" validate:"oneof=kafka websocket http"`
	BaseURL        string        `yaml:"base_url" default:"http://localhost:9100"`
	WebSocketURL   string        `yaml:"websocket_url" default:"ws://localhost:9100/stream"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout" default:"2s"`
	MaxRetries     uint64        `yaml:"max_retries" default:"3"`
	SpecTTL        time.Duration `yaml:"spec_ttl" default:"30s"`
	ATRTTL         time.Duration `yaml:"atr_ttl" default:"1m"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	RateLimit      float64       `yaml:"rate_limit" default:"50" validate:"gt=0"`
	MaxRPS         int           `yaml:"max_rps" default:"10" validate:"gte=1"`
	BufferSize     int           `yaml:"buffer_size" default:"256" validate:"gte=1"`
	StaleAfter     time.Duration `yaml:"stale_after" default:"5s"`
}

type EngineConfig struct {
	Instruments            []string      `yaml:"instruments" validate:"required,min=1,dive,required"`
	Execution              string        `yaml:"execution" default:"paper" validate:"oneof=kafka paper"`
	InitialEquity          float64       `yaml:"initial_equity" default:"10000" validate:"gt=0"`
	MinProbability         float64       `yaml:"min_probability" default:"0.55" validate:"gte=0.3,lte=0.7"`
	RiskPct                float64       `yaml:"risk_pct" default:"0.01" validate:"gt=0,lte=0.1"`
	StopATRMult            float64       `yaml:"stop_atr_mult" default:"1.5" validate:"gt=0"`
	TargetATRMult          float64       `yaml:"target_atr_mult" default:"2.0" validate:"gt=0"`
	TrailActivateATR       float64       `yaml:"trail_activate_atr" default:"1.0" validate:"gte=0"`
	TrailDistanceATR       float64       `yaml:"trail_distance_atr" default:"1.0" validate:"gt=0"`
	ShadowTimeout          time.Duration `yaml:"shadow_timeout" default:"120m"`
	FrictionTicks          float64       `yaml:"friction_ticks" default:"1.0" validate:"gte=0"`
	ShadowOnly             bool          `yaml:"shadow_only"`
	AllowLiveLowConfidence bool          `yaml:"allow_live_low_confidence"`
	OmegaSizing            bool          `yaml:"omega_sizing" default:"true"`
	ExplorationNoise       float64       `yaml:"exploration_noise" default:"0.05" validate:"gte=0"`
	Seed                   int64         `yaml:"seed" default:"1"`
	PoolCapacity           int           `yaml:"pool_capacity" default:"64" validate:"gte=4"`
	TickInterval           time.Duration `yaml:"tick_interval" default:"1s"`
	MaintenanceInterval    time.Duration `yaml:"maintenance_interval" default:"1m"`
	RecorderBuffer         int           `yaml:"recorder_buffer" default:"1024" validate:"gte=1"`
}

type LedgerConfig struct {
	InitialRate   float64 `yaml:"initial_rate" default:"0.10" validate:"gt=0,lte=1"`
	MinRate       float64 `yaml:"min_rate" default:"0.01" validate:"gt=0"`
	DecayFactor   float64 `yaml:"decay" default:"0.995" validate:"gt=0,lte=1"`
	MaxBoost      float64 `yaml:"max_boost" default:"2.0" validate:"gte=1"`
	LossPenalty   float64 `yaml:"loss_penalty" default:"1.5" validate:"gt=1"`
	TimeDecayRate float64 `yaml:"time_decay_rate" default:"0.001" validate:"gte=0"`
}

type GateConfig struct {
	MinTrades          int     `yaml:"min_trades" default:"30" validate:"gte=1"`
	BaseWinRate        float64 `yaml:"base_win_rate" default:"0.52" validate:"gt=0,lt=1"`
	MaxPValue          float64 `yaml:"max_p_value" default:"0.05" validate:"gt=0,lt=1"`
	FrictionMultiplier float64 `yaml:"friction_multiplier" default:"0.10" validate:"gte=0"`
}

type PredictorConfig struct {
	Alpha         float64 `yaml:"alpha" default:"0.05" validate:"gt=0,lt=1"`
	OmegaBaseline float64 `yaml:"omega_baseline" default:"1.0" validate:"gt=0"`
	OmegaFloor    float64 `yaml:"omega_floor" default:"0.25" validate:"gt=0"`
	OmegaMax      float64 `yaml:"omega_max" default:"2.0" validate:"gt=0"`
}

type AgentsConfig struct {
	RollingWindow       int     `yaml:"rolling_window" default:"20" validate:"gte=1"`
	SwapThreshold       float64 `yaml:"swap_threshold" default:"1.10" validate:"gte=1"`
	SwapMinTrades       int     `yaml:"swap_min_trades" default:"30" validate:"gte=1"`
	SwapMinRealTrades   int     `yaml:"swap_min_real_trades" default:"10" validate:"gte=0"`
	LearningPhaseTrades int     `yaml:"learning_phase_trades" default:"100" validate:"gte=0"`
	SniperThreshold     float64 `yaml:"sniper_threshold" default:"1.5" validate:"gt=0"`
	BerserkerThreshold  float64 `yaml:"berserker_threshold" default:"0.8" validate:"gt=0"`
	SniperRiskMult      float64 `yaml:"sniper_risk_mult" default:"1.0" validate:"gt=0,lte=2"`
	BerserkerRiskMult   float64 `yaml:"berserker_risk_mult" default:"1.0" validate:"gt=0,lte=2"`
}

type AllocatorConfig struct {
	Period   int     `yaml:"period" default:"20" validate:"gte=1"`
	MinAlloc float64 `yaml:"min" default:"0.2" validate:"gte=0,lte=0.5"`
	MaxAlloc float64 `yaml:"max" default:"0.8" validate:"gte=0.5,lte=1"`
}

type BreakerConfig struct {
	MaxDailyLoss         float64       `yaml:"max_daily_loss" default:"0.03" validate:"gt=0,lt=1"`
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses" default:"5" validate:"gte=1"`
	MinRollingWinRate    float64       `yaml:"min_rolling_win_rate" default:"0.35" validate:"gte=0,lt=1"`
	RollingMinSamples    int           `yaml:"rolling_min_samples" default:"10" validate:"gte=1"`
	MaxDrawdown          float64       `yaml:"max_drawdown" default:"0.10" validate:"gt=0,lt=1"`
	Cooldown             time.Duration `yaml:"cooldown" default:"60m"`
	RetrainMinTrades     int           `yaml:"retrain_min_trades" default:"20" validate:"gte=1"`
	RetrainMinWinRate    float64       `yaml:"retrain_min_win_rate" default:"0.50" validate:"gte=0,lte=1"`
	RetrainMinPF         float64       `yaml:"retrain_min_pf" default:"1.2" validate:"gte=0"`
	ReleaseCode          string        `yaml:"release_code" validate:"required,min=6"`
}

type ConsoleConfig struct {
	ReleaseBurst  int     `yaml:"release_burst" default:"3" validate:"gte=1"`
	ReleaseRefill float64 `yaml:"release_refill_per_sec" default:"0.05" validate:"gt=0"`
}

type AlertsConfig struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
	CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gte=1"`
	MinLevel       string        `yaml:"min_level" default:"error" validate:"oneof=warn error"`
}

var validate = validator.New()

// Load reads a YAML file on top of the tag defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, nil)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, os.LookupEnv)
}

// Parse decodes raw YAML, applies env overrides through lookup (may be nil) and validates.
func Parse(raw []byte, lookup func(string) (string, bool)) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if lookup != nil {
		if err := c.applyEnv(lookup); err != nil {
			return nil, err
		}
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ENVIRONMENT":         &c.Environment,
		"LOG_LEVEL":           &c.Log.Level,
		"SENSOR_MODE":         &c.Sensor.Mode,
		"SENSOR_BASE_URL":     &c.Sensor.BaseURL,
		"SENSOR_WS_URL":       &c.Sensor.WebSocketURL,
		"SENSOR_TOKEN":        &c.Sensor.Token,
		"EXECUTION_MODE":      &c.Engine.Execution,
		"REDIS_HOST":          &c.Redis.Host,
		"REDIS_PASSWORD":      &c.Redis.Password,
		"CLICKHOUSE_HOST":     &c.ClickHouse.Host,
		"CLICKHOUSE_PASSWORD": &c.ClickHouse.Password,
		"RELEASE_CODE":        &c.Breaker.ReleaseCode,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v, ok := lookup("REDIS_PORT"); ok {
		c.Redis.Port = util.ParseIntDefault(v, c.Redis.Port)
	}
	if v, ok := lookup("INSTRUMENTS"); ok && v != "" {
		c.Engine.Instruments = util.SplitList(v)
	}
	if v, ok := lookup("SHADOW_ONLY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SHADOW_ONLY: %w", err)
		}
		c.Engine.ShadowOnly = b
	}
	if v, ok := lookup("INITIAL_EQUITY"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_EQUITY: %w", err)
		}
		c.Engine.InitialEquity = f
	}
	return nil
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c *Config) Validate() error {
	if c.Ledger.MinRate > c.Ledger.InitialRate {
		return fmt.Errorf("ledger.min_rate %v exceeds ledger.initial_rate %v", c.Ledger.MinRate, c.Ledger.InitialRate)
	}
	if c.Predictor.OmegaFloor > c.Predictor.OmegaMax {
		return fmt.Errorf("predictor.omega_floor %v exceeds predictor.omega_max %v", c.Predictor.OmegaFloor, c.Predictor.OmegaMax)
	}
	if c.Allocator.MinAlloc > c.Allocator.MaxAlloc {
		return fmt.Errorf("allocator.min %v exceeds allocator.max %v", c.Allocator.MinAlloc, c.Allocator.MaxAlloc)
	}
	if c.Engine.TargetATRMult <= 0 || c.Engine.StopATRMult <= 0 {
		return fmt.Errorf("engine stop/target multiples must be positive")
	}
	needKafka := c.Sensor.Mode == "kafka" || c.Engine.Execution == "kafka"
	if needKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Engine.PoolCapacity < 4*len(c.Engine.Instruments) {
		return fmt.Errorf("engine.pool_capacity %d too small for %d instruments", c.Engine.PoolCapacity, len(c.Engine.Instruments))
	}
	return nil
}
