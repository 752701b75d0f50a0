// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Collaborators CollaboratorsConfig     `mapstructure:"collaborators"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Cache         CacheConfig             `mapstructure:"cache"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // single address shorthand
	// IndexPrefix is prepended to each collection name, e.g. "cfg_accounts".
	IndexPrefix string `mapstructure:"index_prefix"`
	VectorField string `mapstructure:"vector_field"`
	LabelField  string `mapstructure:"label_field"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// APIsConfig holds endpoints and credentials of the model and chart services.
type APIsConfig struct {
	GenAI struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"genai"`

	OpenAI struct {
		BaseURL        string `mapstructure:"base_url"`
		APIKey         string `mapstructure:"api_key"`
		ChatModel      string `mapstructure:"chat_model"`
		EmbeddingModel string `mapstructure:"embedding_model"`
		Dimensions     int    `mapstructure:"dimensions"`
	} `mapstructure:"openai"`

	Visualizer struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
	} `mapstructure:"visualizer"`
}

const (
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
)

// CollaboratorConfig bounds calls to one external collaborator.
type CollaboratorConfig struct {
	Provider   string `mapstructure:"provider"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

type CollaboratorsConfig struct {
	Oracle     CollaboratorConfig `mapstructure:"oracle"`
	Embedder   CollaboratorConfig `mapstructure:"embedder"`
	Semantic   CollaboratorConfig `mapstructure:"semantic"`
	Structured CollaboratorConfig `mapstructure:"structured"`
	Visualizer CollaboratorConfig `mapstructure:"visualizer"`
}

// PipelineConfig tunes routing, retrieval and the responders.
type PipelineConfig struct {
	LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold"`
	TopK                   int     `mapstructure:"top_k"`
	MinHistoryPeriods      int     `mapstructure:"min_history_periods"`
	ForecastHorizon        int     `mapstructure:"forecast_horizon"`
	HistoryYears           int     `mapstructure:"history_years"`
	DefaultFiscalYear      int     `mapstructure:"default_fiscal_year"`
	MaxQueryLength         int     `mapstructure:"max_query_length"`
	RenderCharts           bool    `mapstructure:"render_charts"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type CacheConfig struct {
	Backend             string `mapstructure:"backend"`
	TTL                 int    `mapstructure:"ttl"` // milliseconds
	MaxEntries          int    `mapstructure:"max_entries"`
	KeyPrefix           string `mapstructure:"key_prefix"`
	VersionPollInterval int    `mapstructure:"version_poll_interval"` // milliseconds, 0 disables
}

// NotificationConfig holds the data-version change announcement settings.
type NotificationConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

type ObservabilityConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	TraceExporter  string  `mapstructure:"trace_exporter"` // jaeger or stdout
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
