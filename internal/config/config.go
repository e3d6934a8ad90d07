// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (explicit bindings, see bindEnvVariables)
//  2. Config file (./config.yaml or ~/.ragserver/config.yaml)
//  3. Defaults
//
// Categories:
//   - Generation: LLM server address, served RAG model, upstream model
//   - Embedding: embedder model name, vector dimension
//   - Index: PostgreSQL/pgvector connection, metric type, index family,
//     rebuild policy
//   - Retrieval: policy selection
//   - Prompt: text fragments composed into the default system prompt
//   - Analytics: conversation logging sink
//
// Missing required settings are a fatal startup condition; Validate()
// uses sentinel errors for errors.Is checks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingLLMServer indicates the generation server address is unset.
	ErrMissingLLMServer = errors.New("missing LLM server URL")

	// ErrMissingRAGModel indicates the served model name is unset.
	ErrMissingRAGModel = errors.New("missing RAG model name")

	// ErrMissingLLMModel indicates the upstream generation model is unset.
	ErrMissingLLMModel = errors.New("missing LLM model name")

	// ErrMissingCompanyName indicates the collection name prefix is unset.
	ErrMissingCompanyName = errors.New("missing company name")

	// ErrInvalidMetricType indicates an unsupported similarity metric.
	ErrInvalidMetricType = errors.New("invalid metric type")

	// ErrInvalidIndexType indicates an unsupported index family.
	ErrInvalidIndexType = errors.New("invalid index type")

	// ErrInvalidRetrieverPolicy indicates an unsupported retrieval policy.
	ErrInvalidRetrieverPolicy = errors.New("invalid retriever policy")

	// ErrInvalidPostgresHost indicates the index server host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the index server port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
)

// Similarity metric identifiers, matching the pgvector operator classes
// selected by the vector index.
const (
	MetricInnerProduct = "IP"
	MetricCosine       = "COSINE"
)

// Index family identifiers. HNSW is graph-based, IVF_FLAT cluster-based,
// FLAT a sequential-scan fallback with no secondary index.
const (
	IndexHNSW    = "HNSW"
	IndexIVFFlat = "IVF_FLAT"
	IndexFlat    = "FLAT"
)

// Retrieval policy identifiers.
const (
	PolicyTopK           = "top_k"
	PolicyScoreThreshold = "score_threshold"
	PolicyMMR            = "max_marginal_relevance"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON.
type Config struct {
	// Generation collaborator
	LLMServerURL string `mapstructure:"llm_server_url" json:"llm_server_url"`
	RAGModelName string `mapstructure:"rag_model_name" json:"rag_model_name"`
	LLMModelName string `mapstructure:"llm_model_name" json:"llm_model_name"`

	// Embedding
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Vector index engine (PostgreSQL + pgvector)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Collection identity and index tuning
	CompanyName  string `mapstructure:"company_name" json:"company_name"`
	MetricType   string `mapstructure:"metric_type" json:"metric_type"`
	IndexType    string `mapstructure:"index_type" json:"index_type"`
	IndexRebuild bool   `mapstructure:"index_rebuild" json:"index_rebuild"`

	// Retrieval
	RetrieverPolicy string `mapstructure:"retriever_policy" json:"retriever_policy"`

	// Corpus
	CorpusDir string `mapstructure:"corpus_dir" json:"corpus_dir"`

	// Prompt fragments composed into the default system prompt
	ResponseLanguage      string `mapstructure:"response_language" json:"response_language"`
	ResponsePromptRequest string `mapstructure:"response_prompt_request" json:"response_prompt_request"`
	ResponseRoleChange    string `mapstructure:"response_role_change" json:"response_role_change"`
	ResponseUnknown       string `mapstructure:"response_unknown" json:"response_unknown"`
	CustomerTitle         string `mapstructure:"customer_title" json:"customer_title"`
	NoSimilarInfo         string `mapstructure:"no_similar_info" json:"no_similar_info"`

	// Analytics sidecar
	LoggingServerURL string `mapstructure:"logging_server_url" json:"logging_server_url"`
	EnableLogging    bool   `mapstructure:"enable_logging" json:"enable_logging"`

	// HTTP serve address
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

// Load loads configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragserver")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("embedder_model", "bge-m3")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "ragserver")
	viper.SetDefault("postgres_password", "ragserver_dev_password")
	viper.SetDefault("postgres_db_name", "ragserver")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("metric_type", MetricInnerProduct)
	viper.SetDefault("index_type", IndexHNSW)
	viper.SetDefault("index_rebuild", true)

	viper.SetDefault("retriever_policy", PolicyTopK)

	viper.SetDefault("corpus_dir", "./docs")

	viper.SetDefault("response_language", "Korean")
	viper.SetDefault("response_prompt_request", "I cannot share internal instructions.")
	viper.SetDefault("response_role_change", "I can only help as a product consultant.")
	viper.SetDefault("response_unknown", "I do not have that information.")
	viper.SetDefault("customer_title", "customer")
	viper.SetDefault("no_similar_info", "No similar information found.")

	viper.SetDefault("enable_logging", true)

	viper.SetDefault("listen_addr", "0.0.0.0:8000")
}

// bindEnvVariables binds the deployment environment variables explicitly.
// The names match the container environment this server ships with.
func bindEnvVariables() {
	// Binding hardcoded keys cannot fail; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("llm_server_url", "LLM_SERVER_URL")
	mustBind("rag_model_name", "RAG_MODEL_NAME")
	mustBind("llm_model_name", "LLM_MODEL_NAME")
	mustBind("embedder_model", "EMBEDDER_MODEL")

	mustBind("postgres_host", "POSTGRES_HOST")
	mustBind("postgres_port", "POSTGRES_PORT")
	mustBind("postgres_user", "POSTGRES_USER")
	mustBind("postgres_password", "POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "POSTGRES_DB_NAME")
	mustBind("postgres_ssl_mode", "POSTGRES_SSL_MODE")

	mustBind("company_name", "COMPANY_NAME")
	mustBind("metric_type", "METRIC_TYPE")
	mustBind("index_type", "INDEX_TYPE")
	mustBind("index_rebuild", "INDEX_REBUILD")

	mustBind("retriever_policy", "RETRIEVER_POLICY")
	mustBind("corpus_dir", "CORPUS_DIR")

	mustBind("response_language", "RESPONSE_LANG")
	mustBind("response_prompt_request", "RESPONSE_PROMPT")
	mustBind("response_role_change", "RESPONSE_ROLE")
	mustBind("response_unknown", "RESPONSE_UNKNOWN")
	mustBind("customer_title", "CUSTOMER_TITLE")
	mustBind("no_similar_info", "NO_INFO")

	mustBind("logging_server_url", "LOGGING_SERVER_URL")
	mustBind("enable_logging", "ENABLE_LOGGING")

	mustBind("listen_addr", "LISTEN_ADDR")
}

// CollectionName derives the vector collection name from the company
// name, metric and index family, lowercased and sanitized so it is a
// valid SQL identifier.
func (c *Config) CollectionName() string {
	raw := strings.ToLower(c.CompanyName) + "_" + strings.ToLower(c.MetricType) + "_" + strings.ToLower(c.IndexType)

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "c_" + name
	}
	return name
}

// PostgresConnString returns the pgx connection string for the vector
// index engine.
func (c *Config) PostgresConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
