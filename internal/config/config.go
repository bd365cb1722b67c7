// Package config holds the runtime configuration for the MCP broker.
// Values are resolved with precedence: positional connection specifier >
// CLI flag > environment variable > config file > default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mongodb-labs/mongodb-mcp-broker/internal/keychain"
)

// Transport names accepted by the --transport option.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Telemetry states.
const (
	TelemetryEnabled  = "enabled"
	TelemetryDisabled = "disabled"
)

// Logger sink names for the --loggers option.
const (
	LoggerStderr = "stderr"
	LoggerDisk   = "disk"
	LoggerMCP    = "mcp"
)

// Preview feature tags.
const (
	FeatureVectorSearch = "vectorSearch"
)

// Similarity function names for vector indexes.
const (
	SimilarityEuclidean  = "euclidean"
	SimilarityCosine     = "cosine"
	SimilarityDotProduct = "dotProduct"
)

// Config is the recognized option set. Field names match the camelCase CLI
// flags; env vars are MDB_MCP_<SNAKE_UPPER>.
type Config struct {
	ConnectionString string `yaml:"connectionString"`

	Transport string `yaml:"transport"`
	HTTPHost  string `yaml:"httpHost"`
	HTTPPort  int    `yaml:"httpPort"`

	IdleTimeoutMs         int `yaml:"idleTimeoutMs"`
	NotificationTimeoutMs int `yaml:"notificationTimeoutMs"`

	ReadOnly   bool `yaml:"readOnly"`
	IndexCheck bool `yaml:"indexCheck"`

	DisabledTools             []string `yaml:"disabledTools"`
	ConfirmationRequiredTools []string `yaml:"confirmationRequiredTools"`

	Telemetry string   `yaml:"telemetry"`
	Loggers   []string `yaml:"loggers"`
	LogPath   string   `yaml:"logPath"`

	MaxDocumentsPerQuery int   `yaml:"maxDocumentsPerQuery"`
	MaxBytesPerQuery     int64 `yaml:"maxBytesPerQuery"`

	VoyageAPIKey                   string `yaml:"voyageApiKey"`
	VectorSearchDimensions         int    `yaml:"vectorSearchDimensions"`
	VectorSearchSimilarityFunction string `yaml:"vectorSearchSimilarityFunction"`
	DisableEmbeddingsValidation    bool   `yaml:"disableEmbeddingsValidation"`

	PreviewFeatures []string `yaml:"previewFeatures"`

	AtlasClientID                        string `yaml:"apiClientId"`
	AtlasClientSecret                    string `yaml:"apiClientSecret"`
	AtlasTemporaryDatabaseUserLifetimeMs int    `yaml:"atlasTemporaryDatabaseUserLifetimeMs"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Transport:             TransportStdio,
		HTTPHost:              "127.0.0.1",
		HTTPPort:              3000,
		IdleTimeoutMs:         600_000,
		NotificationTimeoutMs: 540_000,
		ConfirmationRequiredTools: []string{
			"atlas-create-access-list",
			"atlas-create-db-user",
			"drop-database",
			"drop-collection",
			"delete-many",
			"drop-index",
		},
		Telemetry:                            TelemetryEnabled,
		Loggers:                              []string{LoggerDisk, LoggerMCP},
		MaxDocumentsPerQuery:                 100,
		MaxBytesPerQuery:                     16 * 1024 * 1024,
		VectorSearchDimensions:               1024,
		VectorSearchSimilarityFunction:       SimilarityCosine,
		AtlasTemporaryDatabaseUserLifetimeMs: int(4 * time.Hour / time.Millisecond),
	}
}

// ApplyEnv overlays MDB_MCP_* environment variables onto c.
func (c *Config) ApplyEnv() {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv("MDB_MCP_" + name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv("MDB_MCP_" + name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(name string, dst *int64) {
		if v, ok := os.LookupEnv("MDB_MCP_" + name); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := os.LookupEnv("MDB_MCP_" + name); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setList := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv("MDB_MCP_" + name); ok {
			*dst = SplitList(v)
		}
	}

	setString("CONNECTION_STRING", &c.ConnectionString)
	setString("TRANSPORT", &c.Transport)
	setString("HTTP_HOST", &c.HTTPHost)
	setInt("HTTP_PORT", &c.HTTPPort)
	setInt("IDLE_TIMEOUT_MS", &c.IdleTimeoutMs)
	setInt("NOTIFICATION_TIMEOUT_MS", &c.NotificationTimeoutMs)
	setBool("READ_ONLY", &c.ReadOnly)
	setBool("INDEX_CHECK", &c.IndexCheck)
	setList("DISABLED_TOOLS", &c.DisabledTools)
	setList("CONFIRMATION_REQUIRED_TOOLS", &c.ConfirmationRequiredTools)
	setString("TELEMETRY", &c.Telemetry)
	setList("LOGGERS", &c.Loggers)
	setString("LOG_PATH", &c.LogPath)
	setInt("MAX_DOCUMENTS_PER_QUERY", &c.MaxDocumentsPerQuery)
	setInt64("MAX_BYTES_PER_QUERY", &c.MaxBytesPerQuery)
	setString("VOYAGE_API_KEY", &c.VoyageAPIKey)
	setInt("VECTOR_SEARCH_DIMENSIONS", &c.VectorSearchDimensions)
	setString("VECTOR_SEARCH_SIMILARITY_FUNCTION", &c.VectorSearchSimilarityFunction)
	setBool("DISABLE_EMBEDDINGS_VALIDATION", &c.DisableEmbeddingsValidation)
	setList("PREVIEW_FEATURES", &c.PreviewFeatures)
	setString("API_CLIENT_ID", &c.AtlasClientID)
	setString("API_CLIENT_SECRET", &c.AtlasClientSecret)
	setInt("ATLAS_TEMPORARY_DATABASE_USER_LIFETIME_MS", &c.AtlasTemporaryDatabaseUserLifetimeMs)
}

// SplitList parses a comma-separated option value, trimming whitespace and
// dropping empty entries.
func SplitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks enum values and numeric bounds. All violations are
// collected into a single multi-line error so the operator sees everything
// at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Transport {
	case TransportStdio, TransportHTTP:
	case "sse":
		problems = append(problems, `transport "sse" is no longer supported; use "http"`)
	default:
		problems = append(problems, fmt.Sprintf("transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("httpPort must be in 1..65535, got %d", c.HTTPPort))
	}
	if c.IdleTimeoutMs < 0 {
		problems = append(problems, fmt.Sprintf("idleTimeoutMs must not be negative, got %d", c.IdleTimeoutMs))
	}
	if c.NotificationTimeoutMs < 0 {
		problems = append(problems, fmt.Sprintf("notificationTimeoutMs must not be negative, got %d", c.NotificationTimeoutMs))
	}

	switch c.Telemetry {
	case TelemetryEnabled, TelemetryDisabled:
	default:
		problems = append(problems, fmt.Sprintf("telemetry must be %q or %q, got %q", TelemetryEnabled, TelemetryDisabled, c.Telemetry))
	}

	if len(c.Loggers) == 0 {
		problems = append(problems, "loggers must not be empty")
	}
	seen := map[string]bool{}
	for _, l := range c.Loggers {
		switch l {
		case LoggerStderr, LoggerDisk, LoggerMCP:
		default:
			problems = append(problems, fmt.Sprintf("unknown logger %q (valid: stderr, disk, mcp)", l))
		}
		if seen[l] {
			problems = append(problems, fmt.Sprintf("duplicate logger %q", l))
		}
		seen[l] = true
	}

	switch c.VectorSearchSimilarityFunction {
	case SimilarityEuclidean, SimilarityCosine, SimilarityDotProduct:
	default:
		problems = append(problems, fmt.Sprintf("vectorSearchSimilarityFunction must be one of euclidean, cosine, dotProduct, got %q", c.VectorSearchSimilarityFunction))
	}

	switch c.VectorSearchDimensions {
	case 256, 512, 1024, 2048, 4096:
	default:
		problems = append(problems, fmt.Sprintf("vectorSearchDimensions must be one of 256, 512, 1024, 2048, 4096, got %d", c.VectorSearchDimensions))
	}

	for _, f := range c.PreviewFeatures {
		if f != FeatureVectorSearch {
			problems = append(problems, fmt.Sprintf("unknown preview feature %q", f))
		}
	}

	if c.FeatureEnabled(FeatureVectorSearch) && c.VoyageAPIKey == "" {
		problems = append(problems, "voyageApiKey is required when the vectorSearch preview feature is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// RegisterSecrets adds all secret-bearing options to the keychain.
func (c *Config) RegisterSecrets(kc *keychain.Keychain) {
	kc.Register(c.ConnectionString, keychain.KindURL)
	kc.Register(c.VoyageAPIKey, keychain.KindPassword)
	kc.Register(c.AtlasClientSecret, keychain.KindPassword)
}

// FeatureEnabled reports whether a preview feature tag is enabled.
func (c *Config) FeatureEnabled(tag string) bool {
	for _, f := range c.PreviewFeatures {
		if f == tag {
			return true
		}
	}
	return false
}

// ToolDisabled reports whether a tool is disabled by name, category, or
// operation type.
func (c *Config) ToolDisabled(name, category, operationType string) bool {
	for _, d := range c.DisabledTools {
		if d == name || d == category || d == operationType {
			return true
		}
	}
	return false
}

// ConfirmationRequired reports whether the named tool requires elicited
// confirmation before running.
func (c *Config) ConfirmationRequired(name string) bool {
	for _, t := range c.ConfirmationRequiredTools {
		if t == name {
			return true
		}
	}
	return false
}

// TelemetryEnabled reports whether telemetry emission is on.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry != TelemetryDisabled
}

// IdleTimeout returns the HTTP session idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// NotificationTimeout returns the disconnect notification grace period.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.NotificationTimeoutMs) * time.Millisecond
}

// AtlasTemporaryDatabaseUserLifetime returns how long generated database
// users live before Atlas deletes them.
func (c *Config) AtlasTemporaryDatabaseUserLifetime() time.Duration {
	return time.Duration(c.AtlasTemporaryDatabaseUserLifetimeMs) * time.Millisecond
}
