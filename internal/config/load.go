package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Warning is a non-fatal message produced while loading configuration, such
// as a deprecated option being used.
type Warning string

// Load resolves the configuration from CLI arguments, the environment, and
// an optional YAML config file. Precedence, highest first: positional
// connection specifier, CLI flag, environment variable, config file,
// default.
func Load(args []string) (*Config, []Warning, error) {
	fs, flagCfg, configPath := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, err
		}
		return nil, nil, decorateFlagError(fs, err)
	}

	cfg := Default()

	if *configPath != "" {
		if err := loadFile(cfg, *configPath); err != nil {
			return nil, nil, err
		}
	}

	cfg.ApplyEnv()

	var warnings []Warning
	overlayFlags(cfg, fs, flagCfg)
	if fs.Changed("connectionString") {
		warnings = append(warnings, "--connectionString is deprecated; pass the connection string as a positional argument instead")
	}

	if rest := fs.Args(); len(rest) > 0 {
		if len(rest) > 1 {
			return nil, nil, fmt.Errorf("expected at most one positional argument (the connection string), got %d", len(rest))
		}
		cfg.ConnectionString = rest[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, warnings, nil
}

// newFlagSet declares every recognized option as a camelCase flag. The
// returned Config receives flag values; only flags the user actually set are
// copied onto the final configuration.
func newFlagSet() (*flag.FlagSet, *Config, *string) {
	fs := flag.NewFlagSet("mongodb-mcp", flag.ContinueOnError)
	fs.SortFlags = false

	c := &Config{}
	def := Default()

	configPath := fs.String("config", "", "Path to a YAML config file")

	fs.StringVar(&c.ConnectionString, "connectionString", "", "MongoDB connection string (deprecated, use the positional argument)")
	fs.StringVar(&c.Transport, "transport", def.Transport, `Transport: "stdio" or "http"`)
	fs.StringVar(&c.HTTPHost, "httpHost", def.HTTPHost, "Bind host for the HTTP transport")
	fs.IntVar(&c.HTTPPort, "httpPort", def.HTTPPort, "Bind port for the HTTP transport")
	fs.IntVar(&c.IdleTimeoutMs, "idleTimeoutMs", def.IdleTimeoutMs, "HTTP session idle timeout in milliseconds")
	fs.IntVar(&c.NotificationTimeoutMs, "notificationTimeoutMs", def.NotificationTimeoutMs, "Disconnect notification grace period in milliseconds")
	fs.BoolVar(&c.ReadOnly, "readOnly", false, "Reject tools that write to the database")
	fs.BoolVar(&c.IndexCheck, "indexCheck", false, "Reject unindexed queries")
	fs.StringSliceVar(&c.DisabledTools, "disabledTools", nil, "Tools, categories, or operation types to disable")
	fs.StringSliceVar(&c.ConfirmationRequiredTools, "confirmationRequiredTools", def.ConfirmationRequiredTools, "Tools that require user confirmation")
	fs.StringVar(&c.Telemetry, "telemetry", def.Telemetry, `Telemetry: "enabled" or "disabled"`)
	fs.StringSliceVar(&c.Loggers, "loggers", def.Loggers, "Log sinks: stderr, disk, mcp")
	fs.StringVar(&c.LogPath, "logPath", "", "Path of the disk log file")
	fs.IntVar(&c.MaxDocumentsPerQuery, "maxDocumentsPerQuery", def.MaxDocumentsPerQuery, "Document cap per query result")
	fs.Int64Var(&c.MaxBytesPerQuery, "maxBytesPerQuery", def.MaxBytesPerQuery, "Byte cap per query result")
	fs.StringVar(&c.VoyageAPIKey, "voyageApiKey", "", "Voyage AI API key for vector search embeddings")
	fs.IntVar(&c.VectorSearchDimensions, "vectorSearchDimensions", def.VectorSearchDimensions, "Embedding dimensions")
	fs.StringVar(&c.VectorSearchSimilarityFunction, "vectorSearchSimilarityFunction", def.VectorSearchSimilarityFunction, "Similarity function: euclidean, cosine, dotProduct")
	fs.BoolVar(&c.DisableEmbeddingsValidation, "disableEmbeddingsValidation", false, "Skip embedding validation on insert")
	fs.StringSliceVar(&c.PreviewFeatures, "previewFeatures", nil, "Preview features to enable")
	fs.StringVar(&c.AtlasClientID, "apiClientId", "", "Atlas service account client ID")
	fs.StringVar(&c.AtlasClientSecret, "apiClientSecret", "", "Atlas service account client secret")
	fs.IntVar(&c.AtlasTemporaryDatabaseUserLifetimeMs, "atlasTemporaryDatabaseUserLifetimeMs", def.AtlasTemporaryDatabaseUserLifetimeMs, "Lifetime of generated Atlas database users in milliseconds")

	return fs, c, configPath
}

// overlayFlags copies explicitly set flag values onto cfg.
func overlayFlags(cfg *Config, fs *flag.FlagSet, flagCfg *Config) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}

	set("connectionString", func() { cfg.ConnectionString = flagCfg.ConnectionString })
	set("transport", func() { cfg.Transport = flagCfg.Transport })
	set("httpHost", func() { cfg.HTTPHost = flagCfg.HTTPHost })
	set("httpPort", func() { cfg.HTTPPort = flagCfg.HTTPPort })
	set("idleTimeoutMs", func() { cfg.IdleTimeoutMs = flagCfg.IdleTimeoutMs })
	set("notificationTimeoutMs", func() { cfg.NotificationTimeoutMs = flagCfg.NotificationTimeoutMs })
	set("readOnly", func() { cfg.ReadOnly = flagCfg.ReadOnly })
	set("indexCheck", func() { cfg.IndexCheck = flagCfg.IndexCheck })
	set("disabledTools", func() { cfg.DisabledTools = flagCfg.DisabledTools })
	set("confirmationRequiredTools", func() { cfg.ConfirmationRequiredTools = flagCfg.ConfirmationRequiredTools })
	set("telemetry", func() { cfg.Telemetry = flagCfg.Telemetry })
	set("loggers", func() { cfg.Loggers = flagCfg.Loggers })
	set("logPath", func() { cfg.LogPath = flagCfg.LogPath })
	set("maxDocumentsPerQuery", func() { cfg.MaxDocumentsPerQuery = flagCfg.MaxDocumentsPerQuery })
	set("maxBytesPerQuery", func() { cfg.MaxBytesPerQuery = flagCfg.MaxBytesPerQuery })
	set("voyageApiKey", func() { cfg.VoyageAPIKey = flagCfg.VoyageAPIKey })
	set("vectorSearchDimensions", func() { cfg.VectorSearchDimensions = flagCfg.VectorSearchDimensions })
	set("vectorSearchSimilarityFunction", func() { cfg.VectorSearchSimilarityFunction = flagCfg.VectorSearchSimilarityFunction })
	set("disableEmbeddingsValidation", func() { cfg.DisableEmbeddingsValidation = flagCfg.DisableEmbeddingsValidation })
	set("previewFeatures", func() { cfg.PreviewFeatures = flagCfg.PreviewFeatures })
	set("apiClientId", func() { cfg.AtlasClientID = flagCfg.AtlasClientID })
	set("apiClientSecret", func() { cfg.AtlasClientSecret = flagCfg.AtlasClientSecret })
	set("atlasTemporaryDatabaseUserLifetimeMs", func() { cfg.AtlasTemporaryDatabaseUserLifetimeMs = flagCfg.AtlasTemporaryDatabaseUserLifetimeMs })
}

// loadFile overlays a YAML config file onto cfg. Unknown keys are rejected
// so typos in the file fail loudly.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// decorateFlagError appends a did-you-mean suggestion to unknown-flag errors
// when a recognized flag is within edit distance 2.
func decorateFlagError(fs *flag.FlagSet, err error) error {
	msg := err.Error()
	name, ok := strings.CutPrefix(msg, "unknown flag: --")
	if !ok {
		return err
	}

	best, bestDist := "", 3
	fs.VisitAll(func(f *flag.Flag) {
		if d := editDistance(name, f.Name); d < bestDist {
			best, bestDist = f.Name, d
		}
	})
	if best == "" {
		return err
	}
	return fmt.Errorf("unknown flag: --%s (did you mean --%s?)", name, best)
}

// editDistance is the Levenshtein distance between two flag names.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
