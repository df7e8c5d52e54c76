// Package config loads statesync configuration from YAML.
//
// A file is checked against the embedded CUE schema (schema.cue) before it
// is decoded, so typos and out-of-range values are reported with the
// offending path instead of silently falling back to defaults. Anything the
// file leaves out keeps the value from Default.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the complete configuration for the server and the client.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Client  Client  `yaml:"client"`
	Log     Log     `yaml:"log"`
}

// Server configures the HTTP sync endpoint.
type Server struct {
	Addr         string   `yaml:"addr"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// Storage selects and configures the server-side document backend.
type Storage struct {
	Backend  string   `yaml:"backend"`
	Path     string   `yaml:"path"` // sqlite database file
	Dir      string   `yaml:"dir"`  // file backend directory
	Compress bool     `yaml:"compress"`
	S3       S3       `yaml:"s3"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
}

// S3 configures the s3 backend. Endpoint is only needed for S3-compatible stores.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

// Redis configures the redis backend.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Postgres configures the postgres backend.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Client configures the sync orchestrator.
type Client struct {
	ServerURL string   `yaml:"serverUrl"`
	ClientID  string   `yaml:"clientId"`
	DataPath  string   `yaml:"dataPath"`
	Interval  Duration `yaml:"interval"`
	Timeout   Duration `yaml:"timeout"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Backend names accepted in storage.backend.
const (
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:         ":8787",
			MaxBodyBytes: 10 << 20,
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Storage: Storage{
			Backend: BackendSQLite,
			Path:    "statesync.db",
			Dir:     "statesync-data",
			S3:      S3{Region: "us-east-1", Prefix: "statesync/"},
			Redis:   Redis{Addr: "localhost:6379", Prefix: "statesync:"},
		},
		Client: Client{
			ServerURL: "http://localhost:8787",
			DataPath:  "statesync-client.db",
			Interval:  Duration(30 * time.Second),
			Timeout:   Duration(15 * time.Second),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the file at path over Default. An empty path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes YAML over Default.
func Parse(data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if raw != nil {
		if err := validateSchema(raw); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSchema unifies the raw document with #Config.
func validateSchema(raw any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Details: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}

// SchemaError reports a configuration file that does not match the schema.
type SchemaError struct {
	Details string
}

func (e *SchemaError) Error() string {
	return "invalid config: " + e.Details
}

// Validate checks constraints that span fields.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return errors.New("invalid config: storage.path is required for the sqlite backend")
		}
	case BackendFile:
		if c.Storage.Dir == "" {
			return errors.New("invalid config: storage.dir is required for the file backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("invalid config: storage.s3.bucket is required for the s3 backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("invalid config: storage.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("invalid config: storage.postgres.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Client.Interval <= 0 {
		return errors.New("invalid config: client.interval must be positive")
	}
	if c.Client.Timeout <= 0 {
		return errors.New("invalid config: client.timeout must be positive")
	}
	return nil
}

// SlogLevel maps log.level to a slog level. Unknown levels mean info.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
