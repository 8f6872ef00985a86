package core

import (
	"pastebin/internal/container"
	"pastebin/internal/pasteid"
	"pastebin/internal/storage"
)

const (
	DefaultDataDir              = "./upload"
	DefaultBaseURL              = "http://localhost:8000"
	DefaultMaxUploadSize        = 128 << 20
	DefaultMaxConcurrentUploads = 256
)

// Config is built once at startup and handed to NewServer. It is not
// modified afterwards.
type Config struct {
	// DataDir is the directory holding one file per paste.
	DataDir string
	// StagingDir receives uploads in progress. Defaults to DataDir with a
	// ".staging" suffix so it never shows up in the storage statistics.
	StagingDir string
	// BaseURL is the externally visible address used in links.
	BaseURL string
	// IDLength is the number of characters in generated identifiers.
	IDLength int
	// MaxUploadSize caps the size of a single upload in bytes.
	MaxUploadSize int64
	// MaxConcurrentUploads caps simultaneous upload requests.
	MaxConcurrentUploads int
	// Secret seals encrypted uploads. Encrypted uploads are disabled when
	// it is empty.
	Secret container.Secret
	// Engine overrides the local filesystem storage.
	Engine storage.StorageEngine
}

type ConfigOption func(*Config)

func WithDataDir(dataDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataDir = dataDir
	}
}

func WithStagingDir(stagingDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.StagingDir = stagingDir
	}
}

func WithBaseURL(baseURL string) ConfigOption {
	return func(cfg *Config) {
		cfg.BaseURL = baseURL
	}
}

func WithIDLength(length int) ConfigOption {
	return func(cfg *Config) {
		cfg.IDLength = length
	}
}

func WithMaxUploadSize(size int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadSize = size
	}
}

func WithMaxConcurrentUploads(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxConcurrentUploads = n
	}
}

func WithSecret(secret container.Secret) ConfigOption {
	return func(cfg *Config) {
		cfg.Secret = secret
	}
}

func WithStorageEngine(engine storage.StorageEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Engine = engine
	}
}

// NewConfig returns the default configuration with opts applied.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		DataDir:              DefaultDataDir,
		BaseURL:              DefaultBaseURL,
		IDLength:             pasteid.DefaultLength,
		MaxUploadSize:        DefaultMaxUploadSize,
		MaxConcurrentUploads: DefaultMaxConcurrentUploads,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
