// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package config loads cellhttp command line tool configuration from a YAML
// file, CELLHTTP_ environment variables and command line flags.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/cellstats"
	"github.com/hrissan/cellhttp/celltcp"
	"github.com/hrissan/cellhttp/safecast"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Client    ClientConfig    `mapstructure:"client"`
	Transport TransportConfig `mapstructure:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `mapstructure:"level"`
	// console or json
	Format string `mapstructure:"format"`
	// stdout, stderr or file paths
	Outputs  []string       `mapstructure:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation"`
	// console encoder with colors, also forced when stderr is a terminal
	Development bool `mapstructure:"development"`
}

// RotationConfig applies to file outputs only
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ClientConfig struct {
	// sizes accept humanized values like "4KiB"
	TxBuffer        string        `mapstructure:"tx_buffer"`
	RxBuffer        string        `mapstructure:"rx_buffer"`
	ReceiveQueueLen int           `mapstructure:"receive_queue_len"`
	MaxRequests     int           `mapstructure:"max_requests"`
	ReceiveTimeout  time.Duration `mapstructure:"receive_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`

	// parsed from TxBuffer and RxBuffer by validation
	TxBufferBytes int `mapstructure:"-"`
	RxBufferBytes int `mapstructure:"-"`
}

type TransportConfig struct {
	MaxConnections     int           `mapstructure:"max_connections"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ReadBuffer         string        `mapstructure:"read_buffer"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`

	ReadBufferBytes int `mapstructure:"-"`
}

type MetricsConfig struct {
	// empty disables the prometheus endpoint
	Listen string `mapstructure:"listen"`
}

// flag name -> config key, flags missing from the set passed to Load are skipped
var flagKeys = map[string]string{
	"log-level":         "log.level",
	"log-format":        "log.format",
	"tx-buffer":         "client.tx_buffer",
	"rx-buffer":         "client.rx_buffer",
	"receive-timeout":   "client.receive_timeout",
	"request-timeout":   "client.request_timeout",
	"dial-timeout":      "transport.dial_timeout",
	"max-connections":   "transport.max_connections",
	"insecure":          "transport.insecure_skip_verify",
	"metrics-listen":    "metrics.listen",
	"receive-queue-len": "client.receive_queue_len",
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/cellhttp.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Client: ClientConfig{
			TxBuffer:        "1KiB",
			RxBuffer:        "1460B",
			ReceiveQueueLen: 8,
			MaxRequests:     1,
			RequestTimeout:  30 * time.Second,
		},
		Transport: TransportConfig{
			MaxConnections: 6,
			DialTimeout:    30 * time.Second,
			PollInterval:   500 * time.Millisecond,
			ReadBuffer:     "1460B",
		},
	}
}

// Load reads configuration from path, or from cellhttp.yaml searched in the
// current directory, ./configs and ~/.cellhttp when path is empty. A missing
// searched file is not an error. Environment variables use prefix CELLHTTP_
// with '.' and '-' replaced by '_', for example CELLHTTP_CLIENT_TX_BUFFER=4KiB.
// Flags from flags (may be nil) that were set on the command line win.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CELLHTTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("client.tx_buffer", cfg.Client.TxBuffer)
	v.SetDefault("client.rx_buffer", cfg.Client.RxBuffer)
	v.SetDefault("client.receive_queue_len", cfg.Client.ReceiveQueueLen)
	v.SetDefault("client.max_requests", cfg.Client.MaxRequests)
	v.SetDefault("client.receive_timeout", cfg.Client.ReceiveTimeout)
	v.SetDefault("client.request_timeout", cfg.Client.RequestTimeout)
	v.SetDefault("transport.max_connections", cfg.Transport.MaxConnections)
	v.SetDefault("transport.dial_timeout", cfg.Transport.DialTimeout)
	v.SetDefault("transport.poll_interval", cfg.Transport.PollInterval)
	v.SetDefault("transport.read_buffer", cfg.Transport.ReadBuffer)
	v.SetDefault("transport.insecure_skip_verify", cfg.Transport.InsecureSkipVerify)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}

	if path == "" {
		path = os.Getenv("CELLHTTP_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cellhttp")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cellhttp"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad(path string, flags *pflag.FlagSet) *Config {
	cfg, err := Load(path, flags)
	if err != nil {
		panic(err)
	}
	return cfg
}

func parseSize(key string, value string) (int, error) {
	size, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	n, err := safecast.TryCast[int](size)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}

func (c *Config) validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	var err error
	if c.Client.TxBufferBytes, err = parseSize("client.tx_buffer", c.Client.TxBuffer); err != nil {
		return err
	}
	if c.Client.RxBufferBytes, err = parseSize("client.rx_buffer", c.Client.RxBuffer); err != nil {
		return err
	}
	if c.Transport.ReadBufferBytes, err = parseSize("transport.read_buffer", c.Transport.ReadBuffer); err != nil {
		return err
	}
	if c.Client.ReceiveQueueLen < 2 {
		return fmt.Errorf("client.receive_queue_len (%d) should be at least 2", c.Client.ReceiveQueueLen)
	}
	if c.Client.MaxRequests < 1 {
		return fmt.Errorf("client.max_requests (%d) should be at least 1", c.Client.MaxRequests)
	}
	if c.Client.ReceiveTimeout < 0 || c.Client.RequestTimeout < 0 {
		return fmt.Errorf("client timeouts should not be negative")
	}
	if c.Transport.MaxConnections < 1 {
		return fmt.Errorf("transport.max_connections (%d) should be at least 1", c.Transport.MaxConnections)
	}
	if c.Transport.DialTimeout < 0 {
		return fmt.Errorf("transport.dial_timeout (%v) should not be negative", c.Transport.DialTimeout)
	}
	if c.Transport.PollInterval < time.Millisecond {
		return fmt.Errorf("transport.poll_interval (%v) should be at least %v", c.Transport.PollInterval, time.Millisecond)
	}
	return nil
}

// TransportOptions returns validated celltcp options
func (c *Config) TransportOptions(stats cellstats.Stats, log *zap.Logger) (*celltcp.Options, error) {
	opts := celltcp.DefaultOptions()
	opts.Stats = stats
	opts.Logger = log
	opts.MaxConnections = c.Transport.MaxConnections
	opts.DialTimeout = c.Transport.DialTimeout
	opts.PollInterval = c.Transport.PollInterval
	opts.ReadBufferSize = c.Transport.ReadBufferBytes
	if c.Transport.InsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// ClientOptions returns validated client options over transport
func (c *Config) ClientOptions(transport cellconn.Transport, stats cellstats.Stats, log *zap.Logger) (*cellcore.Options, error) {
	opts := cellcore.DefaultOptions(transport)
	opts.Stats = stats
	opts.Logger = log
	opts.MaxRequests = c.Client.MaxRequests
	opts.ReceiveQueueLen = c.Client.ReceiveQueueLen
	opts.ReceiveTimeout = c.Client.ReceiveTimeout
	opts.RequestTimeout = c.Client.RequestTimeout
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
