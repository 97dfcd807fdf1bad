package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

var (
	ErrInvalidBufferConfig        = errors.New("buffered amount low threshold must be less than max buffered amount")
	ErrInvalidChunkSize           = errors.New("chunk size must be greater than 0")
	ErrInvalidTimeout             = errors.New("timeouts must be greater than 0")
	ErrInvalidRetries             = errors.New("max retries must not be negative")
	ErrNoICEServers               = errors.New("at least one STUN server must be configured")
	ErrInvalidBrokerURL           = errors.New("relay broker URL must be an absolute http(s) URL")
	ErrInvalidCompression         = errors.New("compression must be \"none\" or \"lz4\"")
	ErrInvalidFirebaseConfig      = errors.New("Firebase credentials path must be set")
	ErrInvalidFirebaseProjectID   = errors.New("Firebase project ID must be set")
	ErrInvalidFirebaseDatabaseURL = errors.New("Firebase database URL must be set")
	ErrInvalidHistoryPath         = errors.New("history path must be set when history is enabled")
)

const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
)

// Config holds all application configuration
type Config struct {
	WebRTC   WebRTCConfig   `mapstructure:"webrtc"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
}

// WebRTCConfig holds direct-mode configuration
type WebRTCConfig struct {
	ICEServers                 []string      `mapstructure:"ice_servers"`
	ICEGatherTimeout           time.Duration `mapstructure:"ice_gather_timeout"`
	ConnectTimeout             time.Duration `mapstructure:"connect_timeout"`
	BufferedAmountLowThreshold uint64        `mapstructure:"buffered_amount_low_threshold"`
	MaxBufferedAmount          uint64        `mapstructure:"max_buffered_amount"`
	ChunkSize                  int           `mapstructure:"chunk_size"`
	RequestTimeout             time.Duration `mapstructure:"request_timeout"` // 0 disables re-requests
	MaxRetries                 int           `mapstructure:"max_retries"`
}

// RelayConfig holds relay-mode configuration
type RelayConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// TransferConfig holds protocol options shared by both modes
type TransferConfig struct {
	VerifyHashes bool   `mapstructure:"verify_hashes"`
	Compression  string `mapstructure:"compression"`
}

// FirebaseConfig holds the optional answer mailbox configuration
type FirebaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ProjectID       string        `mapstructure:"project_id"`
	DatabaseURL     string        `mapstructure:"database_url"`
	CredentialsPath string        `mapstructure:"credentials_path"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// HistoryConfig holds the transfer history store configuration
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		WebRTC: WebRTCConfig{
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			ICEGatherTimeout:           10 * time.Second,
			ConnectTimeout:             60 * time.Second,
			BufferedAmountLowThreshold: 512 * 1024,  // 512 KB
			MaxBufferedAmount:          1024 * 1024, // 1 MB
			ChunkSize:                  16 * 1024,
			RequestTimeout:             0,
			MaxRetries:                 0,
		},
		Relay: RelayConfig{
			BrokerURL:      "https://ntfy.sh",
			TopicPrefix:    "packshare",
			ChunkSize:      2 * 1024, // keeps base64 + envelope under broker message limits
			PublishTimeout: 15 * time.Second,
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
		},
		Transfer: TransferConfig{
			VerifyHashes: true,
			Compression:  CompressionNone,
		},
		Firebase: FirebaseConfig{
			PollInterval: 2 * time.Second,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults overlaid with whatever v holds
// (config file, PACKSHARE_* environment, bound flags)
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	RegisterDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegisterDefaults makes every key known to v so environment overrides apply
func RegisterDefaults(v *viper.Viper, cfg *Config) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("webrtc.ice_servers", cfg.WebRTC.ICEServers)
	v.SetDefault("webrtc.ice_gather_timeout", cfg.WebRTC.ICEGatherTimeout)
	v.SetDefault("webrtc.connect_timeout", cfg.WebRTC.ConnectTimeout)
	v.SetDefault("webrtc.buffered_amount_low_threshold", cfg.WebRTC.BufferedAmountLowThreshold)
	v.SetDefault("webrtc.max_buffered_amount", cfg.WebRTC.MaxBufferedAmount)
	v.SetDefault("webrtc.chunk_size", cfg.WebRTC.ChunkSize)
	v.SetDefault("webrtc.request_timeout", cfg.WebRTC.RequestTimeout)
	v.SetDefault("webrtc.max_retries", cfg.WebRTC.MaxRetries)

	v.SetDefault("relay.broker_url", cfg.Relay.BrokerURL)
	v.SetDefault("relay.topic_prefix", cfg.Relay.TopicPrefix)
	v.SetDefault("relay.chunk_size", cfg.Relay.ChunkSize)
	v.SetDefault("relay.publish_timeout", cfg.Relay.PublishTimeout)
	v.SetDefault("relay.request_timeout", cfg.Relay.RequestTimeout)
	v.SetDefault("relay.max_retries", cfg.Relay.MaxRetries)

	v.SetDefault("transfer.verify_hashes", cfg.Transfer.VerifyHashes)
	v.SetDefault("transfer.compression", cfg.Transfer.Compression)

	v.SetDefault("firebase.enabled", cfg.Firebase.Enabled)
	v.SetDefault("firebase.project_id", cfg.Firebase.ProjectID)
	v.SetDefault("firebase.database_url", cfg.Firebase.DatabaseURL)
	v.SetDefault("firebase.credentials_path", cfg.Firebase.CredentialsPath)
	v.SetDefault("firebase.poll_interval", cfg.Firebase.PollInterval)

	v.SetDefault("history.enabled", cfg.History.Enabled)
	v.SetDefault("history.path", cfg.History.Path)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", cfg.Log.JSON)
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if len(c.WebRTC.ICEServers) == 0 {
		return ErrNoICEServers
	}
	if c.WebRTC.BufferedAmountLowThreshold >= c.WebRTC.MaxBufferedAmount {
		return ErrInvalidBufferConfig
	}
	if c.WebRTC.ChunkSize <= 0 || c.Relay.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.WebRTC.ICEGatherTimeout <= 0 || c.WebRTC.ConnectTimeout <= 0 || c.Relay.PublishTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.WebRTC.RequestTimeout < 0 || c.Relay.RequestTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.WebRTC.MaxRetries < 0 || c.Relay.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if u, err := url.Parse(c.Relay.BrokerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidBrokerURL
	}
	if c.Transfer.Compression != CompressionNone && c.Transfer.Compression != CompressionLZ4 {
		return ErrInvalidCompression
	}
	if c.Firebase.Enabled {
		if c.Firebase.CredentialsPath == "" {
			return ErrInvalidFirebaseConfig
		}
		if c.Firebase.ProjectID == "" {
			return ErrInvalidFirebaseProjectID
		}
		if c.Firebase.DatabaseURL == "" {
			return ErrInvalidFirebaseDatabaseURL
		}
	}
	if c.History.Enabled && c.History.Path == "" {
		return ErrInvalidHistoryPath
	}
	return nil
}

// ICEServerList converts the configured STUN URLs for pion
func (w WebRTCConfig) ICEServerList() []webrtc.ICEServer {
	if len(w.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: append([]string(nil), w.ICEServers...)}}
}
