package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Signal backends the gateway can relay channel traffic through
const (
	BackendRedis  = "redis"
	BackendMQTT   = "mqtt"
	BackendMemory = "memory"
)

// DefaultSTUN is used when ICE_SERVERS is not set
const DefaultSTUN = "stun:stun.l.google.com:19302"

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	SignalBackend  string
	Redis          RedisConfig
	MQTT           MQTTConfig
	ICE            ICEConfig
	Peer           PeerConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MQTTConfig struct {
	Broker   string
	ClientID string
}

// ICEConfig lists the STUN/TURN servers handed to peer connections.
// TURN credentials apply to every turn: URL.
type ICEConfig struct {
	URLs           []string
	TURNUsername   string
	TURNCredential string
}

// PeerConfig configures a call participant (cmd/callpeer)
type PeerConfig struct {
	SignalURL   string
	RefreshRate int
	VideoWidth  int
	VideoHeight int
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	refresh, err := getEnvInt("REFRESH_RATE", 60)
	if err != nil {
		return nil, err
	}
	width, err := getEnvInt("VIDEO_WIDTH", 640)
	if err != nil {
		return nil, err
	}
	height, err := getEnvInt("VIDEO_HEIGHT", 480)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		SignalBackend:  strings.ToLower(getEnv("SIGNAL_BACKEND", BackendRedis)),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "gradecall-signaling"),
		},
		ICE: ICEConfig{
			URLs:           splitList(getEnv("ICE_SERVERS", DefaultSTUN)),
			TURNUsername:   getEnv("TURN_USERNAME", ""),
			TURNCredential: getEnv("TURN_CREDENTIAL", ""),
		},
		Peer: PeerConfig{
			SignalURL:   getEnv("SIGNAL_URL", "http://localhost:8080"),
			RefreshRate: refresh,
			VideoWidth:  width,
			VideoHeight: height,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late
func (c *Config) Validate() error {
	switch c.SignalBackend {
	case BackendRedis, BackendMQTT, BackendMemory:
	default:
		return fmt.Errorf("unknown SIGNAL_BACKEND %q", c.SignalBackend)
	}

	hasSTUN := false
	for _, u := range c.ICE.URLs {
		if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "stuns:") {
			hasSTUN = true
			break
		}
	}
	if !hasSTUN {
		return errors.New("ICE_SERVERS must include at least one stun: server")
	}

	if c.Peer.RefreshRate <= 0 {
		return fmt.Errorf("invalid REFRESH_RATE: %d", c.Peer.RefreshRate)
	}
	if c.Peer.VideoWidth <= 0 || c.Peer.VideoHeight <= 0 ||
		c.Peer.VideoWidth%2 != 0 || c.Peer.VideoHeight%2 != 0 {
		return fmt.Errorf("invalid video size %dx%d (must be positive and even)", c.Peer.VideoWidth, c.Peer.VideoHeight)
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
