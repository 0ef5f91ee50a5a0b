package main

import (
	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/handlers"
	"github.com/mossy-p/gradecall/internal/redis"
	"github.com/mossy-p/gradecall/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	setupLogging(cfg)

	// Connect to Redis
	if err := redis.Connect(cfg.Redis); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logrus.Info("Redis connection established")

	bus, closeBus, err := openBus(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open signal backend")
	}
	defer closeBus()

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(cfg, bus)

	// Start server
	logrus.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"backend": cfg.SignalBackend,
	}).Info("Starting call signaling server")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Warn("Unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// openBus selects the broker that carries channel traffic between gateway
// instances
func openBus(cfg *config.Config) (signaling.Transport, func(), error) {
	switch cfg.SignalBackend {
	case config.BackendMQTT:
		t, err := signaling.NewMQTTTransport(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	case config.BackendMemory:
		t := signaling.NewMemoryTransport()
		return t, func() { _ = t.Close() }, nil
	default:
		return signaling.NewRedisTransport(redis.GetClient()), func() {}, nil
	}
}
