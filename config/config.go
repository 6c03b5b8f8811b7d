package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultScanIntervalMinutes = 60
	MinScanIntervalMinutes     = 15
	MaxScanIntervalMinutes     = 1440
)

type Config struct {
	DatabasePath        string
	ServerAddress       string
	JWTSecret           string
	PortalUsername      string
	PortalPassword      string
	ScanIntervalMinutes int
	MQTTBroker          string
	MQTTClientID        string
	MQTTTopicPrefix     string
	ReportDir           string
}

func Load() *Config {
	// Optional .env for local development; real deployments use the
	// process environment.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env file")
	}

	return &Config{
		DatabasePath:        getEnv("DATABASE_PATH", "./minol-monitor.db"),
		ServerAddress:       getEnv("SERVER_ADDRESS", ":8082"),
		JWTSecret:           getEnv("JWT_SECRET", "minol-monitor-secret-change-in-production"),
		PortalUsername:      getEnv("MINOL_USERNAME", ""),
		PortalPassword:      getEnv("MINOL_PASSWORD", ""),
		ScanIntervalMinutes: ClampScanInterval(getEnvInt("SCAN_INTERVAL_MINUTES", DefaultScanIntervalMinutes)),
		MQTTBroker:          getEnv("MQTT_BROKER", ""),
		MQTTClientID:        getEnv("MQTT_CLIENT_ID", "minol-monitor"),
		MQTTTopicPrefix:     getEnv("MQTT_TOPIC_PREFIX", "minol"),
		ReportDir:           getEnv("REPORT_DIR", "./reports"),
	}
}

// ClampScanInterval bounds the portal poll interval to whole minutes
// between 15 and 1440.
func ClampScanInterval(minutes int) int {
	if minutes < MinScanIntervalMinutes {
		return MinScanIntervalMinutes
	}
	if minutes > MaxScanIntervalMinutes {
		return MaxScanIntervalMinutes
	}
	return minutes
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("WARNING: Invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}
