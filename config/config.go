package config

import (
	"os"
	"strconv"
)

// Config is the ambient daemon configuration, generalized from the
// teacher's flat env-var struct to the NVR's wider surface: server,
// database, JWT, Relay and on-disk storage.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Relay    RelayConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
	Expiry string
}

// RelayConfig describes how to reach and supervise the embedded Relay
// subprocess (spec.md section 4.1/4.2).
type RelayConfig struct {
	Binary         string
	ManagementPort int
	Host           string // loopback host the Relay management API binds to
	PublicHost     string // host browsers use to reach Relay-served HLS/WebRTC
	HTTPPort       string
	RTSPPort       int // Relay's RTSP output listener, default 8554
	StartupTimeout string // e.g. "40s", parsed by callers
}

// StorageConfig points at the data root (spec.md section 6 CLI surface:
// "environment variable for data root") under which per-stream segment
// directories and the Timeline Engine's scratch manifests live.
type StorageConfig struct {
	DataRoot   string
	ScratchDir string
}

// LoadAmbient reads the ambient (non-stream) settings from the environment,
// exactly as the teacher's config.Load does, generalized with Relay and
// Storage sections. Stream definitions themselves live in the INI Config
// Store (see streamstore.go), loaded separately from the -c config file.
func LoadAmbient() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "nvr_core"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			Expiry: getEnv("JWT_EXPIRY", "24h"),
		},
		Relay: RelayConfig{
			Binary:         getEnv("RELAY_BINARY", "mediamtx"),
			ManagementPort: 9997,
			Host:           getEnv("RELAY_HOST", "127.0.0.1"),
			PublicHost:     getEnv("RELAY_PUBLIC_HOST", "127.0.0.1"),
			HTTPPort:       getEnv("RELAY_HTTP_PORT", "8888"),
			RTSPPort:       getEnvInt("RELAY_RTSP_PORT", 8554),
			StartupTimeout: getEnv("RELAY_STARTUP_TIMEOUT", "40s"),
		},
		Storage: StorageConfig{
			DataRoot:   getEnv("NVR_DATA_ROOT", "./data"),
			ScratchDir: getEnv("NVR_SCRATCH_DIR", "./data/.scratch"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
