package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server settings
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Room      RoomConfig
	Redis     RedisConfig
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port            string
	GinMode         string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// WebSocketConfig per-connection transport settings
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageSize  int64
}

// PingInterval is how often the server pings a peer; it stays below the
// pong timeout so a healthy peer never hits its read deadline.
func (c WebSocketConfig) PingInterval() time.Duration {
	return c.PongTimeout * 9 / 10
}

// CORSConfig allowed origins for the websocket upgrade, "*" allows all
type CORSConfig struct {
	AllowOrigins string
}

// Origins splits AllowOrigins into its entries
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RoomConfig room lifecycle settings
type RoomConfig struct {
	GracePeriod     time.Duration
	SnapshotOnJoin  bool
	MaxRoomIDLength int
}

// RedisConfig presence mirror; an empty Addr disables it
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	RosterTTL time.Duration
}

// Load reads settings from the environment, after loading .env if present
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] No .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			GinMode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:     getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 1024),
			SendBuffer:      getInt("WS_SEND_BUFFER", 256),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PongTimeout:     getDuration("WS_PONG_TIMEOUT", 60*time.Second),
			MaxMessageSize:  int64(getInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
		},
		Room: RoomConfig{
			GracePeriod:     getDuration("ROOM_GRACE_PERIOD", 0),
			SnapshotOnJoin:  getBool("ROOM_SNAPSHOT_ON_JOIN", false),
			MaxRoomIDLength: getInt("ROOM_ID_MAX_LENGTH", 64),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getInt("REDIS_DB", 0),
			RosterTTL: getDuration("REDIS_ROSTER_TTL", 10*time.Minute),
		},
	}
}

// Addr normalizes "8080" to ":8080"
func (c ServerConfig) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// ClientConfig defaults for the terminal client, overridable by flags
type ClientConfig struct {
	ServerHost   string
	RoomID       string
	DisplayName  string
	Reconnect    bool
	HistoryLimit int
}

// LoadClient reads client defaults from the environment
func LoadClient() *ClientConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] No .env file found, using environment variables")
	}

	return &ClientConfig{
		ServerHost:   getEnv("SERVER_HOST", "localhost:8080"),
		RoomID:       getEnv("ROOM_ID", ""),
		DisplayName:  getEnv("DISPLAY_NAME", os.Getenv("USER")),
		Reconnect:    getBool("CLIENT_RECONNECT", true),
		HistoryLimit: getInt("HISTORY_LIMIT", 500),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("[Config] Ignoring %s=%q: not an integer", key, value)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration accepts Go durations ("500ms", "2m") or plain seconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("[Config] Ignoring %s=%q: not a duration", key, value)
	}
	return defaultValue
}
