package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env    string
	Debug  bool
	Server ServerConfig
	Client ClientConfig
}

type ServerConfig struct {
	Addr        string
	RedisURL    string
	DatabaseURL string
	RoomTTL     time.Duration
	NodeID      int64
	Advertise   bool
}

type ClientConfig struct {
	ServerURL         string
	Discover          bool
	CacheDriver       string
	CachePath         string
	PeerName          string
	ICEServers        []string
	HeartbeatInterval time.Duration
	LivenessInterval  time.Duration
	AutosaveInterval  time.Duration
	ConnectTimeout    time.Duration
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env (if present) and the environment. Flags registered by the commands are
// applied on top by the caller.
func Load() (Config, error) {
	_ = godotenv.Load()

	heartbeat, err := getDuration("MENUROOM_HEARTBEAT_INTERVAL", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	liveness, err := getDuration("MENUROOM_LIVENESS_INTERVAL", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	autosave, err := getDuration("MENUROOM_AUTOSAVE_INTERVAL", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	connectTimeout, err := getDuration("MENUROOM_CONNECT_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	ttl, err := getDuration("MENUROOM_ROOM_TTL", 3*heartbeat)
	if err != nil {
		return Config{}, err
	}
	nodeID, err := getInt("MENUROOM_NODE_ID", 1)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:   getEnv("MENUROOM_ENV", "development"),
		Debug: getEnv("MENUROOM_DEBUG", "") == "true",
		Server: ServerConfig{
			Addr:        getEnv("MENUROOM_ADDR", "localhost:8080"),
			RedisURL:    os.Getenv("MENUROOM_REDIS_URL"),
			DatabaseURL: os.Getenv("MENUROOM_DATABASE_URL"),
			RoomTTL:     ttl,
			NodeID:      nodeID,
			Advertise:   getEnv("MENUROOM_DISCOVERY", "false") == "true",
		},
		Client: ClientConfig{
			ServerURL:         getEnv("MENUROOM_SERVER_URL", "http://localhost:8080"),
			Discover:          getEnv("MENUROOM_DISCOVERY", "false") == "true",
			CacheDriver:       getEnv("MENUROOM_CACHE_DRIVER", "sqlite"),
			CachePath:         getEnv("MENUROOM_CACHE_PATH", "menuroom.sqlite3"),
			PeerName:          getEnv("MENUROOM_PEER_NAME", ""),
			ICEServers:        splitList(os.Getenv("MENUROOM_ICE_SERVERS")),
			HeartbeatInterval: heartbeat,
			LivenessInterval:  liveness,
			AutosaveInterval:  autosave,
			ConnectTimeout:    connectTimeout,
		},
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Client.CacheDriver {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("MENUROOM_CACHE_DRIVER must be sqlite or bolt, got %q", c.Client.CacheDriver)
	}
	if c.Client.HeartbeatInterval <= 0 || c.Client.LivenessInterval <= 0 || c.Client.AutosaveInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	if c.Server.RoomTTL < c.Client.HeartbeatInterval {
		return fmt.Errorf("MENUROOM_ROOM_TTL (%s) must be at least the heartbeat interval (%s)", c.Server.RoomTTL, c.Client.HeartbeatInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
