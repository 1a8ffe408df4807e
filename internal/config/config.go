package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chatclient/internal/logger"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
// Уже заданные переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Errorf("config: ошибка чтения %s: %v", path, err)
			}
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

// ReconnectConfig: политика переподключения канала.
type ReconnectConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// PendingConfig: оптимистичные (ещё не подтверждённые сервером) сообщения.
type PendingConfig struct {
	FallbackTimeout time.Duration
	Keep            int
}

// WSConfig: параметры транспорта WebSocket.
type WSConfig struct {
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	MaxMessageSize    int64
	SendBufferSize    int
	HeartbeatInterval time.Duration
}

// MirrorConfig: публикация изменений хранилища в Redis. Пустой URL: зеркало отключено.
type MirrorConfig struct {
	RedisURL string
	Channel  string
}

// Config содержит настройки клиента.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Канал
	Endpoint      string
	UserID        string
	Subscriptions []string

	// REST API для начальной загрузки чатов и сообщений. Пустой: загрузка отключена.
	APIURL string

	Reconnect ReconnectConfig
	Pending   PendingConfig
	WS        WSConfig

	// Локальный inspector (HTTP). Пустой адрес: не запускается.
	InspectAddr        string
	CORSAllowedOrigins string

	Mirror MirrorConfig

	DebugLogSize int
	LogLevel     string
}

// yamlConfig: промежуточная структура для парсинга YAML.
type yamlConfig struct {
	Endpoint             string   `yaml:"endpoint"`
	UserID               string   `yaml:"user_id"`
	Subscriptions        []string `yaml:"subscriptions"`
	APIURL               string   `yaml:"api_url"`
	ReconnectMaxAttempts int      `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelayMS int      `yaml:"reconnect_base_delay_ms"`
	PendingFallbackMS    int      `yaml:"pending_fallback_ms"`
	PendingKeep          int      `yaml:"pending_keep"`
	WSDialTimeout        int      `yaml:"ws_dial_timeout"`
	WSWriteTimeout       int      `yaml:"ws_write_timeout"`
	WSPongTimeout        int      `yaml:"ws_pong_timeout"`
	WSMaxMessageSize     int      `yaml:"ws_max_message_size"`
	WSSendBufferSize     int      `yaml:"ws_send_buffer_size"`
	HeartbeatInterval    int      `yaml:"heartbeat_interval"`
	InspectAddr          string   `yaml:"inspect_addr"`
	CORSAllowedOrigins   string   `yaml:"cors_allowed_origins"`
	RedisURL             string   `yaml:"redis_url"`
	MirrorChannel        string   `yaml:"mirror_channel"`
	DebugLogSize         int      `yaml:"debug_log_size"`
	LogLevel             string   `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		Endpoint:             "ws://localhost:3001/ws",
		APIURL:               "http://localhost:3001/api",
		ReconnectMaxAttempts: 5,
		ReconnectBaseDelayMS: 1000,
		PendingFallbackMS:    3000,
		PendingKeep:          5,
		WSDialTimeout:        10,
		WSWriteTimeout:       10,
		WSPongTimeout:        60,
		WSMaxMessageSize:     65536,
		WSSendBufferSize:     256,
		HeartbeatInterval:    30,
		CORSAllowedOrigins:   "*",
		MirrorChannel:        "chatclient:changes",
		DebugLogSize:         100,
		LogLevel:             "info",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	// CONFIG_PATH → config/client.yaml
	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}
	return fromYAML(yc)
}

func fromYAML(yc yamlConfig) *Config {
	cfg := &Config{
		Endpoint:      envStr("CHAT_ENDPOINT", yc.Endpoint),
		UserID:        envStr("CHAT_USER_ID", yc.UserID),
		Subscriptions: envList("CHAT_SUBSCRIPTIONS", yc.Subscriptions),
		APIURL:        envStr("CHAT_API_URL", yc.APIURL),
		Reconnect: ReconnectConfig{
			MaxAttempts: envInt("RECONNECT_MAX_ATTEMPTS", yc.ReconnectMaxAttempts),
			BaseDelay:   time.Duration(envInt("RECONNECT_BASE_DELAY_MS", yc.ReconnectBaseDelayMS)) * time.Millisecond,
		},
		Pending: PendingConfig{
			FallbackTimeout: time.Duration(envInt("PENDING_FALLBACK_MS", yc.PendingFallbackMS)) * time.Millisecond,
			Keep:            envInt("PENDING_KEEP", yc.PendingKeep),
		},
		WS: WSConfig{
			DialTimeout:       time.Duration(envInt("WS_DIAL_TIMEOUT", yc.WSDialTimeout)) * time.Second,
			WriteTimeout:      time.Duration(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)) * time.Second,
			PongTimeout:       time.Duration(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)) * time.Second,
			MaxMessageSize:    int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
			SendBufferSize:    envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
			HeartbeatInterval: time.Duration(envInt("HEARTBEAT_INTERVAL", yc.HeartbeatInterval)) * time.Second,
		},
		InspectAddr:        envStr("INSPECT_ADDR", yc.InspectAddr),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		Mirror: MirrorConfig{
			RedisURL: envStr("REDIS_URL", yc.RedisURL),
			Channel:  envStr("MIRROR_CHANNEL", yc.MirrorChannel),
		},
		DebugLogSize: envInt("DEBUG_LOG_SIZE", yc.DebugLogSize),
		LogLevel:     envStr("LOG_LEVEL", yc.LogLevel),
	}

	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = 5
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}
	if cfg.Pending.FallbackTimeout <= 0 {
		cfg.Pending.FallbackTimeout = 3 * time.Second
	}
	if cfg.Pending.Keep <= 0 {
		cfg.Pending.Keep = 5
	}
	if cfg.DebugLogSize <= 0 {
		cfg.DebugLogSize = 100
	}
	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envList разбирает список через запятую (пустые элементы отбрасываются).
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
