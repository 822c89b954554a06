package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"vigil/pkg/validation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration loaded from YAML and VIGIL_* env vars.
type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
	} `yaml:"server"`

	// Stream holds the defaults seeded into the settings store on first run.
	Stream struct {
		Quality      string `yaml:"quality"`
		Framerate    int    `yaml:"framerate"`
		AudioBitrate int    `yaml:"audio_bitrate"`
		Port         int    `yaml:"port"`
		AutoStart    bool   `yaml:"auto_start"`
	} `yaml:"stream"`

	RTSP struct {
		PublicHost    string        `yaml:"public_host"`
		Username      string        `yaml:"username"`
		Password      string        `yaml:"password"`
		DedupeViewers bool          `yaml:"dedupe_viewers"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		MTU           int           `yaml:"mtu"`
	} `yaml:"rtsp"`

	Capture struct {
		VideoCommand     string `yaml:"video_command"`
		VideoCommandBack string `yaml:"video_command_back"`
		VideoFile        string `yaml:"video_file"`
		AudioCommand     string `yaml:"audio_command"`
		LightPath        string `yaml:"light_path"`
		MaxWidth         int    `yaml:"max_width"`
		MaxHeight        int    `yaml:"max_height"`
		MaxFPS           int    `yaml:"max_fps"`
	} `yaml:"capture"`

	Audio struct {
		Command     string        `yaml:"command"`
		Device      string        `yaml:"device"`
		MinLatency  time.Duration `yaml:"min_latency"`
		StopTimeout time.Duration `yaml:"stop_timeout"`
	} `yaml:"audio"`

	Detection struct {
		ModelPath    string        `yaml:"model_path"`
		Threshold    float64       `yaml:"threshold"`
		Cooldown     time.Duration `yaml:"cooldown"`
		ClassIndices []int         `yaml:"class_indices"`
		Threads      int           `yaml:"threads"`
	} `yaml:"detection"`

	Alerts struct {
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	} `yaml:"alerts"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		QoS         byte   `yaml:"qos"`
	} `yaml:"mqtt"`

	Backup struct {
		Enabled   bool          `yaml:"enabled"`
		Dir       string        `yaml:"dir"`
		Interval  time.Duration `yaml:"interval"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"backup"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MaxConcurrent int `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server.ping_interval must be > 0")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout must be > server.ping_interval")
	}

	// Stream
	if err := validation.ValidateQuality(c.Stream.Quality); err != nil {
		return fmt.Errorf("stream.quality: %w", err)
	}
	if c.Stream.Framerate <= 0 {
		return fmt.Errorf("stream.framerate must be > 0")
	}
	if c.Stream.AudioBitrate <= 0 {
		return fmt.Errorf("stream.audio_bitrate must be > 0")
	}
	if err := validation.ValidatePort(c.Stream.Port); err != nil {
		return fmt.Errorf("stream.port: %w", err)
	}

	// RTSP
	if c.RTSP.Username != "" && c.RTSP.Password == "" {
		return fmt.Errorf("rtsp.password must not be empty when rtsp.username is set")
	}
	if c.RTSP.MTU < 256 {
		return fmt.Errorf("rtsp.mtu must be >= 256")
	}

	// Capture
	if c.Capture.VideoCommand == "" && c.Capture.VideoFile == "" {
		return fmt.Errorf("capture.video_command or capture.video_file must be set")
	}
	if c.Capture.MaxWidth <= 0 || c.Capture.MaxHeight <= 0 || c.Capture.MaxFPS <= 0 {
		return fmt.Errorf("capture.max_width, max_height and max_fps must be > 0")
	}

	// Audio
	if c.Audio.Command == "" && c.Audio.Device == "" {
		return fmt.Errorf("audio.command or audio.device must be set")
	}
	if c.Audio.MinLatency <= 0 {
		return fmt.Errorf("audio.min_latency must be > 0")
	}
	if c.Audio.StopTimeout <= 0 {
		return fmt.Errorf("audio.stop_timeout must be > 0")
	}

	// Detection
	if err := validation.ValidateThreshold(c.Detection.Threshold); err != nil {
		return fmt.Errorf("detection.threshold: %w", err)
	}
	if c.Detection.Cooldown <= 0 {
		return fmt.Errorf("detection.cooldown must be > 0")
	}
	if len(c.Detection.ClassIndices) == 0 {
		return fmt.Errorf("detection.class_indices must not be empty")
	}
	for _, idx := range c.Detection.ClassIndices {
		if idx < 0 {
			return fmt.Errorf("detection.class_indices must be >= 0")
		}
	}
	if c.Detection.Threads <= 0 {
		return fmt.Errorf("detection.threads must be > 0")
	}

	// Alerts
	if c.Alerts.BreakerFailures <= 0 {
		return fmt.Errorf("alerts.breaker_failures must be > 0")
	}
	if c.Alerts.BreakerTimeout <= 0 {
		return fmt.Errorf("alerts.breaker_timeout must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// MQTT
	if c.MQTT.Enabled {
		if err := validation.ValidateBrokerURL(c.MQTT.Broker); err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
		if err := validation.ValidateNonEmptyString(c.MQTT.TopicPrefix, "mqtt.topic_prefix"); err != nil {
			return err
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			return fmt.Errorf("backup.dir must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
		if c.Backup.Retention < c.Backup.Interval {
			return fmt.Errorf("backup.retention must be >= backup.interval")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file in the working directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.PingInterval = 30 * time.Second
	cfg.Server.PongTimeout = 60 * time.Second

	cfg.Stream.Quality = "medium"
	cfg.Stream.Framerate = 30
	cfg.Stream.AudioBitrate = 128000
	cfg.Stream.Port = 8554
	cfg.Stream.AutoStart = false

	cfg.RTSP.ReadTimeout = 10 * time.Second
	cfg.RTSP.WriteTimeout = 10 * time.Second
	cfg.RTSP.MTU = 1200

	cfg.Capture.VideoCommand = "ffmpeg -hide_banner -loglevel error -f v4l2 -framerate {fps} -video_size {width}x{height} -i /dev/video0 " +
		"-c:v libx264 -preset ultrafast -tune zerolatency -b:v {bitrate} -g {fps} -bsf:v h264_mp4toannexb -f h264 -"
	cfg.Capture.MaxWidth = 1920
	cfg.Capture.MaxHeight = 1080
	cfg.Capture.MaxFPS = 60

	cfg.Audio.Command = "arecord -q -t raw -f S16_LE -c 1 -r 16000"
	cfg.Audio.MinLatency = 40 * time.Millisecond
	cfg.Audio.StopTimeout = 2 * time.Second

	cfg.Detection.ModelPath = "models/yamnet.tflite"
	cfg.Detection.Threshold = 0.15
	cfg.Detection.Cooldown = 10 * time.Second
	cfg.Detection.ClassIndices = []int{23, 20, 24}
	cfg.Detection.Threads = 2

	cfg.Alerts.BreakerFailures = 5
	cfg.Alerts.BreakerTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.MQTT.Enabled = false
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "vigil"
	cfg.MQTT.TopicPrefix = "vigil"
	cfg.MQTT.QoS = 1

	cfg.Backup.Enabled = false
	cfg.Backup.Dir = "backups"
	cfg.Backup.Interval = 24 * time.Hour
	cfg.Backup.Retention = 7 * 24 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxConcurrent = 8

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VIGIL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("VIGIL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if port := os.Getenv("VIGIL_STREAM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Stream.Port = p
		}
	}
	if host := os.Getenv("VIGIL_RTSP_PUBLIC_HOST"); host != "" {
		c.RTSP.PublicHost = host
	}
	if user := os.Getenv("VIGIL_RTSP_USERNAME"); user != "" {
		c.RTSP.Username = user
	}
	if pass := os.Getenv("VIGIL_RTSP_PASSWORD"); pass != "" {
		c.RTSP.Password = pass
	}
	if model := os.Getenv("VIGIL_MODEL_PATH"); model != "" {
		c.Detection.ModelPath = model
	}
	if addr := os.Getenv("VIGIL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if pass := os.Getenv("VIGIL_REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}
	if dir := os.Getenv("VIGIL_BACKUP_DIR"); dir != "" {
		c.Backup.Dir = dir
		c.Backup.Enabled = true
	}
	if broker := os.Getenv("VIGIL_MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}
	if user := os.Getenv("VIGIL_MQTT_USERNAME"); user != "" {
		c.MQTT.Username = user
	}
	if pass := os.Getenv("VIGIL_MQTT_PASSWORD"); pass != "" {
		c.MQTT.Password = pass
	}
}
