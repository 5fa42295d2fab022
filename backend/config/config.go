// Package config loads drawConfig.yaml with viper. Every key can be
// overridden from the environment, e.g. DRAW_REDIS_ADDR or
// DRAW_RUNNING_PORT.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DrawConfig struct {
	Running struct {
		Port           int      `mapstructure:"port"`
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
		AccessLog      bool     `mapstructure:"accessLog"`
		LogLevel       string   `mapstructure:"logLevel"`
	} `mapstructure:"running"`
	Board struct {
		MaxActions      int `mapstructure:"maxActions"`
		MaxParticipants int `mapstructure:"maxParticipants"`
		Width           int `mapstructure:"width"`
		Height          int `mapstructure:"height"`
	} `mapstructure:"board"`
	History struct {
		PersistEvery int `mapstructure:"persistEvery"`
		Depth        int `mapstructure:"depth"`
	} `mapstructure:"history"`
	Fill struct {
		Tolerance int `mapstructure:"tolerance"`
	} `mapstructure:"fill"`
	WS struct {
		SendQueue    int           `mapstructure:"sendQueue"`
		ReadLimit    int64         `mapstructure:"readLimit"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
		PingPeriod   time.Duration `mapstructure:"pingPeriod"`
		PongWait     time.Duration `mapstructure:"pongWait"`
	} `mapstructure:"ws"`
	Redis struct {
		// empty disables the presence mirror
		Addr        string        `mapstructure:"addr"`
		Password    string        `mapstructure:"password"`
		DB          int           `mapstructure:"db"`
		PresenceTTL time.Duration `mapstructure:"presenceTTL"`
		CursorTTL   time.Duration `mapstructure:"cursorTTL"`
	} `mapstructure:"redis"`
	Mysql struct {
		// empty disables durable snapshots
		DSN          string `mapstructure:"dsn"`
		KeepSnapshot int    `mapstructure:"keepSnapshots"`
		Writers      int    `mapstructure:"writers"`
	} `mapstructure:"mysql"`
	Kafka struct {
		// empty disables the action stream
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queueSize"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"maxRetry"`
		BaseBackoff time.Duration `mapstructure:"baseBackoff"`
		MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	} `mapstructure:"kafka"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8080)
	v.SetDefault("running.allowedOrigins", []string{"http://localhost", "http://127.0.0.1"})
	v.SetDefault("running.accessLog", true)
	v.SetDefault("running.logLevel", "info")

	v.SetDefault("board.maxActions", 5000)
	v.SetDefault("board.maxParticipants", 50)
	v.SetDefault("board.width", 1200)
	v.SetDefault("board.height", 800)

	v.SetDefault("history.persistEvery", 5)
	v.SetDefault("history.depth", 100)
	v.SetDefault("fill.tolerance", 10)

	v.SetDefault("ws.sendQueue", 256)
	v.SetDefault("ws.readLimit", 16<<20)
	v.SetDefault("ws.writeTimeout", 10*time.Second)
	v.SetDefault("ws.pongWait", 60*time.Second)
	v.SetDefault("ws.pingPeriod", 54*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presenceTTL", 60*time.Second)
	v.SetDefault("redis.cursorTTL", 10*time.Second)

	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.keepSnapshots", 10)
	v.SetDefault("mysql.writers", 4)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "board-actions")
	v.SetDefault("kafka.queueSize", 10_000)
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.maxRetry", 3)
	v.SetDefault("kafka.baseBackoff", 50*time.Millisecond)
	v.SetDefault("kafka.maxBackoff", time.Second)
}

// Load reads drawConfig.yaml from paths, or from ./backend/config, ./config
// and . when none are given. A missing file leaves the defaults in place.
func Load(paths ...string) (*DrawConfig, error) {
	v := viper.New()
	v.SetConfigName("drawConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// started from the repository root or from backend/
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("DRAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &DrawConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
