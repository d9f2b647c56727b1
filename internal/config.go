package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Rooms   RoomsConfig   `yaml:"rooms"`
	Game    GameConfig    `yaml:"game"`
	Catalog CatalogConfig `yaml:"catalog"`
	NATS    NATSConfig    `yaml:"nats"`
}

// ServerConfig HTTP 服務配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RoomsConfig 房間登錄表配置
type RoomsConfig struct {
	MaxPlayers      int           `yaml:"max_players"`
	EmptyRoomTTL    time.Duration `yaml:"empty_room_ttl"`   // 空房間保留多久
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // 掃描間隔
}

// GameConfig 回合與計分配置
type GameConfig struct {
	GameType       string        `yaml:"game_type"`
	MaxRounds      int           `yaml:"max_rounds"`
	AnswerSeconds  int           `yaml:"answer_seconds"`
	VoteSeconds    int           `yaml:"vote_seconds"`
	ScoringSeconds int           `yaml:"scoring_seconds"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	Points         ScoringPoints `yaml:"points"`
}

// ScoringPoints 計分規則
type ScoringPoints struct {
	CorrectAnswer int `yaml:"correct_answer"` // 作答時直接答出正解
	FoundTruth    int `yaml:"found_truth"`    // 投票選中正解
	FooledPlayer  int `yaml:"fooled_player"`  // 每騙到一位玩家
}

// CatalogConfig 題庫配置
//
// RedisAddr 非空時使用 Redis，否則讀取 File。
type CatalogConfig struct {
	File          string        `yaml:"file"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// NATSConfig 房間訊息鏡像配置
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig 返回默認配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Rooms: RoomsConfig{
			MaxPlayers:      8,
			EmptyRoomTTL:    5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Game: GameConfig{
			GameType:       "fibbage",
			MaxRounds:      3,
			AnswerSeconds:  60,
			VoteSeconds:    30,
			ScoringSeconds: 8,
			TickInterval:   time.Second,
			Points: ScoringPoints{
				CorrectAnswer: 500,
				FoundTruth:    1000,
				FooledPlayer:  500,
			},
		},
		Catalog: CatalogConfig{
			File:          "configs/prompts.yaml",
			KeyPrefix:     "party",
			LookupTimeout: 200 * time.Millisecond,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "rooms",
		},
	}
}

// LoadConfig 載入配置：預設值 → YAML 檔案 → 環境變數
//
// path 為空時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 從環境變量覆蓋配置（容器部署常用）
func (c *Config) applyEnv() error {
	if port := os.Getenv("PARTY_HTTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("parse PARTY_HTTP_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if addr := os.Getenv("PARTY_REDIS_ADDR"); addr != "" {
		c.Catalog.RedisAddr = addr
	}
	if url := os.Getenv("PARTY_NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}
	return nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Rooms.MaxPlayers < 2 || c.Rooms.MaxPlayers > 100 {
		return fmt.Errorf("玩家數量必須在 2-100 之間: %d", c.Rooms.MaxPlayers)
	}
	if c.Game.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be positive: %d", c.Game.MaxRounds)
	}
	if c.Game.AnswerSeconds < 1 || c.Game.VoteSeconds < 1 || c.Game.ScoringSeconds < 1 {
		return fmt.Errorf("phase durations must be at least one second")
	}
	if c.Game.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.Catalog.File == "" && c.Catalog.RedisAddr == "" {
		return fmt.Errorf("catalog needs either file or redis_addr")
	}
	return nil
}
