package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	DefaultServerAddr       = ":8080"
	DefaultStoragePath      = "./data"
	DefaultKafkaTopic       = "image-history"
	DefaultMaxWidth         = 1920
	DefaultMaxHeight        = 1080
	DefaultThumbnailSize    = 300
	DefaultJPEGQuality      = 85
	DefaultThumbnailQuality = 80
)

var ErrMissingMasterKey = errors.New("config: MASTER_KEY_GCM is not set")

type Config struct {
	ServerAddr       string `yaml:"server_addr"`
	DatabaseURL      string `yaml:"database_url"`
	KafkaBroker      string `yaml:"kafka_broker"`
	KafkaTopic       string `yaml:"kafka_topic"`
	RedisAddr        string `yaml:"redis_addr"`
	StoragePath      string `yaml:"storage_path"`
	MasterKey        string `yaml:"master_key"`
	MaxWidth         int    `yaml:"max_width"`
	MaxHeight        int    `yaml:"max_height"`
	ThumbnailSize    int    `yaml:"thumbnail_size"`
	JPEGQuality      int    `yaml:"jpeg_quality"`
	ThumbnailQuality int    `yaml:"thumbnail_quality"`
}

// LoadConfig reads the yaml file at path, if it exists, and lets the
// environment override it. The result is validated.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("%s: %w", op, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.ServerAddr = envOrDefault("SERVER_ADDR", c.ServerAddr)
	c.DatabaseURL = envOrDefault("DATABASE_URL", c.DatabaseURL)
	c.KafkaBroker = envOrDefault("KAFKA_BROKER", c.KafkaBroker)
	c.KafkaTopic = envOrDefault("KAFKA_TOPIC", c.KafkaTopic)
	c.RedisAddr = envOrDefault("REDIS_ADDR", c.RedisAddr)
	c.StoragePath = envOrDefault("STORAGE_PATH", c.StoragePath)
	c.MasterKey = envOrDefault("MASTER_KEY_GCM", c.MasterKey)

	var err error
	if c.MaxWidth, err = parseIntEnv("MAX_IMAGE_WIDTH", c.MaxWidth); err != nil {
		return err
	}
	if c.MaxHeight, err = parseIntEnv("MAX_IMAGE_HEIGHT", c.MaxHeight); err != nil {
		return err
	}
	if c.ThumbnailSize, err = parseIntEnv("THUMBNAIL_SIZE", c.ThumbnailSize); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = DefaultServerAddr
	}
	if c.StoragePath == "" {
		c.StoragePath = DefaultStoragePath
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = DefaultKafkaTopic
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = DefaultMaxWidth
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = DefaultMaxHeight
	}
	if c.ThumbnailSize <= 0 {
		c.ThumbnailSize = DefaultThumbnailSize
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.ThumbnailQuality <= 0 || c.ThumbnailQuality > 100 {
		c.ThumbnailQuality = DefaultThumbnailQuality
	}
}

// Validate checks the master key; everything else has a default.
func (c *Config) Validate() error {
	_, err := c.Key()
	return err
}

// Key decodes the hex master key. AES accepts 16, 24 or 32 bytes.
func (c *Config) Key() ([]byte, error) {
	raw := strings.TrimSpace(c.MasterKey)
	if raw == "" {
		return nil, ErrMissingMasterKey
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: master key is not hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("config: master key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}
