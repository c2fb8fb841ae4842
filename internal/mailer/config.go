package mailer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the mail transport settings, loadable from a yaml file or
// assembled from env vars by the caller.
type Config struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"apiKey"`
	From           string `yaml:"from"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Endpoint == "" {
		return Config{}, fmt.Errorf("mailer endpoint required")
	}
	if cfg.From == "" {
		return Config{}, fmt.Errorf("mailer from address required")
	}
	return cfg, nil
}
