package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ModelSettings struct {
		Model              string  `yaml:"model"`
		DraftTemperature   float64 `yaml:"draft_temperature"`
		DraftMaxTokens     int64   `yaml:"draft_max_tokens"`
		RewriteTemperature float64 `yaml:"rewrite_temperature"`
		RewriteMaxTokens   int64   `yaml:"rewrite_max_tokens"`
		EscalateMaxTokens  int64   `yaml:"escalate_max_tokens"`
		TimeoutSeconds     int     `yaml:"timeout_seconds"`
	} `yaml:"model_settings"`
	Pipeline struct {
		HistoryWindow int `yaml:"history_window"`
		StoryLimit    int `yaml:"story_limit"`
	} `yaml:"pipeline"`
	Session struct {
		TTLHours int `yaml:"ttl_hours"`
	} `yaml:"session"`
}

func defaults() *Config {
	config := &Config{}
	config.ModelSettings.Model = "meta-llama/llama-3.3-70b-instruct"
	config.ModelSettings.DraftTemperature = 0.7
	config.ModelSettings.DraftMaxTokens = 600
	config.ModelSettings.RewriteTemperature = 0.9
	config.ModelSettings.RewriteMaxTokens = 300
	config.ModelSettings.EscalateMaxTokens = 120
	config.ModelSettings.TimeoutSeconds = 60
	config.Pipeline.HistoryWindow = 10
	config.Pipeline.StoryLimit = 3
	config.Session.TTLHours = 24
	return config
}

func LoadConfig(path string) (*Config, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return defaults(), nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := defaults()
	if err := yaml.Unmarshal(file, config); err != nil {
		return nil, err
	}

	return config, nil
}
