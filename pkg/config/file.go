package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML overlay. Unset keys leave the loaded value alone.
type fileConfig struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	JWT struct {
		Secret string `yaml:"secret"`
		Issuer string `yaml:"issuer"`
	} `yaml:"jwt"`
	Cache struct {
		TTL         time.Duration `yaml:"ttl"`
		MaxSize     int           `yaml:"max_size"`
		PurgeWindow time.Duration `yaml:"purge_window"`
	} `yaml:"cache"`
	Backend struct {
		URL              string        `yaml:"url"`
		Token            string        `yaml:"token"`
		UserID           string        `yaml:"user_id"`
		Timeout          time.Duration `yaml:"timeout"`
		FailureThreshold uint          `yaml:"failure_threshold"`
		RetryTimeout     time.Duration `yaml:"retry_timeout"`
	} `yaml:"backend"`
	Assistant struct {
		Enabled      *bool  `yaml:"enabled"`
		APIKey       string `yaml:"api_key"`
		BaseURL      string `yaml:"base_url"`
		Model        string `yaml:"model"`
		MaxTokens    int    `yaml:"max_tokens"`
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"assistant"`
}

// ApplyFile overlays the YAML file at path onto c
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Logging.Level, fc.Logging.Level)
	setString(&c.Logging.Format, fc.Logging.Format)
	setString(&c.JWT.Secret, fc.JWT.Secret)
	setString(&c.JWT.Issuer, fc.JWT.Issuer)

	setDuration(&c.Cache.TTL, fc.Cache.TTL)
	setDuration(&c.Cache.PurgeWindow, fc.Cache.PurgeWindow)
	if fc.Cache.MaxSize > 0 {
		c.Cache.MaxSize = fc.Cache.MaxSize
	}

	setString(&c.Backend.BaseURL, fc.Backend.URL)
	setString(&c.Backend.Token, fc.Backend.Token)
	setString(&c.Backend.UserID, fc.Backend.UserID)
	setDuration(&c.Backend.Timeout, fc.Backend.Timeout)
	setDuration(&c.Backend.RetryTimeout, fc.Backend.RetryTimeout)
	if fc.Backend.FailureThreshold > 0 {
		c.Backend.FailureThreshold = fc.Backend.FailureThreshold
	}

	if fc.Assistant.Enabled != nil {
		c.Assistant.Enabled = *fc.Assistant.Enabled
	}
	setString(&c.Assistant.APIKey, fc.Assistant.APIKey)
	setString(&c.Assistant.BaseURL, fc.Assistant.BaseURL)
	setString(&c.Assistant.Model, fc.Assistant.Model)
	setString(&c.Assistant.SystemPrompt, fc.Assistant.SystemPrompt)
	if fc.Assistant.MaxTokens > 0 {
		c.Assistant.MaxTokens = fc.Assistant.MaxTokens
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
