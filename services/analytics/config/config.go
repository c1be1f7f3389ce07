// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the service configuration from
// ~/.omnilytics/omnilytics.yaml, creating the file with defaults on
// first run. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the analytics service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Log    LogConfig    `yaml:"log"`
	Otel   OtelConfig   `yaml:"otel"`
}

type ServerConfig struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// UploadRatePerSecond throttles the sales upload endpoint.
	// Zero disables throttling.
	UploadRatePerSecond float64 `yaml:"upload_rate_per_second"`

	// UploadBurst is the burst size of the upload throttle.
	UploadBurst int `yaml:"upload_burst"`
}

type DataConfig struct {
	// Dir is the BadgerDB directory.
	Dir string `yaml:"dir"`
}

type CacheConfig struct {
	// TTLDays bounds how long a report result stays cached.
	TTLDays int `yaml:"ttl_days"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Dir is where JSON log files go. Empty logs to stderr only.
	Dir string `yaml:"dir"`

	// JSON switches the stderr handler to JSON output.
	JSON bool `yaml:"json"`
}

type OtelConfig struct {
	// Enabled turns on trace export.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// DefaultConfig returns the defaults written on first run.
func DefaultConfig() Config {
	dataDir := "omnilytics-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".omnilytics", "data")
	}
	return Config{
		Server: ServerConfig{
			Port:                8080,
			UploadRatePerSecond: 10,
			UploadBurst:         20,
		},
		Data:  DataConfig{Dir: dataDir},
		Cache: CacheConfig{TTLDays: 30},
		Log:   LogConfig{Level: "info"},
		Otel:  OtelConfig{Endpoint: "localhost:4317"},
	}
}

// Load reads the config file, creating it with defaults when absent,
// then applies environment overrides.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return LoadFrom(filepath.Join(home, ".omnilytics", "omnilytics.yaml"))
}

// LoadFrom reads the config from an explicit path.
func LoadFrom(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets deployments override file settings without
// editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OMNILYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OMNILYTICS_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("OMNILYTICS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OMNILYTICS_OTEL_ENDPOINT"); v != "" {
		cfg.Otel.Endpoint = v
		cfg.Otel.Enabled = true
	}
}
