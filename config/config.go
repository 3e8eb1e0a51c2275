// Copyright 2024 frappe Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the server configuration.
package config

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration of the frappe server and fill tool.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Recommend RecommendConfig `mapstructure:"recommend"`
}

type DatabaseConfig struct {
	// DataStore is the DSN of the relational store (sqlite://, mysql://, postgres://).
	DataStore string `mapstructure:"data_store"`
	// CacheStore is the DSN of the result cache (redis:// or memory://).
	CacheStore string `mapstructure:"cache_store"`
	// TablePrefix is prepended to every table name.
	TablePrefix string `mapstructure:"table_prefix"`
}

type ServerConfig struct {
	HttpHost string `mapstructure:"http_host"`
	HttpPort int    `mapstructure:"http_port"`
	// APIKey protects the API when non-empty (X-API-Key header).
	APIKey string `mapstructure:"api_key"`
	// LogSlowThreshold is how long a request may take before it is logged
	// as slow.
	LogSlowThreshold time.Duration `mapstructure:"log_slow_threshold"`
}

type RecommendConfig struct {
	// DefaultN is the recommendation size when the request does not carry one.
	DefaultN int `mapstructure:"default_n"`
	// MaxN caps the requested recommendation size.
	MaxN int `mapstructure:"max_n"`
	// CacheTTL is how long served recommendations stay in the result cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// ModuleTTL is how long loaded modules (and their predictor model state)
	// stay in the resolver cache.
	ModuleTTL time.Duration `mapstructure:"module_ttl"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore:  "sqlite://frappe.db",
			CacheStore: "memory://",
		},
		Server: ServerConfig{
			HttpHost:         "127.0.0.1",
			HttpPort:         8087,
			LogSlowThreshold: 10 * time.Second,
		},
		Recommend: RecommendConfig{
			DefaultN:  10,
			MaxN:      100,
			CacheTTL:  time.Minute,
			ModuleTTL: 10 * time.Minute,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	viper.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	viper.SetDefault("database.cache_store", defaultConfig.Database.CacheStore)
	viper.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	viper.SetDefault("server.http_host", defaultConfig.Server.HttpHost)
	viper.SetDefault("server.http_port", defaultConfig.Server.HttpPort)
	viper.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	viper.SetDefault("server.log_slow_threshold", defaultConfig.Server.LogSlowThreshold)
	viper.SetDefault("recommend.default_n", defaultConfig.Recommend.DefaultN)
	viper.SetDefault("recommend.max_n", defaultConfig.Recommend.MaxN)
	viper.SetDefault("recommend.cache_ttl", defaultConfig.Recommend.CacheTTL)
	viper.SetDefault("recommend.module_ttl", defaultConfig.Recommend.ModuleTTL)
}

// LoadConfig loads the configuration from a TOML file. Every key can be
// overridden by a FRAPPE_SECTION_KEY environment variable.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	viper.SetConfigType("toml")
	viper.SetEnvPrefix("frappe")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.Trace(err)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}

func (config *Config) Validate() error {
	if config.Database.DataStore == "" {
		return errors.NotValidf("empty database.data_store")
	}
	if config.Server.HttpPort <= 0 || config.Server.HttpPort > 65535 {
		return errors.NotValidf("server.http_port %d", config.Server.HttpPort)
	}
	if config.Recommend.DefaultN <= 0 {
		return errors.NotValidf("recommend.default_n %d", config.Recommend.DefaultN)
	}
	if config.Recommend.MaxN < config.Recommend.DefaultN {
		return errors.NotValidf("recommend.max_n %d below default_n", config.Recommend.MaxN)
	}
	if config.Recommend.ModuleTTL <= 0 {
		return errors.NotValidf("recommend.module_ttl %v", config.Recommend.ModuleTTL)
	}
	return nil
}
