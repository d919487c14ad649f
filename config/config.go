/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

const (
	DEFAULT_PORT = "5011"

	RoleServer = "server"
	RoleClient = "client"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port      string `json:"port" envconfig:"SORTING_SERVER_PORT"`
	SecretKey string `json:"secret_key" envconfig:"SORTING_SERVER_SECRET_KEY"`
	Disabled  bool   `json:"disabled" envconfig:"SORTING_SERVER_DISABLED"`
}

// SorterConfig describes the link to the physical sorter. Role "server" listens on
// Address:Port, role "client" dials it.
type SorterConfig struct {
	Role             string `json:"role" envconfig:"SORTING_SORTER_ROLE"`
	Address          string `json:"address" envconfig:"SORTING_SORTER_ADDRESS"`
	Port             int    `json:"port" envconfig:"SORTING_SORTER_PORT"`
	ReconnectCount   int    `json:"reconnect_count" envconfig:"SORTING_SORTER_RECONNECT_COUNT"`
	ReconnectDelayMs int    `json:"reconnect_delay_ms" envconfig:"SORTING_SORTER_RECONNECT_DELAY_MS"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms" envconfig:"SORTING_SORTER_CONNECT_TIMEOUT_MS"`
	WriteTimeoutMs   int    `json:"write_timeout_ms" envconfig:"SORTING_SORTER_WRITE_TIMEOUT_MS"`
	LeaseKey         string `json:"lease_key" envconfig:"SORTING_SORTER_LEASE_KEY"`
	LeaseTTLMs       int    `json:"lease_ttl_ms" envconfig:"SORTING_SORTER_LEASE_TTL_MS"`
}

// DwsConfig describes the scanner link, its payload format and the binding window.
type DwsConfig struct {
	Disabled  bool                   `json:"disabled" envconfig:"SORTING_DWS_DISABLED"`
	Role      string                 `json:"role" envconfig:"SORTING_DWS_ROLE"`
	Address   string                 `json:"address" envconfig:"SORTING_DWS_ADDRESS"`
	Port      int                    `json:"port" envconfig:"SORTING_DWS_PORT"`
	Format    string                 `json:"format" envconfig:"SORTING_DWS_FORMAT"`
	Template  string                 `json:"template" envconfig:"SORTING_DWS_TEMPLATE"`
	Delimiter string                 `json:"delimiter" envconfig:"SORTING_DWS_DELIMITER"`
	Timeout   model.DwsTimeoutConfig `json:"timeout"`
}

type RulesConfig struct {
	Path string `json:"path" envconfig:"SORTING_RULES_PATH"`
}

type ThirdPartyConfig struct {
	ConfigPath  string `json:"config_path" envconfig:"SORTING_THIRD_PARTY_CONFIG_PATH"`
	TimeoutMs   int    `json:"timeout_ms" envconfig:"SORTING_THIRD_PARTY_TIMEOUT_MS"`
	CacheTTLSec int    `json:"cache_ttl_sec" envconfig:"SORTING_THIRD_PARTY_CACHE_TTL_SEC"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SORTING_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SORTING_REDIS_SKIP_TLS_VERIFY"`
}

type CommLogConfig struct {
	RedisKey   string `json:"redis_key" envconfig:"SORTING_COMM_LOG_REDIS_KEY"`
	MaxEntries int    `json:"max_entries" envconfig:"SORTING_COMM_LOG_MAX_ENTRIES"`
	BufferSize int    `json:"buffer_size" envconfig:"SORTING_COMM_LOG_BUFFER_SIZE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SORTING_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SORTING_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SORTING_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"SORTING_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName    string           `json:"project_name" envconfig:"SORTING_PROJECT_NAME"`
	DefaultChuteID int64            `json:"default_chute_id" envconfig:"SORTING_DEFAULT_CHUTE_ID"`
	Server         ServerConfig     `json:"server"`
	Sorter         SorterConfig     `json:"sorter"`
	Dws            DwsConfig        `json:"dws"`
	Rules          RulesConfig      `json:"rules"`
	ThirdParty     ThirdPartyConfig `json:"third_party"`
	Redis          RedisConfig      `json:"redis"`
	CommLog        CommLogConfig    `json:"comm_log"`
	Notification   Notification     `json:"notification"`
	RateLimit      RateLimitConfig  `json:"rate_limit"`
}

// Endpoint returns the sorter "host:port".
func (s SorterConfig) Endpoint() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Endpoint returns the DWS "host:port".
func (d DwsConfig) Endpoint() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// defaultConfiguration seeds the values a zero value cannot express. The file and the
// environment may still override them.
func defaultConfiguration() Configuration {
	var cnf Configuration
	cnf.Dws.Timeout.Enabled = true
	return cnf
}

func loadConfigFromFile(file string) (*Configuration, error) {
	cnf := defaultConfiguration()
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cnf); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	if err := envconfig.Process("sorting", &cnf); err != nil {
		return nil, err
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return &cnf, nil
}

func InitConfig(configFile string) error {
	logger()
	cnf, err := loadConfigFromFile(configFile)
	if err != nil {
		return err
	}
	ConfigStore.Store(cnf)
	return nil
}

// Load reads and validates a configuration without storing it.
func Load(configFile string) (*Configuration, error) {
	return loadConfigFromFile(configFile)
}

// Store makes cnf the configuration returned by Fetch.
func Store(cnf *Configuration) {
	ConfigStore.Store(cnf)
}

// Reload re-reads the file and the environment and swaps the stored configuration. The
// previous configuration stays in force when the new one is invalid.
func Reload(configFile string) (*Configuration, error) {
	cnf, err := loadConfigFromFile(configFile)
	if err != nil {
		return nil, err
	}
	Store(cnf)
	logrus.Info("configuration reloaded")
	return cnf, nil
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called sorting.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Sorting Rule Engine"
	}

	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if err := cnf.Sorter.addDefaults(); err != nil {
		return err
	}
	if err := cnf.Dws.addDefaults(); err != nil {
		return err
	}
	if cnf.DefaultChuteID < 0 {
		return errors.New("default_chute_id cannot be negative")
	}

	if cnf.ThirdParty.TimeoutMs <= 0 {
		cnf.ThirdParty.TimeoutMs = 1500
	}
	if cnf.ThirdParty.CacheTTLSec < 0 {
		cnf.ThirdParty.CacheTTLSec = 0
	}

	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	if cnf.Sorter.LeaseKey != "" && cnf.Redis.Dns == "" {
		return errors.New("sorter.lease_key needs redis.dns")
	}
	if cnf.CommLog.RedisKey == "" {
		cnf.CommLog.RedisKey = "sorting:commlog"
	}
	if cnf.CommLog.MaxEntries <= 0 {
		cnf.CommLog.MaxEntries = 10000
	}
	if cnf.CommLog.BufferSize <= 0 {
		cnf.CommLog.BufferSize = 1024
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (s *SorterConfig) addDefaults() error {
	s.Role = strings.ToLower(strings.TrimSpace(s.Role))
	if s.Role == "" {
		s.Role = RoleServer
	}
	if s.Role != RoleServer && s.Role != RoleClient {
		return fmt.Errorf("sorter.role must be %q or %q, got %q", RoleServer, RoleClient, s.Role)
	}
	if s.Address == "" {
		if s.Role == RoleClient {
			return errors.New("sorter.address is required when sorter.role is client")
		}
		s.Address = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 5000
	}
	if s.ReconnectCount == 0 {
		s.ReconnectCount = 5
	}
	if s.ReconnectDelayMs <= 0 {
		s.ReconnectDelayMs = 1000
	}
	if s.ConnectTimeoutMs <= 0 {
		s.ConnectTimeoutMs = 3000
	}
	if s.WriteTimeoutMs <= 0 {
		s.WriteTimeoutMs = 2000
	}
	if s.LeaseTTLMs <= 0 {
		s.LeaseTTLMs = 10000
	}
	return nil
}

func (d *DwsConfig) addDefaults() error {
	d.Role = strings.ToLower(strings.TrimSpace(d.Role))
	if d.Role == "" {
		d.Role = RoleServer
	}
	if d.Role != RoleServer && d.Role != RoleClient {
		return fmt.Errorf("dws.role must be %q or %q, got %q", RoleServer, RoleClient, d.Role)
	}
	if d.Address == "" {
		if d.Role == RoleClient && !d.Disabled {
			return errors.New("dws.address is required when dws.role is client")
		}
		d.Address = "0.0.0.0"
	}
	if d.Port == 0 {
		d.Port = 5001
	}
	if d.Format == "" {
		d.Format = "delimited"
	}

	t := &d.Timeout
	if t.MaxWaitMs == 0 {
		t.MaxWaitMs = 2000
	}
	if t.CheckIntervalMs == 0 {
		t.CheckIntervalMs = 100
	}
	if t.ExceptionChuteID == 0 {
		t.ExceptionChuteID = 999
		log.Printf("Warning: dws.timeout.exception_chute_id not specified. Setting default value: %d", t.ExceptionChuteID)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("dws.timeout: %w", err)
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
