package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	defaultConfig = Config{
		Server: defaultServer,
		Cache:  defaultCache,
		Engine: defaultEngine,
	}

	defaultServer = Server{
		ListenAddr: ":8080",
	}

	defaultCache = Cache{
		Dir:             "./cache-data",
		CleanupInterval: Duration(10 * time.Minute),
		Compression:     CompressionNone,
		Index:           defaultIndex,
	}

	defaultIndex = Index{
		Mode: IndexMemory,
	}

	defaultEngine = Engine{
		Workers:      8,
		FetchTimeout: Duration(30 * time.Second),
		MaxRetries:   2,
		RetryBackoff: Duration(200 * time.Millisecond),
		UserAgent:    "webfetch",
	}
)

// Config describes the fetch engine and the daemon serving it.
type Config struct {
	// Whether to print debug logs
	LogDebug bool `yaml:"log_debug,omitempty"`

	// Regular expressions applied to every log line, e.g. to hide
	// credentials passed in fetched URLs
	LogMasks []LogMask `yaml:"log_masks,omitempty"`

	Server Server `yaml:"server,omitempty"`

	Cache Cache `yaml:"cache,omitempty"`

	Engine Engine `yaml:"engine,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// String implements the Stringer interface
func (c *Config) String() string {
	b, err := yaml.Marshal(withoutSensitiveInfo(c))
	if err != nil {
		panic(err)
	}
	return string(b)
}

func withoutSensitiveInfo(config *Config) *Config {
	const pswPlaceHolder = "XXX"

	c := *config
	if len(c.Cache.Index.Redis.Password) > 0 {
		c.Cache.Index.Redis.Password = pswPlaceHolder
	}
	return &c
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// set c to the defaults and then overwrite it with the input.
	*c = defaultConfig
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	return checkOverflow(c.XXX, "config")
}

// LogMask describes a regexp replacement applied to log lines
type LogMask struct {
	Regex       string `yaml:"regex"`
	Replacement string `yaml:"replacement"`
}

// Server describes the HTTP endpoint exposing the engine
type Server struct {
	// TCP address to listen to for http
	// Default is `:8080`
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// List of networks that access to /fetch is allowed from
	// Each list item could be IP address or subnet mask
	// if omitted or zero - no limits would be applied
	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	Metrics Metrics `yaml:"metrics,omitempty"`

	Proxy Proxy `yaml:"proxy,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *Server) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*s = defaultServer
	type plain Server
	if err := unmarshal((*plain)(s)); err != nil {
		return err
	}
	if len(s.ListenAddr) == 0 {
		return fmt.Errorf("field `listen_addr` cannot be empty")
	}
	return checkOverflow(s.XXX, "server")
}

// Metrics describes the /metrics endpoint
type Metrics struct {
	// Namespace prefixes every exported metric name
	Namespace string `yaml:"namespace,omitempty"`

	AllowedNetworks Networks `yaml:"allowed_networks,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (m *Metrics) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Metrics
	if err := unmarshal((*plain)(m)); err != nil {
		return err
	}
	return checkOverflow(m.XXX, "metrics")
}

// Proxy describes the reverse proxy webfetch may be deployed behind.
// When enabled, allowed_networks are checked against the client address
// reported by the proxy instead of the connection address.
type Proxy struct {
	// Enable the use of proxy headers
	Enable bool `yaml:"enable,omitempty"`

	// Header carrying the client address. When empty, X-Forwarded-For,
	// X-Real-Ip and Forwarded are tried in order
	Header string `yaml:"header,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (p *Proxy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Proxy
	if err := unmarshal((*plain)(p)); err != nil {
		return err
	}
	return checkOverflow(p.XXX, "proxy")
}

// Cache compression modes
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZSTD = "zstd"
)

// Cache describes the on-disk artifact cache
type Cache struct {
	// Dir is the directory where cached artifacts are stored
	Dir string `yaml:"dir"`

	// MaxSize is the upper bound of the total artifact size.
	// Oldest entries are evicted on overflow.
	// if omitted or zero - no limits would be applied
	MaxSize ByteSize `yaml:"max_size,omitempty"`

	// CleanupInterval is the period of expired entries sweeping
	CleanupInterval Duration `yaml:"cleanup_interval,omitempty"`

	// Compression of artifacts on disk: `none`, `lz4` or `zstd`
	Compression string `yaml:"compression,omitempty"`

	Index Index `yaml:"index,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Cache) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultCache
	type plain Cache
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	if len(c.Dir) == 0 {
		return fmt.Errorf("field `dir` cannot be empty")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("field `cleanup_interval` must be positive")
	}
	switch c.Compression {
	case CompressionNone, CompressionLZ4, CompressionZSTD:
	default:
		return fmt.Errorf("field `compression` must be one of `none`, `lz4` or `zstd`. Got %q instead", c.Compression)
	}
	return checkOverflow(c.XXX, "cache")
}

// Index modes
const (
	IndexMemory  = "memory"
	IndexLevelDB = "leveldb"
	IndexRedis   = "redis"
)

// Index describes where cache entries metadata is stored
type Index struct {
	// Mode is one of `memory`, `leveldb` or `redis`
	Mode string `yaml:"mode,omitempty"`

	LevelDB LevelDBIndexConfig `yaml:"leveldb,omitempty"`

	Redis RedisIndexConfig `yaml:"redis,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (i *Index) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*i = defaultIndex
	type plain Index
	if err := unmarshal((*plain)(i)); err != nil {
		return err
	}
	switch i.Mode {
	case IndexMemory:
	case IndexLevelDB:
		if len(i.LevelDB.Path) == 0 {
			return fmt.Errorf("field `leveldb.path` must be set for `leveldb` index mode")
		}
	case IndexRedis:
		if len(i.Redis.Addresses) == 0 {
			return fmt.Errorf("field `redis.addresses` must contain at least 1 address for `redis` index mode")
		}
	default:
		return fmt.Errorf("field `mode` must be one of `memory`, `leveldb` or `redis`. Got %q instead", i.Mode)
	}
	return checkOverflow(i.XXX, "index")
}

type LevelDBIndexConfig struct {
	// Path of the leveldb database directory
	Path string `yaml:"path,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (l *LevelDBIndexConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain LevelDBIndexConfig
	if err := unmarshal((*plain)(l)); err != nil {
		return err
	}
	return checkOverflow(l.XXX, "leveldb")
}

type RedisIndexConfig struct {
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	Addresses []string `yaml:"addresses"`

	// KeyPrefix namespaces every key written by the index
	KeyPrefix string `yaml:"key_prefix,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *RedisIndexConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain RedisIndexConfig
	if err := unmarshal((*plain)(r)); err != nil {
		return err
	}
	return checkOverflow(r.XXX, "redis")
}

// Engine describes the dispatch engine
type Engine struct {
	// Number of workers running fetch and process pipelines
	Workers int `yaml:"workers,omitempty"`

	// Maximum duration of a single network fetch
	FetchTimeout Duration `yaml:"fetch_timeout,omitempty"`

	// Number of retries of a failed fetch when the failure is temporary
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Initial delay between retries, doubled on every attempt
	RetryBackoff Duration `yaml:"retry_backoff,omitempty"`

	// Maximum number of outgoing fetches per second
	// if omitted or zero - no limits would be applied
	MaxFetchRate float64 `yaml:"max_fetch_rate,omitempty"`

	// User-Agent header set on requests that don't carry one
	UserAgent string `yaml:"user_agent,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (e *Engine) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*e = defaultEngine
	type plain Engine
	if err := unmarshal((*plain)(e)); err != nil {
		return err
	}
	if e.Workers <= 0 {
		return fmt.Errorf("field `workers` must be positive")
	}
	if e.FetchTimeout <= 0 {
		return fmt.Errorf("field `fetch_timeout` must be positive")
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("field `max_retries` cannot be negative")
	}
	if e.MaxFetchRate < 0 {
		return fmt.Errorf("field `max_fetch_rate` cannot be negative")
	}
	return checkOverflow(e.XXX, "engine")
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	c := defaultConfig
	return &c
}

// LoadFile loads and validates configuration from provided .yml file
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkOverflow(m map[string]interface{}, ctx string) error {
	if len(m) > 0 {
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		return fmt.Errorf("unknown fields in %s: %s", ctx, strings.Join(keys, ", "))
	}
	return nil
}
