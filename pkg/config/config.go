// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < --config file < env < flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BEAMFLOW_"

// Config holds all beamflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Analysis  AnalysisConfig  `yaml:"analysis"`
	Source    SourceConfig    `yaml:"source"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reference ReferenceConfig `yaml:"reference"`
}

// AnalysisConfig controls how events are interpreted.
type AnalysisConfig struct {
	TransitTypes    []string `yaml:"transit_types" validate:"min=1,dive,required"`
	CarTypes        []string `yaml:"car_types"`
	BusType         string   `yaml:"bus_type" validate:"required"`
	SubwayType      string   `yaml:"subway_type" validate:"required"`
	WalkerThreshold float64  `yaml:"walker_threshold" validate:"gt=0"`
	Engine          string   `yaml:"engine" validate:"oneof=memory duckdb"`
	ErrorPolicy     string   `yaml:"error_policy" validate:"oneof=skip strict"`
	MaxErrors       int64    `yaml:"max_errors" validate:"gte=0"`
	Concurrency     int      `yaml:"concurrency" validate:"gte=1,lte=64"`

	// SplitWalk divides realized walk shares into real and fake walkers.
	SplitWalk bool `yaml:"split_walk"`

	// LogExpected are patterns of known beamLog.out noise, in addition to
	// the built-in ones. LogKeywords are counted wherever they appear.
	LogExpected      []string `yaml:"log_expected"`
	LogKeywords      []string `yaml:"log_keywords"`
	LogMaxUnexpected int      `yaml:"log_max_unexpected" validate:"gte=0"`
}

// SourceConfig controls where run artifacts are read from.
type SourceConfig struct {
	S3Region     string        `yaml:"s3_region"`
	S3Endpoint   string        `yaml:"s3_endpoint" validate:"omitempty,url"`
	S3PathStyle  bool          `yaml:"s3_path_style"`
	S3AccessKey  string        `yaml:"s3_access_key"`
	S3SecretKey  string        `yaml:"s3_secret_key"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" validate:"gte=0"`
	DownloadDir  string        `yaml:"download_dir"`
	ShowProgress bool          `yaml:"show_progress"`

	// Remote opens are retried RetryAttempts times in total. After
	// BreakerFailures consecutive failures remote reads pause for
	// BreakerCooldown.
	RetryAttempts   int           `yaml:"retry_attempts" validate:"gte=0"`
	BreakerFailures int           `yaml:"breaker_failures" validate:"gte=0"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"gte=0"`
}

// CacheConfig controls where computed tables are kept.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend" validate:"oneof=local s3 redis multi"`
	Dir           string        `yaml:"dir" validate:"required_if=Backend local,required_if=Backend multi"`
	S3Bucket      string        `yaml:"s3_bucket" validate:"required_if=Backend s3"`
	S3Prefix      string        `yaml:"s3_prefix"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Backend redis,required_if=Backend multi"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	RedisTTL      time.Duration `yaml:"redis_ttl" validate:"gte=0"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName   string  `yaml:"service_name"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio" validate:"gte=0,lte=1"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ReferenceConfig holds reference data analyses compare against.
type ReferenceConfig struct {
	// BenchmarkRun is the run whose realized mode choice is the benchmark.
	BenchmarkRun string `yaml:"benchmark_run"`
	// BenchmarkShares overrides BenchmarkRun with fixed shares.
	BenchmarkShares map[string]float64 `yaml:"benchmark_shares"`
	// BaseRun is the run ridership changes are measured against.
	BaseRun string `yaml:"base_run"`
	// LinkGroups names link sets (bridges, tunnels) counted as crossings.
	// Empty means the built-in New York groups.
	LinkGroups map[string][]uint32 `yaml:"link_groups"`
	// TripFiles are GTFS trips tables or feeds for route lookups.
	TripFiles []string `yaml:"trip_files"`
	// RidershipBaselines are observed ridership changes per mode, shown
	// next to simulated changes.
	RidershipBaselines []RidershipBaseline `yaml:"ridership_baselines" validate:"dive"`
	// Population is the number of simulated persons, for per-person
	// statistics over people without events. 0 means only people seen.
	Population int `yaml:"population" validate:"gte=0"`
}

// RidershipBaseline is one observed ridership change, in percent.
type RidershipBaseline struct {
	Name    string  `yaml:"name" validate:"required"`
	Subway  float64 `yaml:"subway"`
	Bus     float64 `yaml:"bus"`
	Rail    float64 `yaml:"rail"`
	Car     float64 `yaml:"car"`
	Transit float64 `yaml:"transit"`
}

// MTABaselines are the 2020 ridership changes published on mta.info.
var MTABaselines = []RidershipBaseline{
	{Name: "09 2020 mta.info", Subway: -72.90, Bus: -54.00, Rail: -78.86, Car: -12.90, Transit: -68.42},
	{Name: "08 2020 mta.info", Subway: -75.50, Bus: -40.00, Rail: -83.32, Car: -8.90, Transit: -66.68},
	{Name: "07 2020 mta.info", Subway: -79.60, Bus: -49.00, Rail: -83.91, Car: -16.20, Transit: -71.90},
	{Name: "06 2020 mta.info", Subway: -87.60, Bus: -66.00, Rail: -90.95, Car: -37.40, Transit: -82.17},
	{Name: "05 2020 mta.info", Subway: -90.70, Bus: -75.00, Rail: -95.00, Car: -52.30, Transit: -86.89},
	{Name: "04 2020 mta.info", Subway: -90.60, Bus: -77.00, Rail: -96.13, Car: -63.20, Transit: -87.47},
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	beamflowDir := filepath.Join(homeDir, ".beamflow")

	return &Config{
		Version: 1,
		Analysis: AnalysisConfig{
			TransitTypes:    []string{"BUS-DEFAULT", "RAIL-DEFAULT", "SUBWAY-DEFAULT"},
			CarTypes:        []string{"Car", "Car-rh-only", "PHEV", "BUS-DEFAULT"},
			BusType:         "BUS-DEFAULT",
			SubwayType:      "SUBWAY-DEFAULT",
			WalkerThreshold: 2000,
			Engine:          "memory",
			ErrorPolicy:     "skip",
			Concurrency:     4,

			LogMaxUnexpected: 200,
		},
		Source: SourceConfig{
			S3Region:     "us-east-2",
			HTTPTimeout:  10 * time.Minute,
			DownloadDir:  filepath.Join(os.TempDir(), "beamflow"),
			ShowProgress: true,

			RetryAttempts:   4,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:     true,
			Backend:     "local",
			Dir:         filepath.Join(beamflowDir, "cache"),
			RedisPrefix: "beamflow:cache:",
			RedisTTL:    7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			ServiceName:   "beamflow",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Reference: ReferenceConfig{
			RidershipBaselines: append([]RidershipBaseline(nil), MTABaselines...),
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// SearchPaths returns config file paths in priority order.
func SearchPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/beamflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".beamflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".beamflow.yaml"))
	}
	return paths
}

// Load reads .env, the search paths and explicit (when set, it must
// exist), then applies environment overrides and validates.
func (m *Manager) Load(explicit string) error {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	paths := SearchPaths()
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return bferrors.FileNotFound(explicit)
		}
		paths = append(paths, explicit)
	}
	return m.LoadFiles(paths...)
}

// LoadFiles starts from defaults and merges each existing file in order,
// then applies environment overrides and validates.
func (m *Manager) LoadFiles(paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	if err := applyEnv(m.config); err != nil {
		return err
	}
	return Validate(m.config)
}

// loadFile decodes path over the current config. Keys the file omits keep
// their current values.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return bferrors.Wrap(err, bferrors.CodeInvalidFormat, "parse config").With("path", path)
	}
	return nil
}

// applyEnv applies BEAMFLOW_* overrides.
func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = splitList(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return envError(name, v)
			}
			*dst = b
		}
		return nil
	}

	str("ENGINE", &cfg.Analysis.Engine)
	str("ERROR_POLICY", &cfg.Analysis.ErrorPolicy)
	list("TRANSIT_TYPES", &cfg.Analysis.TransitTypes)
	list("CAR_TYPES", &cfg.Analysis.CarTypes)
	if v := os.Getenv(EnvPrefix + "WALKER_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("WALKER_THRESHOLD", v)
		}
		cfg.Analysis.WalkerThreshold = f
	}

	if err := boolean("SPLIT_WALK", &cfg.Analysis.SplitWalk); err != nil {
		return err
	}

	str("S3_REGION", &cfg.Source.S3Region)
	str("S3_ENDPOINT", &cfg.Source.S3Endpoint)
	str("DOWNLOAD_DIR", &cfg.Source.DownloadDir)
	if err := boolean("S3_PATH_STYLE", &cfg.Source.S3PathStyle); err != nil {
		return err
	}

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("CACHE_DIR", &cfg.Cache.Dir)
	str("CACHE_S3_BUCKET", &cfg.Cache.S3Bucket)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	if err := boolean("CACHE", &cfg.Cache.Enabled); err != nil {
		return err
	}

	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	if err := boolean("TELEMETRY", &cfg.Telemetry.Enabled); err != nil {
		return err
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	str("BENCHMARK_RUN", &cfg.Reference.BenchmarkRun)
	str("BASE_RUN", &cfg.Reference.BaseRun)
	return nil
}

func envError(name, value string) error {
	return bferrors.New(bferrors.CodeValidationFailed, "invalid environment override").
		With("variable", EnvPrefix+name).With("value", value)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return bferrors.Wrap(err, bferrors.CodeValidationFailed, "invalid configuration")
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Marshal renders the current configuration as YAML.
func (m *Manager) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}

// Save writes the current config to the user config file.
func (m *Manager) Save() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".beamflow")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", err
	}
	data, err := m.Marshal()
	if err != nil {
		return "", err
	}
	path := filepath.Join(configDir, "config.yaml")
	return path, os.WriteFile(path, data, 0o644)
}
