package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Schedule   Schedule   `yaml:"schedule"`
	Quota      Quota      `yaml:"quota"`
	Dedup      Dedup      `yaml:"dedup"`
	Jobs       Jobs       `yaml:"jobs"`
	Sources    Sources    `yaml:"sources"`
	Generation Generation `yaml:"generation"`
	Storage    Storage    `yaml:"storage"`
	Cache      Cache      `yaml:"cache"`
	Kafka      Kafka      `yaml:"kafka"`
	Server     Server     `yaml:"server"`
	Cron       Cron       `yaml:"cron"`
	Logging    Logging    `yaml:"logging"`
}

type Schedule struct {
	Timezone        string `yaml:"timezone"`
	ActiveStartHour int    `yaml:"active_start_hour"`
	ActiveEndHour   int    `yaml:"active_end_hour"`
	Slots           int    `yaml:"slots"`
}

type Quota struct {
	WeekdayLimit int `yaml:"weekday_limit"`
	WeekendLimit int `yaml:"weekend_limit"`
	MonthlyLimit int `yaml:"monthly_limit"`
	RetainDays   int `yaml:"retain_days"`
	RetainMonths int `yaml:"retain_months"`
}

type Dedup struct {
	Threshold float64 `yaml:"threshold"`
}

type Jobs struct {
	StaleAfter       time.Duration `yaml:"stale_after"`
	MaxRetries       int           `yaml:"max_retries"`
	AutoRetry        bool          `yaml:"auto_retry"`
	AutoRetryPerTick int           `yaml:"auto_retry_per_tick"`
}

type Sources struct {
	Trends       TrendsFeed    `yaml:"trends"`
	News         NewsSearch    `yaml:"news"`
	NewsAPI      NewsAPIConfig `yaml:"newsapi"`
	Fetch        Fetch         `yaml:"fetch"`
	SupplyWindow time.Duration `yaml:"supply_window"`
	Retention    time.Duration `yaml:"retention"`
}

type TrendsFeed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// NewsSearch configures related-news lookups. CountQuota charges each
// lookup against the trend quota.
type NewsSearch struct {
	SearchURL    string `yaml:"search_url"`
	MaxLinks     int    `yaml:"max_links"`
	MaxDocuments int    `yaml:"max_documents"`
	CountQuota   bool   `yaml:"count_quota"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Language  string `yaml:"language"`
	DaysBack  int    `yaml:"days_back"`
}

type Fetch struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxChars int           `yaml:"max_chars"`
}

type Generation struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	OllamaURL         string        `yaml:"ollama_url"`
	OpenAIModel       string        `yaml:"openai_model"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	CohereModel       string        `yaml:"cohere_model"`
	CohereAPIKeyEnv   string        `yaml:"cohere_api_key_env"`
	Language          string        `yaml:"language"`
	MaxTokens         int           `yaml:"max_tokens"`
	MinQualityScore   float64       `yaml:"min_quality_score"`
	MinWords          int           `yaml:"min_words"`
	TitleSimilarity   float64       `yaml:"title_similarity"`
	RecentTitleWindow time.Duration `yaml:"recent_title_window"`
}

type Storage struct {
	DataDir       string `yaml:"data_dir"`
	Database      string `yaml:"database"`
	RunStateFile  string `yaml:"run_state_file"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

type Cache struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   Redis         `yaml:"redis"`
}

type Redis struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Key         string `yaml:"key"`
}

type Kafka struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type Server struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type Cron struct {
	Tick    string `yaml:"tick"`
	Refresh string `yaml:"refresh"`
	Cleanup string `yaml:"cleanup"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for trendpress.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "trendpress")
}

// DataDir returns the XDG data directory for trendpress.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "trendpress")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/trendpress/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml", nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'trendpress init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads .env files from the config file's directory and the working
// directory. Variables already set in the environment win.
func LoadEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	seen := map[string]bool{}
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("loading %s: %w", abs, err)
		}
	}
	return nil
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Schedule: Schedule{Timezone: "Europe/Prague", ActiveStartHour: 6, ActiveEndHour: 22, Slots: 24},
		Quota:    Quota{WeekdayLimit: 8, WeekendLimit: 5, MonthlyLimit: 200, RetainDays: 60, RetainMonths: 12},
		Dedup:    Dedup{Threshold: 0.8},
		Jobs:     Jobs{StaleAfter: 10 * time.Minute, MaxRetries: 2, AutoRetry: true, AutoRetryPerTick: 1},
		Sources: Sources{
			Trends: TrendsFeed{Name: "Google Trends"},
			News:   NewsSearch{MaxLinks: 5, MaxDocuments: 3},
			NewsAPI: NewsAPIConfig{
				APIKeyEnv: "NEWSAPI_KEY",
				Language:  "cs",
				DaysBack:  3,
			},
			Fetch:        Fetch{Timeout: 15 * time.Second, MaxChars: 4000},
			SupplyWindow: 48 * time.Hour,
			Retention:    30 * 24 * time.Hour,
		},
		Generation: Generation{
			Provider:          "ollama",
			Model:             "qwen2.5:7b",
			OllamaURL:         "http://localhost:11434",
			OpenAIModel:       "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			CohereModel:       "command-r",
			CohereAPIKeyEnv:   "COHERE_API_KEY",
			Language:          "Czech",
			MaxTokens:         2048,
			MinQualityScore:   0.5,
			MinWords:          150,
			TitleSimilarity:   0.85,
			RecentTitleWindow: 7 * 24 * time.Hour,
		},
		Storage: Storage{Database: "trendpress.db", RunStateFile: "run_state.json", RetryAttempts: 3},
		Cache: Cache{
			Backend: "memory",
			TTL:     6 * time.Hour,
			Redis:   Redis{Addr: "localhost:6379", PasswordEnv: "REDIS_PASSWORD", Key: "trendpress:trends:latest"},
		},
		Kafka:   Kafka{Brokers: []string{"localhost:9092"}, Topic: "trendpress.articles", ClientID: "trendpress"},
		Server:  Server{Host: "127.0.0.1", Port: 8000, APIKeyEnv: "TRENDPRESS_API_KEY"},
		Cron:    Cron{Tick: "*/5 * * * *", Refresh: "0 6,9,12,15,18,21 * * *", Cleanup: "30 3 * * *"},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

func (c *Config) validate() error {
	s := c.Schedule
	if s.ActiveStartHour < 0 || s.ActiveEndHour > 24 || s.ActiveStartHour >= s.ActiveEndHour {
		return fmt.Errorf("invalid active hours %d-%d", s.ActiveStartHour, s.ActiveEndHour)
	}
	if s.Slots <= 0 {
		return fmt.Errorf("schedule.slots must be positive, got %d", s.Slots)
	}
	q := c.Quota
	if q.WeekdayLimit < 0 || q.WeekendLimit < 0 || q.MonthlyLimit < 0 {
		return errors.New("quota limits must not be negative")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite path, relative names resolved in the data dir.
func (c *Config) DatabasePath() string {
	return c.inDataDir(c.Storage.Database)
}

// RunStatePath returns the local run state mirror path.
func (c *Config) RunStatePath() string {
	return c.inDataDir(c.Storage.RunStateFile)
}

func (c *Config) inDataDir(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.GetDataDir(), name)
}

// Secret returns the value of the environment variable named by envName.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
