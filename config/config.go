// Package config loads service settings from a .env file, the process
// environment and an optional YAML overlay, in that order of precedence
// (later wins, except that .env never overrides a variable already set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v2"

	"github.com/xiaomayi-ant/insight-agent/chart"
	"github.com/xiaomayi-ant/insight-agent/graph/model/anthropic"
	"github.com/xiaomayi-ant/insight-agent/graph/model/google"
	"github.com/xiaomayi-ant/insight-agent/graph/model/openai"
	"github.com/xiaomayi-ant/insight-agent/store"
	"github.com/xiaomayi-ant/insight-agent/vikingdb"
	"github.com/xiaomayi-ant/insight-agent/workflow"
)

// ErrMissing marks a required setting that was not provided.
var ErrMissing = errors.New("missing required setting")

// DashScopeBaseURL is the endpoint used with a DashScope key.
const DashScopeBaseURL = openai.DashScopeBaseURL

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Settings is the full service configuration.
type Settings struct {
	VikingDB    VikingDB    `yaml:"vikingdb"`
	LLM         LLM         `yaml:"llm"`
	MySQL       MySQL       `yaml:"mysql"`
	Structurize Structurize `yaml:"structurize"`
	Redis       Redis       `yaml:"redis"`
	Chart       Chart       `yaml:"chart"`
	Server      Server      `yaml:"server"`
	Log         Log         `yaml:"log"`

	// SQLitePath replaces MySQL as the row source when set.
	SQLitePath string `yaml:"sqlite_path"`

	AggregateMinCount int  `yaml:"aggregate_min_count"`
	OTelEnabled       bool `yaml:"otel_enabled"`
}

type VikingDB struct {
	AccessKey             string        `yaml:"access_key"`
	SecretKey             string        `yaml:"secret_key"`
	Host                  string        `yaml:"host"`
	Region                string        `yaml:"region"`
	Service               string        `yaml:"service"`
	Timeout               time.Duration `yaml:"timeout"`
	Collection            string        `yaml:"collection"`
	Index                 string        `yaml:"index"`
	EnableInfluenceFilter bool          `yaml:"enable_influence_filter"`
	NeedInstruction       bool          `yaml:"need_instruction"`
	Limit                 int           `yaml:"limit"`
	OutputFields          []string      `yaml:"output_fields"`
}

type LLM struct {
	Provider string `yaml:"provider"`

	// APIKey and BaseURL serve the openai provider, which also covers
	// DashScope's compatible endpoint.
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	GoogleAPIKey    string `yaml:"google_api_key"`
	GoogleModel     string `yaml:"google_model"`
}

type MySQL struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
	Table    string `yaml:"table"`
	MaxIn    int    `yaml:"max_in"`
	MaxRows  int    `yaml:"max_rows"`
}

type Structurize struct {
	Enabled          bool          `yaml:"enabled"`
	Concurrency      int           `yaml:"concurrency"`
	Timeout          time.Duration `yaml:"timeout"`
	DegradeThreshold float64       `yaml:"degrade_threshold"`
}

type Redis struct {
	// Addr enables the search cache when set.
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type Chart struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Shorten bool   `yaml:"shorten"`
}

type Server struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Defaults returns the settings used for every key left unset.
func Defaults() Settings {
	return Settings{
		VikingDB: VikingDB{
			Region:                "cn-beijing",
			Service:               "vikingdb",
			Timeout:               60 * time.Second,
			EnableInfluenceFilter: true,
			NeedInstruction:       true,
			Limit:                 10,
			OutputFields:          append([]string(nil), vikingdb.DefaultOutputFields...),
		},
		LLM: LLM{
			Provider:       ProviderOpenAI,
			Model:          openai.DefaultModel,
			AnthropicModel: anthropic.DefaultModel,
			GoogleModel:    google.DefaultModel,
		},
		MySQL: MySQL{
			Port:    3306,
			Charset: "utf8mb4",
			Table:   store.DefaultTable,
			MaxIn:   100,
			MaxRows: 5000,
		},
		Structurize: Structurize{
			Enabled:          true,
			Concurrency:      5,
			Timeout:          30 * time.Second,
			DegradeThreshold: 0.5,
		},
		Redis:             Redis{TTL: 300 * time.Second},
		Chart:             Chart{Enabled: true, BaseURL: chart.DefaultBaseURL},
		Server:            Server{Addr: ":8000"},
		Log:               Log{Level: "info", Format: "text", File: "logs/app.log"},
		AggregateMinCount: 2,
	}
}

// Load reads .env (TTES_ENV_FILE, default ".env"), the environment and
// the YAML file named by CONFIG_FILE, then validates the result.
func Load() (Settings, error) {
	envFile := os.Getenv("TTES_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	s, err := FromEnv(os.LookupEnv)
	if err != nil {
		return s, err
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := s.Overlay(path); err != nil {
			return s, err
		}
	}
	return s, s.Validate()
}

// FromEnv builds Settings from lookup over Defaults. Malformed values
// are reported together.
func FromEnv(lookup func(string) (string, bool)) (Settings, error) {
	e := &env{lookup: lookup}
	s := Defaults()

	v := &s.VikingDB
	e.str("VIKINGDB_AK", &v.AccessKey)
	e.str("VIKINGDB_SK", &v.SecretKey)
	e.str("VIKINGDB_HOST", &v.Host)
	e.str("VIKINGDB_REGION", &v.Region)
	e.str("VIKINGDB_SERVICE", &v.Service)
	e.seconds("VIKINGDB_TIMEOUT_S", &v.Timeout)
	e.str("VIKINGDB_COLLECTION_NAME", &v.Collection)
	e.str("VIKINGDB_INDEX_NAME", &v.Index)
	e.boolean("VIKINGDB_ENABLE_INFLUENCE_FILTER", &v.EnableInfluenceFilter)
	e.boolean("VIKINGDB_NEED_INSTRUCTION", &v.NeedInstruction)
	e.integer("VIKINGDB_LIMIT", &v.Limit)
	e.list("VKDB_AGENT_OUTPUT_FIELDS", &v.OutputFields)
	if v.Index == "" {
		v.Index = v.Collection
	}

	l := &s.LLM
	e.str("LLM_PROVIDER", &l.Provider)
	l.Provider = strings.ToLower(l.Provider)
	e.str("OPENAI_API_KEY", &l.APIKey)
	if e.str("DASHSCOPE_API_KEY", &l.APIKey) {
		l.BaseURL = DashScopeBaseURL
	}
	e.str("LLM_BASE_URL", &l.BaseURL)
	e.str("QWEN_MODEL", &l.Model)
	e.float("QWEN_TEMPERATURE", &l.Temperature)
	e.str("ANTHROPIC_API_KEY", &l.AnthropicAPIKey)
	e.str("ANTHROPIC_MODEL", &l.AnthropicModel)
	e.str("GOOGLE_API_KEY", &l.GoogleAPIKey)
	e.str("GOOGLE_MODEL", &l.GoogleModel)

	m := &s.MySQL
	e.str("MYSQL_HOST", &m.Host)
	e.integer("MYSQL_PORT", &m.Port)
	e.str("MYSQL_USER", &m.User)
	e.str("MYSQL_PASSWORD", &m.Password)
	e.str("MYSQL_DB", &m.Database)
	e.str("MYSQL_CHARSET", &m.Charset)
	e.str("MYSQL_TABLE", &m.Table)
	e.integer("MYSQL_MAX_IN", &m.MaxIn)
	e.integer("MYSQL_MAX_ROWS", &m.MaxRows)
	e.str("SQLITE_PATH", &s.SQLitePath)

	st := &s.Structurize
	e.boolean("STRUCTURIZE_ENABLED", &st.Enabled)
	e.integer("STRUCTURIZE_CONCURRENCY", &st.Concurrency)
	e.seconds("STRUCTURIZE_TIMEOUT_S", &st.Timeout)
	e.float("STRUCTURIZE_DEGRADE_THRESHOLD", &st.DegradeThreshold)
	e.integer("AGGREGATE_MIN_COUNT", &s.AggregateMinCount)

	e.str("REDIS_ADDR", &s.Redis.Addr)
	e.str("REDIS_PASSWORD", &s.Redis.Password)
	e.integer("REDIS_DB", &s.Redis.DB)
	e.seconds("SEARCH_CACHE_TTL_S", &s.Redis.TTL)

	e.boolean("CHART_ENABLED", &s.Chart.Enabled)
	e.str("QUICKCHART_URL", &s.Chart.BaseURL)
	e.boolean("QUICKCHART_SHORTEN", &s.Chart.Shorten)

	e.str("HTTP_ADDR", &s.Server.Addr)
	e.list("CORS_ORIGINS", &s.Server.CORSOrigins)

	e.str("LOG_LEVEL", &s.Log.Level)
	e.str("LOG_FORMAT", &s.Log.Format)
	e.str("LOG_FILE", &s.Log.File)
	e.boolean("OTEL_ENABLED", &s.OTelEnabled)

	return s, errors.Join(e.errs...)
}

// Overlay merges the YAML file at path over s. Keys absent from the file
// keep their current values.
func (s *Settings) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if s.VikingDB.Index == "" {
		s.VikingDB.Index = s.VikingDB.Collection
	}
	return nil
}

// Validate reports every missing or out-of-range setting at once.
func (s Settings) Validate() error {
	var errs []error
	missing := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, key))
		}
	}

	missing("VIKINGDB_AK", s.VikingDB.AccessKey)
	missing("VIKINGDB_SK", s.VikingDB.SecretKey)
	missing("VIKINGDB_HOST", s.VikingDB.Host)
	missing("VIKINGDB_COLLECTION_NAME", s.VikingDB.Collection)

	switch s.LLM.Provider {
	case ProviderOpenAI:
		missing("DASHSCOPE_API_KEY or OPENAI_API_KEY", s.LLM.APIKey)
	case ProviderAnthropic:
		missing("ANTHROPIC_API_KEY", s.LLM.AnthropicAPIKey)
	case ProviderGoogle:
		missing("GOOGLE_API_KEY", s.LLM.GoogleAPIKey)
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER: unknown provider %q", s.LLM.Provider))
	}

	if s.SQLitePath == "" {
		missing("MYSQL_HOST", s.MySQL.Host)
		missing("MYSQL_USER", s.MySQL.User)
		missing("MYSQL_DB", s.MySQL.Database)
	}

	if t := s.Structurize.DegradeThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("STRUCTURIZE_DEGRADE_THRESHOLD: %v is outside [0, 1]", t))
	}
	if s.Structurize.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("STRUCTURIZE_CONCURRENCY: must be at least 1"))
	}
	return errors.Join(errs...)
}

// VikingDBConfig is the search client configuration.
func (s Settings) VikingDBConfig() vikingdb.Config {
	v := s.VikingDB
	return vikingdb.Config{
		AccessKey:             v.AccessKey,
		SecretKey:             v.SecretKey,
		Host:                  v.Host,
		Region:                v.Region,
		Service:               v.Service,
		Timeout:               v.Timeout,
		Collection:            v.Collection,
		Index:                 v.Index,
		EnableInfluenceFilter: v.EnableInfluenceFilter,
		NeedInstruction:       v.NeedInstruction,
		Limit:                 v.Limit,
		OutputFields:          v.OutputFields,
	}
}

func (s Settings) MySQLConfig() store.MySQLConfig {
	return store.MySQLConfig{
		Host:     s.MySQL.Host,
		Port:     s.MySQL.Port,
		User:     s.MySQL.User,
		Password: s.MySQL.Password,
		Database: s.MySQL.Database,
		Charset:  s.MySQL.Charset,
	}
}

func (s Settings) ChartConfig() chart.Config {
	return chart.Config{BaseURL: s.Chart.BaseURL, Shorten: s.Chart.Shorten}
}

// WorkflowConfig is the pipeline configuration.
func (s Settings) WorkflowConfig() workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.OutputFields = s.VikingDB.OutputFields
	cfg.Table = s.MySQL.Table
	cfg.MaxIn = s.MySQL.MaxIn
	cfg.MaxRows = s.MySQL.MaxRows
	cfg.StructurizeEnabled = s.Structurize.Enabled
	cfg.Concurrency = s.Structurize.Concurrency
	cfg.ItemTimeout = s.Structurize.Timeout
	cfg.DegradeThreshold = s.Structurize.DegradeThreshold
	cfg.MinCount = s.AggregateMinCount
	return cfg
}

// env reads typed values, collecting parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

// str sets *dst when key is set and non-blank, reporting whether it did.
func (e *env) str(key string, dst *string) bool {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return false
	}
	*dst = strings.TrimSpace(v)
	return true
}

func (e *env) integer(key string, dst *int) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *env) float(key string, dst *float64) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (e *env) seconds(key string, dst *time.Duration) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = time.Duration(f * float64(time.Second))
}

// boolean accepts strconv.ParseBool forms plus yes/no and on/off.
func (e *env) boolean(key string, dst *bool) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		*dst = true
		return
	case "no", "off":
		*dst = false
		return
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

// list splits a comma-separated value, dropping blanks.
func (e *env) list(key string, dst *[]string) {
	var raw string
	if !e.str(key, &raw) {
		return
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
