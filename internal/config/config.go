package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath  = "config/config.yaml"
	ExampleConfigPath  = "config/config.example.yaml"
	DefaultStateDir    = ".imagent"
	DefaultMaxSteps    = 24
	MaxStepsLimit      = 200
	defaultTableKey    = "default"
	defaultDefaultName = "other_log"
)

var ErrConfigNotFound = errors.New("neither config.yaml nor config.example.yaml were found")

const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"
)

const (
	EscalationOutcome      = "outcome"
	EscalationTriggerWords = "trigger_words"
)

// Config is the on-disk configuration for imagent.
//
// API keys are never stored here; profiles name the key and it is resolved from the
// environment or the secrets file.
type Config struct {
	ActiveModels ActiveModels            `yaml:"active_models"`
	LLMs         map[string]ModelProfile `yaml:"llms"`
	VLMs         map[string]ModelProfile `yaml:"vlms"`

	Categories []Category `yaml:"categories"`

	Database Database `yaml:"database"`
	// DatabaseTables maps a category name to its table; the "default" key catches the rest.
	DatabaseTables map[string]string `yaml:"database_tables"`

	Search     Search     `yaml:"search"`
	Engine     Engine     `yaml:"engine"`
	Extraction Extraction `yaml:"extraction"`
	Images     Images     `yaml:"images"`
	Reminders  Reminders  `yaml:"reminders"`

	// StateDir holds run transcripts and the process lock.
	StateDir    string `yaml:"state_dir"`
	SecretsPath string `yaml:"secrets_path"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level"`
}

type ActiveModels struct {
	LLM string `yaml:"llm"`
	VLM string `yaml:"vlm"`
}

type ModelProfile struct {
	// Provider is one of: "openai" | "openai_compatible" | "anthropic" | "gemini".
	Provider        string   `yaml:"provider"`
	ModelName       string   `yaml:"model_name"`
	APIKeyName      string   `yaml:"api_key_name"`
	APIBaseURL      string   `yaml:"api_base_url"`
	Temperature     *float64 `yaml:"temperature"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
}

type Category struct {
	Name        string   `yaml:"name"`
	Description []string `yaml:"description"`
	Instruction string   `yaml:"instruction"`
	// Table overrides database_tables for this category.
	Table  string  `yaml:"table"`
	Fields []Field `yaml:"fields"`
}

type Field struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Identity    bool   `yaml:"identity"`
	Descriptive bool   `yaml:"descriptive"`
}

type Database struct {
	Path         string `yaml:"path"`
	DefaultTable string `yaml:"default_table"`
}

type Search struct {
	// Provider is "google", "brave" or "disabled".
	Provider     string   `yaml:"provider"`
	APIKeyName   string   `yaml:"api_key_name"`
	EngineIDName string   `yaml:"engine_id_name"`
	Endpoint     string   `yaml:"endpoint"`
	SiteFilters  []string `yaml:"site_filters"`
	Count        int      `yaml:"count"`
}

type Engine struct {
	MaxSteps int `yaml:"max_steps"`
	// Escalation is "outcome" (default) or "trigger_words".
	Escalation string `yaml:"escalation"`
	// Reflection toggles the model review of tool results. Defaults to true.
	Reflection  *bool `yaml:"reflection"`
	Concurrency int   `yaml:"concurrency"`
}

func (e Engine) ReflectionEnabled() bool {
	return e.Reflection == nil || *e.Reflection
}

type Extraction struct {
	BasePrompt     string   `yaml:"base_prompt"`
	EmptySentinels []string `yaml:"empty_sentinels"`
}

type Images struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

type Reminders struct {
	Table       string   `yaml:"table"`
	NameColumn  string   `yaml:"name_column"`
	DateColumn  string   `yaml:"date_column"`
	WindowDays  int      `yaml:"window_days"`
	DateLayouts []string `yaml:"date_layouts"`
}

// Resolve picks the configuration file: explicit when given, else config/config.yaml, else
// the example file. fallback reports that the example file was chosen.
func Resolve(explicit string) (path string, fallback bool, err error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, false, nil
	}
	if fileExists(DefaultConfigPath) {
		return DefaultConfigPath, false, nil
	}
	if fileExists(ExampleConfigPath) {
		return ExampleConfigPath, true, nil
	}
	return "", false, ErrConfigNotFound
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if v := strings.TrimSpace(os.Getenv("DB_PATH")); v != "" {
		cfg.Database.Path = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML strictly and fills defaults. It does not validate.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.ActiveModels.LLM == "" {
		c.ActiveModels.LLM = "deepseek"
	}
	if c.ActiveModels.VLM == "" {
		c.ActiveModels.VLM = "qwen"
	}
	if len(c.LLMs) == 0 {
		c.LLMs = map[string]ModelProfile{"deepseek": {
			Provider:   ProviderOpenAICompatible,
			ModelName:  "deepseek-chat",
			APIKeyName: "DEEPSEEK_API_KEY",
			APIBaseURL: "https://api.deepseek.com/v1",
		}}
	}
	if len(c.VLMs) == 0 {
		c.VLMs = map[string]ModelProfile{"qwen": {
			Provider:   ProviderOpenAICompatible,
			ModelName:  "qwen-vl-max",
			APIKeyName: "DASHSCOPE_API_KEY",
			APIBaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		}}
	}
	if len(c.Categories) == 0 {
		c.Categories = defaultCategories()
	}
	if c.DatabaseTables == nil {
		c.DatabaseTables = map[string]string{
			"活动":            "activity_log",
			"经验":            "experience_log",
			"论文":            "paper_log",
			defaultTableKey: defaultDefaultName,
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = "database.db"
	}
	if c.Database.DefaultTable == "" {
		c.Database.DefaultTable = c.DatabaseTables[defaultTableKey]
	}
	if c.Database.DefaultTable == "" {
		c.Database.DefaultTable = defaultDefaultName
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "google"
	}
	if c.Search.APIKeyName == "" {
		switch c.Search.Provider {
		case "brave":
			c.Search.APIKeyName = "BRAVE_API_KEY"
		default:
			c.Search.APIKeyName = "GOOGLE_API_KEY"
		}
	}
	if c.Search.EngineIDName == "" {
		c.Search.EngineIDName = "GOOGLE_CSE_ID"
	}
	if c.Search.SiteFilters == nil {
		c.Search.SiteFilters = []string{"arxiv.org", "springer.com"}
	}
	if c.Engine.MaxSteps == 0 {
		c.Engine.MaxSteps = DefaultMaxSteps
	}
	if c.Engine.Escalation == "" {
		c.Engine.Escalation = EscalationOutcome
	}
	if c.Engine.Concurrency == 0 {
		c.Engine.Concurrency = 1
	}
	if c.Extraction.EmptySentinels == nil {
		c.Extraction.EmptySentinels = []string{"无明确内容", "无明确描述"}
	}
	if c.Images.Dir == "" {
		c.Images.Dir = "images"
	}
	if len(c.Images.Extensions) == 0 {
		c.Images.Extensions = []string{".png", ".jpg", ".jpeg"}
	}
	if c.Reminders.Table == "" {
		c.Reminders.Table = c.TableFor("活动")
	}
	if c.Reminders.NameColumn == "" {
		c.Reminders.NameColumn = "activity_name"
	}
	if c.Reminders.DateColumn == "" {
		c.Reminders.DateColumn = "activity_date"
	}
	if c.Reminders.WindowDays == 0 {
		c.Reminders.WindowDays = 10
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.SecretsPath == "" {
		c.SecretsPath = filepath.Join(c.StateDir, "secrets.json")
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// TableFor resolves the table records of category are stored in.
func (c *Config) TableFor(category string) string {
	for _, cat := range c.Categories {
		if cat.Name == category && strings.TrimSpace(cat.Table) != "" {
			return strings.TrimSpace(cat.Table)
		}
	}
	if t := strings.TrimSpace(c.DatabaseTables[category]); t != "" {
		return t
	}
	if t := strings.TrimSpace(c.DatabaseTables[defaultTableKey]); t != "" {
		return t
	}
	return strings.TrimSpace(c.Database.DefaultTable)
}

// Tables returns the category→table map for every configured category.
func (c *Config) Tables() map[string]string {
	out := make(map[string]string, len(c.Categories))
	for _, cat := range c.Categories {
		out[cat.Name] = c.TableFor(cat.Name)
	}
	return out
}

func (c *Config) ActiveLLM() (ModelProfile, error) {
	return activeProfile("llms", c.LLMs, c.ActiveModels.LLM)
}

func (c *Config) ActiveVLM() (ModelProfile, error) {
	return activeProfile("vlms", c.VLMs, c.ActiveModels.VLM)
}

func activeProfile(kind string, profiles map[string]ModelProfile, name string) (ModelProfile, error) {
	p, ok := profiles[strings.TrimSpace(name)]
	if !ok {
		return ModelProfile{}, fmt.Errorf("%s has no profile %q", kind, name)
	}
	return p, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	for _, active := range []struct {
		kind     string
		profiles map[string]ModelProfile
		name     string
	}{
		{"llms", c.LLMs, c.ActiveModels.LLM},
		{"vlms", c.VLMs, c.ActiveModels.VLM},
	} {
		p, err := activeProfile(active.kind, active.profiles, active.name)
		if err != nil {
			return fmt.Errorf("active_models: %w", err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s.%s: %w", active.kind, active.name, err)
		}
	}

	if len(c.Categories) == 0 {
		return errors.New("missing categories")
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for i, cat := range c.Categories {
		if err := cat.Validate(); err != nil {
			return fmt.Errorf("categories[%d]: %w", i, err)
		}
		if _, dup := seen[cat.Name]; dup {
			return fmt.Errorf("categories[%d]: duplicate name %q", i, cat.Name)
		}
		seen[cat.Name] = struct{}{}
		if c.TableFor(cat.Name) == "" {
			return fmt.Errorf("categories[%d]: no table for %q", i, cat.Name)
		}
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("missing database.path")
	}

	switch c.Search.Provider {
	case "google", "brave", "disabled":
	default:
		return fmt.Errorf("invalid search.provider %q", c.Search.Provider)
	}
	if c.Engine.MaxSteps < 1 || c.Engine.MaxSteps > MaxStepsLimit {
		return fmt.Errorf("engine.max_steps must be within [1, %d]", MaxStepsLimit)
	}
	switch c.Engine.Escalation {
	case EscalationOutcome, EscalationTriggerWords:
	default:
		return fmt.Errorf("invalid engine.escalation %q", c.Engine.Escalation)
	}
	if c.Engine.Concurrency < 1 {
		return errors.New("engine.concurrency must be >= 1")
	}
	if c.Reminders.WindowDays < 1 {
		return errors.New("reminders.window_days must be >= 1")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

func (p ModelProfile) Validate() error {
	switch p.Provider {
	case ProviderOpenAI, ProviderOpenAICompatible, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider %q", p.Provider)
	}
	if strings.TrimSpace(p.ModelName) == "" {
		return errors.New("missing model_name")
	}
	if strings.TrimSpace(p.APIKeyName) == "" {
		return errors.New("missing api_key_name")
	}
	if p.Provider == ProviderOpenAICompatible && strings.TrimSpace(p.APIBaseURL) == "" {
		return errors.New("openai_compatible requires api_base_url")
	}
	if p.MaxOutputTokens < 0 {
		return errors.New("max_output_tokens must be >= 0")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("missing name")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("%s: no fields", c.Name)
	}
	var names []string
	identity, descriptive := 0, 0
	for _, f := range c.Fields {
		n := strings.TrimSpace(f.Name)
		if n == "" {
			return fmt.Errorf("%s: field missing name", c.Name)
		}
		if slices.Contains(names, n) {
			return fmt.Errorf("%s: duplicate field %q", c.Name, n)
		}
		names = append(names, n)
		if f.Identity {
			identity++
		}
		if f.Descriptive {
			descriptive++
		}
	}
	if identity > 1 || descriptive > 1 {
		return fmt.Errorf("%s: at most one identity and one descriptive field", c.Name)
	}
	return nil
}
