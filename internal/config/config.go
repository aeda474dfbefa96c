package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/ouro/internal/keyring"
)

type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Mode     string         `yaml:"mode" validate:"oneof=interactive autonomous"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Memory   MemoryConfig   `yaml:"memory"`
	Governor GovernorConfig `yaml:"governor"`
	Engine   EngineConfig   `yaml:"engine"`
	Channels ChannelsConfig `yaml:"channels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type OracleConfig struct {
	Provider     string        `yaml:"provider" validate:"oneof=openrouter openai anthropic ollama"`
	Model        string        `yaml:"model" validate:"required"`
	SummaryModel string        `yaml:"summary_model"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	MaxTokens    int           `yaml:"max_tokens" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	InputPrice   float64       `yaml:"input_price" validate:"gte=0"`  // USD per million tokens
	OutputPrice  float64       `yaml:"output_price" validate:"gte=0"` // USD per million tokens
}

// MemoryConfig sizes history compaction. HardCap bounds the persisted
// conversation file, not the in-memory history.
type MemoryConfig struct {
	Threshold        int    `yaml:"threshold" validate:"gt=0"`
	Batch            int    `yaml:"batch" validate:"gt=0,ltfield=Threshold"`
	HardCap          int    `yaml:"hard_cap" validate:"gt=0"`
	ConversationFile string `yaml:"conversation_file" validate:"required"`
	ArchiveFile      string `yaml:"archive_file" validate:"required"`
	Extract          bool   `yaml:"extract"`
}

type GovernorConfig struct {
	GuardedFile     string   `yaml:"guarded_file"`
	BackupDir       string   `yaml:"backup_dir" validate:"required"`
	Keep            int      `yaml:"keep" validate:"gt=0"`
	RequiredSymbols []string `yaml:"required_symbols"`
	ValidateCommand []string `yaml:"validate_command"`
	RebuildCommand  []string `yaml:"rebuild_command"`
}

type EngineConfig struct {
	MaxDepth         int           `yaml:"max_depth" validate:"gt=0"`
	IdleWait         time.Duration `yaml:"idle_wait" validate:"gt=0"`
	StateFile        string        `yaml:"state_file" validate:"required"`
	HeartbeatFile    string        `yaml:"heartbeat_file"`
	SystemPromptFile string        `yaml:"system_prompt_file"`
	DreamFile        string        `yaml:"dream_file"`
	Workdir          string        `yaml:"workdir"`
}

type ChannelsConfig struct {
	Console  bool           `yaml:"console"`
	Telegram TelegramConfig `yaml:"telegram"`
	Mentions MentionsConfig `yaml:"mentions"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Token        string        `yaml:"token"`
	AllowedChats []int64       `yaml:"allowed_chats"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

type MentionsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	ReplyURL string        `yaml:"reply_url" validate:"omitempty,url"`
	Token    string        `yaml:"token"`
	Interval time.Duration `yaml:"interval"`

	// Mentions by these authors are recorded but never wake the agent.
	IgnoreAuthors []string `yaml:"ignore_authors"`
}

type ScheduleConfig struct {
	RemindersFile string        `yaml:"reminders_file"`
	TasksFile     string        `yaml:"tasks_file"`
	Interval      time.Duration `yaml:"interval"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
	Secret  string `yaml:"secret"`
}

type LoggingConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// Overlay decodes the YAML file at path on top of c. A missing file is not an error.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from OURO_* variables and the provider-specific
// key variables.
func (c *Config) ApplyEnv() {
	setString(&c.DataDir, "OURO_DATA_DIR")
	setString(&c.Mode, "OURO_MODE")
	setString(&c.Oracle.Provider, "OURO_PROVIDER")
	setString(&c.Oracle.Model, "OURO_MODEL")
	setString(&c.Oracle.SummaryModel, "OURO_SUMMARY_MODEL")
	setString(&c.Oracle.BaseURL, "OURO_BASE_URL")
	setString(&c.Governor.GuardedFile, "OURO_GUARDED_FILE")
	setString(&c.Logging.Level, "OURO_LOG_LEVEL")
	setString(&c.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&c.Channels.Telegram.Token, "OURO_TELEGRAM_TOKEN")
	setString(&c.Channels.Webhook.Secret, "OURO_WEBHOOK_SECRET")
	setString(&c.Channels.Mentions.Token, "OURO_MENTIONS_TOKEN")

	if c.Oracle.APIKey == "" {
		switch c.Oracle.Provider {
		case "openrouter":
			setString(&c.Oracle.APIKey, "OPENROUTER_API_KEY")
		case "openai":
			setString(&c.Oracle.APIKey, "OPENAI_API_KEY")
		case "anthropic":
			setString(&c.Oracle.APIKey, "ANTHROPIC_API_KEY")
		}
	}
	setString(&c.Oracle.APIKey, "OURO_API_KEY")

	if v := os.Getenv("OURO_TELEGRAM_CHATS"); v != "" {
		c.Channels.Telegram.AllowedChats = c.Channels.Telegram.AllowedChats[:0]
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err == nil {
				c.Channels.Telegram.AllowedChats = append(c.Channels.Telegram.AllowedChats, id)
			}
		}
	}
}

// ResolveSecrets fills empty secrets from the OS keychain.
func (c *Config) ResolveSecrets() {
	c.Oracle.APIKey = keyring.Lookup("api-key", c.Oracle.APIKey)
	if c.Channels.Telegram.Enabled {
		c.Channels.Telegram.Token = keyring.Lookup("telegram-token", c.Channels.Telegram.Token)
	}
	if c.Channels.Webhook.Enabled {
		c.Channels.Webhook.Secret = keyring.Lookup("webhook-secret", c.Channels.Webhook.Secret)
	}
	if c.Channels.Mentions.Enabled {
		c.Channels.Mentions.Token = keyring.Lookup("mentions-token", c.Channels.Mentions.Token)
	}
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Path resolves p against the data directory. Absolute paths and "" are
// returned unchanged.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// SummaryModel returns the model used for compaction summaries.
func (c *Config) SummaryModel() string {
	if c.Oracle.SummaryModel != "" {
		return c.Oracle.SummaryModel
	}
	return c.Oracle.Model
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
