package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Sheets        SheetsConfig        `mapstructure:"sheets"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Approval      ApprovalConfig      `mapstructure:"approval"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver          string        `mapstructure:"driver"`
	Source          string        `mapstructure:"source"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ChatConfig struct {
	APIBaseURL          string        `mapstructure:"api_base_url"`
	BotToken            string        `mapstructure:"bot_token"`
	GuildID             string        `mapstructure:"guild_id"`
	ChannelID           string        `mapstructure:"channel_id"`
	FallbackChannelName string        `mapstructure:"fallback_channel_name"`
	ApproverRoleID      string        `mapstructure:"approver_role_id"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

type SheetsConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	WorksheetName   string `mapstructure:"worksheet_name"`
	// FallbackFile receives rows as CSV when Sheets is unconfigured or failing.
	FallbackFile string `mapstructure:"fallback_file"`
	// ThreadURLBase prefixes thread refs to form the clickable link column.
	ThreadURLBase string `mapstructure:"thread_url_base"`
}

type LedgerConfig struct {
	APIBaseURL     string        `mapstructure:"api_base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LLMConfig struct {
	APIBaseURL     string        `mapstructure:"api_base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ApprovalConfig struct {
	SLAHours              int           `mapstructure:"sla_hours"`
	ReminderIntervalHours int           `mapstructure:"reminder_interval_hours"`
	MaxReminders          int           `mapstructure:"max_reminders"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	AutoApproveOnFailure  bool          `mapstructure:"auto_approve_on_failure"`
}

type IngestConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- DEFAULTS -----------------

func (c *ApprovalConfig) ApplyDefaults() {
	if c.SLAHours <= 0 {
		c.SLAHours = 24
	}
	if c.ReminderIntervalHours <= 0 {
		c.ReminderIntervalHours = 24
	}
	if c.MaxReminders <= 0 {
		c.MaxReminders = 5
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Minute
	}
}

func (c *IngestConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

func (c *DatabaseConfig) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Source == "" && c.Driver == "sqlite" {
		c.Source = "invoice_states.db"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from environment variables,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "sqlite"),
			Source: getEnv("DATABASE_SOURCE", "invoice_states.db"),
		},
		Chat: ChatConfig{
			APIBaseURL:          getEnv("CHAT_API_BASE_URL", ""),
			BotToken:            getEnv("CHAT_BOT_TOKEN", ""),
			GuildID:             getEnv("CHAT_GUILD_ID", ""),
			ChannelID:           getEnv("CHAT_CHANNEL_ID", ""),
			FallbackChannelName: getEnv("CHAT_FALLBACK_CHANNEL_NAME", ""),
			ApproverRoleID:      getEnv("APPROVING_TEAM_ROLE_ID", ""),
		},
		Sheets: SheetsConfig{
			CredentialsFile: getEnv("GOOGLE_SHEETS_CREDENTIALS_FILE", ""),
			SpreadsheetID:   getEnv("SPREADSHEET_ID", ""),
			WorksheetName:   getEnv("WORKSHEET_NAME", "Invoice"),
			FallbackFile:    getEnv("SHEETS_FALLBACK_FILE", "invoice_mirror.csv"),
			ThreadURLBase:   getEnv("THREAD_URL_BASE", "https://discord.com/channels/@me"),
		},
		Ledger: LedgerConfig{
			APIBaseURL: getEnv("LEDGER_API_BASE_URL", "https://api-sepolia.etherscan.io/api"),
			APIKey:     getEnv("ETHERSCAN_API_KEY", ""),
		},
		LLM: LLMConfig{
			APIBaseURL: getEnv("LLM_API_BASE_URL", ""),
			APIKey:     getEnv("OPENAI_API_KEY", ""),
			Model:      getEnv("LLM_MODEL", "gpt-4"),
		},
		Approval: ApprovalConfig{
			SLAHours:              getEnvAsInt("APPROVAL_SLA_HOURS", 24),
			ReminderIntervalHours: getEnvAsInt("REMINDER_INTERVAL_HOURS", 24),
			MaxReminders:          getEnvAsInt("MAX_REMINDERS", 5),
			AutoApproveOnFailure:  getEnvAsBool("AUTO_APPROVE_ON_FAILURE", true),
		},
		Ingest: IngestConfig{
			Workers:   getEnvAsInt("INGEST_WORKERS", 4),
			QueueSize: getEnvAsInt("INGEST_QUEUE_SIZE", 64),
		},
	}
	cfg.Approval.ApplyDefaults()
	cfg.Ingest.ApplyDefaults()
	cfg.Database.ApplyDefaults()
	return cfg
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}
	if err := c.Chat.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("chat config: %v", err))
	}
	if err := c.Approval.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("approval config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *ChatConfig) Validate() error {
	if c.APIBaseURL != "" {
		if _, err := url.Parse(c.APIBaseURL); err != nil {
			return fmt.Errorf("invalid chat api_base_url: %w", err)
		}
	}
	if c.APIBaseURL != "" && c.ChannelID == "" && c.FallbackChannelName == "" {
		return errors.New("chat channel_id or fallback_channel_name is required when chat is configured")
	}
	return nil
}

func (c *ApprovalConfig) Validate() error {
	if c.SLAHours < 0 {
		return errors.New("sla_hours cannot be negative")
	}
	if c.ReminderIntervalHours < 0 {
		return errors.New("reminder_interval_hours cannot be negative")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}
