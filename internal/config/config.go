package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	SourceAPI   = "api"
	SourceMySQL = "mysql"
)

type Config struct {
	// Appointment source
	Source string      `json:"source" yaml:"source"`
	API    APIConfig   `json:"api" yaml:"api"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`

	// Delivery
	SMTP  SMTPConfig  `json:"smtp" yaml:"smtp"`
	Email EmailConfig `json:"email" yaml:"email"`

	// Persistence
	StateFile     string `json:"state_file" yaml:"state_file"`
	HistoryDB     string `json:"history_db" yaml:"history_db"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`

	// Scheduling
	Schedule string `json:"schedule" yaml:"schedule"`

	// Metrics
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// Operational
	DryRun           bool   `json:"dry_run" yaml:"dry_run"`
	Debug            bool   `json:"debug" yaml:"debug"`
	LogFormat        string `json:"log_format" yaml:"log_format"`
	Once             bool   `json:"-" yaml:"-"`
	CheckConnections bool   `json:"-" yaml:"-"`
	InitDB           bool   `json:"-" yaml:"-"`
	StatsOnly        bool   `json:"-" yaml:"-"`
	Cleanup          bool   `json:"-" yaml:"-"`
	ShowVersion      bool   `json:"-" yaml:"-"`
}

type APIConfig struct {
	Root    string   `json:"root" yaml:"root"` // Easy!Appointments API root, e.g. https://host/index.php/api/v1/
	Key     string   `json:"key" yaml:"key"`   // Bearer token
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type MySQLConfig struct {
	DSN     string   `json:"dsn" yaml:"dsn"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type SMTPConfig struct {
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	TLS      string   `json:"tls" yaml:"tls"` // mandatory, opportunistic or none
	Timeout  Duration `json:"timeout" yaml:"timeout"`
}

type EmailConfig struct {
	From     string `json:"from" yaml:"from"`
	ReplyTo  string `json:"reply_to" yaml:"reply_to"`
	Subject  string `json:"subject" yaml:"subject"`
	Body     string `json:"body" yaml:"body"`
	BodyFile string `json:"body_file" yaml:"body_file"`
	Timezone string `json:"timezone" yaml:"timezone"` // zone used for %APPOINTMENT_DATETIME%
}

// Default returns the built-in configuration before any file, environment
// or flag is applied.
func Default() *Config {
	return &Config{
		Source: SourceAPI,
		API: APIConfig{
			Timeout: Duration{30 * time.Second},
		},
		MySQL: MySQLConfig{
			Timeout: Duration{30 * time.Second},
		},
		SMTP: SMTPConfig{
			Port:    587,
			TLS:     "mandatory",
			Timeout: Duration{30 * time.Second},
		},
		Email: EmailConfig{
			Timezone: "UTC",
		},
		StateFile:     "./reminders.txt",
		HistoryDB:     "./reminders.db",
		RetentionDays: 365,
		Schedule:      "@every 1h",
		LogFormat:     "text",
	}
}

// ParseFlags builds the effective configuration. Precedence, lowest first:
// defaults, config file, .env file, process environment, flags.
func ParseFlags(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("appointment-reminder", flag.ContinueOnError)

	configFile := fs.String("config-file", "", "Path to JSON or YAML configuration file")
	envFile := fs.String("env-file", ".env", "Path to .env file (ignored if missing)")

	var debug, dryRun bool
	var logFormat string
	fs.BoolVar(&debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&debug, "d", false, "Enable debug logging (shorthand)")
	fs.BoolVar(&dryRun, "dry-run", false, "Classify appointments but don't send reminders")
	fs.StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	var once, checkConnections, initDB, statsOnly, cleanup, showVersion bool
	fs.BoolVar(&once, "once", false, "Run a single cycle and exit")
	fs.BoolVar(&checkConnections, "check-connections", false, "Test connections and exit")
	fs.BoolVar(&initDB, "init-db", false, "Initialize history database and exit")
	fs.BoolVar(&statsOnly, "stats-only", false, "Print reminder statistics and exit")
	fs.BoolVar(&cleanup, "cleanup", false, "Clean up old history records and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(*envFile); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Debug = cfg.Debug || debug
	cfg.DryRun = cfg.DryRun || dryRun
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	cfg.Once = once
	cfg.CheckConnections = checkConnections
	cfg.InitDB = initDB
	cfg.StatsOnly = statsOnly
	cfg.Cleanup = cleanup
	cfg.ShowVersion = showVersion

	if err := cfg.loadBodyFile(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads a config file; .yaml and .yml are parsed as YAML,
// anything else as JSON.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (c *Config) SaveToFile(filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies REMINDERS_* variables on top of the current values.
func (c *Config) LoadFromEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"REMINDERS_SOURCE":           &c.Source,
		"REMINDERS_API_ROOT":         &c.API.Root,
		"REMINDERS_API_KEY":          &c.API.Key,
		"REMINDERS_MYSQL_DSN":        &c.MySQL.DSN,
		"REMINDERS_SMTP_HOST":        &c.SMTP.Host,
		"REMINDERS_SMTP_USER":        &c.SMTP.Username,
		"REMINDERS_SMTP_PASS":        &c.SMTP.Password,
		"REMINDERS_SMTP_TLS":         &c.SMTP.TLS,
		"REMINDERS_EMAIL_FROM":       &c.Email.From,
		"REMINDERS_EMAIL_REPLY_TO":   &c.Email.ReplyTo,
		"REMINDERS_EMAIL_SUBJECT":    &c.Email.Subject,
		"REMINDERS_EMAIL_BODY":       &c.Email.Body,
		"REMINDERS_EMAIL_BODY_FILE":  &c.Email.BodyFile,
		"REMINDERS_DISPLAY_TIMEZONE": &c.Email.Timezone,
		"REMINDERS_STATE_FILE":       &c.StateFile,
		"REMINDERS_HISTORY_DB":       &c.HistoryDB,
		"REMINDERS_SCHEDULE":         &c.Schedule,
		"REMINDERS_METRICS_ADDR":     &c.MetricsAddr,
		"REMINDERS_LOG_FORMAT":       &c.LogFormat,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REMINDERS_SMTP_PORT":      &c.SMTP.Port,
		"REMINDERS_RETENTION_DAYS": &c.RetentionDays,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: invalid integer %q", name, v)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"REMINDERS_API_TIMEOUT":   &c.API.Timeout,
		"REMINDERS_MYSQL_TIMEOUT": &c.MySQL.Timeout,
		"REMINDERS_SMTP_TIMEOUT":  &c.SMTP.Timeout,
	}
	for name, dst := range durations {
		if v, ok := lookup(name); ok {
			if err := dst.parse(strings.TrimSpace(v)); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	bools := map[string]*bool{
		"REMINDERS_DRY_RUN": &c.DryRun,
		"REMINDERS_DEBUG":   &c.Debug,
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: invalid boolean %q", name, v)
			}
			*dst = b
		}
	}

	return nil
}

func (c *Config) loadBodyFile() error {
	if c.Email.BodyFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Email.BodyFile)
	if err != nil {
		return fmt.Errorf("failed to read email body file: %w", err)
	}
	c.Email.Body = string(data)
	return nil
}

// needsDelivery reports whether the selected mode talks to SMTP.
func (c *Config) needsDelivery() bool {
	return !c.DryRun && !c.InitDB && !c.StatsOnly && !c.Cleanup
}

// needsSource reports whether the selected mode reads appointments.
func (c *Config) needsSource() bool {
	return !c.InitDB && !c.StatsOnly && !c.Cleanup
}

func (c *Config) Validate() error {
	if c.needsSource() {
		switch c.Source {
		case SourceAPI:
			if c.API.Root == "" {
				return fmt.Errorf("api root is required (REMINDERS_API_ROOT)")
			}
			if !strings.HasPrefix(c.API.Root, "http://") && !strings.HasPrefix(c.API.Root, "https://") {
				return fmt.Errorf("api root must be an http(s) URL")
			}
			if c.API.Key == "" {
				return fmt.Errorf("api key is required (REMINDERS_API_KEY)")
			}
		case SourceMySQL:
			if c.MySQL.DSN == "" {
				return fmt.Errorf("mysql dsn is required (REMINDERS_MYSQL_DSN)")
			}
			if err := c.validateDSN(); err != nil {
				return fmt.Errorf("invalid DSN: %w", err)
			}
		default:
			return fmt.Errorf("source must be %q or %q, got %q", SourceAPI, SourceMySQL, c.Source)
		}
	}

	if c.needsDelivery() {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp host is required (REMINDERS_SMTP_HOST)")
		}
		if c.SMTP.Username == "" || c.SMTP.Password == "" {
			return fmt.Errorf("smtp username and password are required (REMINDERS_SMTP_USER, REMINDERS_SMTP_PASS)")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("smtp port must be 1-65535")
		}
		switch c.SMTP.TLS {
		case "mandatory", "opportunistic", "none":
		default:
			return fmt.Errorf("smtp tls must be mandatory, opportunistic or none")
		}
	}

	if c.needsSource() && !c.CheckConnections {
		if c.Email.From == "" {
			return fmt.Errorf("email from is required (REMINDERS_EMAIL_FROM)")
		}
		if c.Email.Subject == "" {
			return fmt.Errorf("email subject is required (REMINDERS_EMAIL_SUBJECT)")
		}
		if c.Email.Body == "" {
			return fmt.Errorf("email body template is required (REMINDERS_EMAIL_BODY or REMINDERS_EMAIL_BODY_FILE)")
		}
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.CronSchedule(); err != nil {
		return err
	}

	if c.StateFile == "" {
		return fmt.Errorf("state file path is required")
	}
	if c.HistoryDB == "" {
		return fmt.Errorf("history db path is required")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("--log-format must be text or json")
	}

	return nil
}

// CronSchedule parses the configured schedule; descriptors such as
// "@every 1h" and "@hourly" are accepted alongside 5-field expressions.
func (c *Config) CronSchedule() (cron.Schedule, error) {
	sched, err := cron.ParseStandard(c.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	return sched, nil
}

// Location returns the display timezone for reminder emails.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Email.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone %q: %w", c.Email.Timezone, err)
	}
	return loc, nil
}

// validateDSN performs basic validation on the MySQL DSN format
func (c *Config) validateDSN() error {
	dsn := c.MySQL.DSN

	if !strings.Contains(dsn, "@") || !strings.Contains(dsn, "/") {
		return fmt.Errorf("DSN must be in format 'user:password@tcp(host:port)/database?options'")
	}

	if strings.HasPrefix(dsn, "tcp://") {
		return fmt.Errorf("DSN should not include 'tcp://' scheme, use format: 'user:password@tcp(host:port)/database'")
	}

	return nil
}
