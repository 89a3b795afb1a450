// Package config loads the screener configuration: a YAML file for non-secret
// settings, environment variables (with optional .env) for secrets and
// endpoint overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stembridge-labs/grant-screening-pipeline/internal/screening"
)

// Org is the organization profile encoded into every classification prompt.
type Org struct {
	Name    string   `yaml:"name"`
	Mission string   `yaml:"mission"`
	State   string   `yaml:"state"`
	Cities  []string `yaml:"cities"`
}

// Database points at the backlog table. The password comes from DB_PASSWORD.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Name     string `yaml:"name"`
	Table    string `yaml:"table"`
	Stage    string `yaml:"stage"`
	Password string `yaml:"-"`
}

// Search configures the directory-site search client. The API key comes from
// SERPAPI_KEY; BaseURL is overridable via SERPAPI_BASE_URL for proxies/testing.
type Search struct {
	PerSourceResults int     `yaml:"per_source_results"`
	RPS              float64 `yaml:"rps"`
	APIKey           string  `yaml:"-"`
	BaseURL          string  `yaml:"-"`
}

// Model configures the hosted classification model. The API key comes from
// GEMINI_API_KEY; GEMINI_MODEL and GEMINI_BASE_URL override name and endpoint.
type Model struct {
	Name           string        `yaml:"name"`
	RPS            float64       `yaml:"rps"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	APIKey         string        `yaml:"-"`
	BaseURL        string        `yaml:"-"`
}

// Sheet identifies the destination spreadsheet. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS (service-account JSON); SHEETS_BASE_URL
// points the client at a mock server.
type Sheet struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet"`
	CredentialsFile string `yaml:"-"`
	BaseURL         string `yaml:"-"`
}

// Screening tunes the classification rules. GrantMin/GrantMax add an optional
// size rule to the checklist when either is set; CustomContext injects one
// extra line into the prompt persona.
type Screening struct {
	GreenThreshold int    `yaml:"green_threshold"`
	GrantMin       int    `yaml:"grant_min"`
	GrantMax       int    `yaml:"grant_max"`
	CustomContext  string `yaml:"custom_context"`
}

type Config struct {
	Org       Org       `yaml:"org"`
	Database  Database  `yaml:"database"`
	Search    Search    `yaml:"search"`
	Model     Model     `yaml:"model"`
	Sheet     Sheet     `yaml:"sheet"`
	Screening Screening `yaml:"screening"`
}

// Requirements selects which config sections a subcommand actually needs, so
// the count-backlog utility does not demand spreadsheet credentials.
type Requirements struct {
	Database bool
	Search   bool
	Model    bool
	Sheet    bool
}

const (
	defaultPort             = 3306
	defaultWorksheet        = "Grant Screening"
	defaultModel            = "gemini-2.5-flash"
	defaultPerSourceResults = 5
	defaultSearchRPS        = 1.0
	defaultModelRPS         = 0.5
	defaultRequestTimeout   = 90 * time.Second
)

// Load reads the YAML file at path, overlays environment variables, and applies
// defaults. A .env file in the working directory is loaded first, best effort.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.overlayEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) overlayEnv() error {
	c.Database.Password = strings.TrimSpace(os.Getenv("DB_PASSWORD"))
	if v := strings.TrimSpace(os.Getenv("DB_HOST")); v != "" {
		c.Database.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT=%q: %w", v, err)
		}
		c.Database.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("DB_USER")); v != "" {
		c.Database.User = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_NAME")); v != "" {
		c.Database.Name = v
	}

	c.Search.APIKey = strings.TrimSpace(os.Getenv("SERPAPI_KEY"))
	c.Search.BaseURL = strings.TrimSpace(os.Getenv("SERPAPI_BASE_URL"))

	c.Model.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	c.Model.BaseURL = strings.TrimSpace(os.Getenv("GEMINI_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		c.Model.Name = v
	}

	c.Sheet.CredentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	c.Sheet.BaseURL = strings.TrimSpace(os.Getenv("SHEETS_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("SPREADSHEET_ID")); v != "" {
		c.Sheet.SpreadsheetID = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = defaultPort
	}
	if strings.TrimSpace(c.Sheet.Worksheet) == "" {
		c.Sheet.Worksheet = defaultWorksheet
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		c.Model.Name = defaultModel
	}
	if c.Model.RequestTimeout <= 0 {
		c.Model.RequestTimeout = defaultRequestTimeout
	}
	if c.Model.RPS == 0 {
		c.Model.RPS = defaultModelRPS
	}
	if c.Search.PerSourceResults <= 0 {
		c.Search.PerSourceResults = defaultPerSourceResults
	}
	if c.Search.RPS == 0 {
		c.Search.RPS = defaultSearchRPS
	}
	if c.Screening.GreenThreshold <= 0 {
		c.Screening.GreenThreshold = screening.DefaultGreenThreshold
	}
}

// Validate reports the first missing setting for the requested sections.
// Validation failures are fatal at startup: no partial run.
func (c *Config) Validate(req Requirements) error {
	if strings.TrimSpace(c.Org.Name) == "" {
		return fmt.Errorf("org.name is required")
	}
	if strings.TrimSpace(c.Org.Mission) == "" {
		return fmt.Errorf("org.mission is required")
	}
	if strings.TrimSpace(c.Org.State) == "" {
		return fmt.Errorf("org.state is required")
	}

	if req.Database {
		switch {
		case strings.TrimSpace(c.Database.Host) == "":
			return fmt.Errorf("database.host is required")
		case strings.TrimSpace(c.Database.User) == "":
			return fmt.Errorf("database.user is required")
		case c.Database.Password == "":
			return fmt.Errorf("DB_PASSWORD is required")
		case strings.TrimSpace(c.Database.Name) == "":
			return fmt.Errorf("database.name is required")
		case strings.TrimSpace(c.Database.Table) == "":
			return fmt.Errorf("database.table is required")
		case strings.TrimSpace(c.Database.Stage) == "":
			return fmt.Errorf("database.stage is required")
		}
	}

	if req.Search && c.Search.APIKey == "" {
		return fmt.Errorf("SERPAPI_KEY is required")
	}

	if req.Model && c.Model.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}

	if req.Sheet {
		if strings.TrimSpace(c.Sheet.SpreadsheetID) == "" {
			return fmt.Errorf("sheet.spreadsheet_id is required")
		}
		// A base URL override (mock server) needs no credentials file.
		if c.Sheet.BaseURL == "" && c.Sheet.CredentialsFile == "" {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS is required")
		}
		if c.Sheet.CredentialsFile != "" {
			if _, err := os.Stat(c.Sheet.CredentialsFile); err != nil {
				return fmt.Errorf("credentials file %s: %w", c.Sheet.CredentialsFile, err)
			}
		}
	}
	return nil
}

// OrgProfile converts the org section into the domain profile type.
func (c *Config) OrgProfile() screening.OrgProfile {
	return screening.OrgProfile{
		Name:    strings.TrimSpace(c.Org.Name),
		Mission: strings.TrimSpace(c.Org.Mission),
		State:   strings.TrimSpace(c.Org.State),
		Cities:  c.Org.Cities,
	}
}
