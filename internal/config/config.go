package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultPath = "crewforge.toml"

	APIKeyEnv = "OPEN_AI_KEY"
	OrgEnv    = "OPEN_AI_ORG"
)

var ErrMissingCredentials = errors.New("missing LLM credentials")

type Config struct {
	Model                string      `toml:"model"`
	Temperature          float64     `toml:"temperature"`
	BaseURL              string      `toml:"base_url"`
	DBPath               string      `toml:"db_path"`
	ContinueOnAgentError bool        `toml:"continue_on_agent_error"`
	Project              Project     `toml:"project"`
	Toolchain            Toolchain   `toml:"toolchain"`
	Testing              TestingConf `toml:"testing"`
	Policy               Policy      `toml:"policy"`
	Path                 string      `toml:"-"`
}

// Project locates the generated web server. SourcePath and SchemaPath are
// relative to Root; TemplatePath is relative to the working directory.
type Project struct {
	Root         string `toml:"root"`
	TemplatePath string `toml:"template_path"`
	SourcePath   string `toml:"source_path"`
	SchemaPath   string `toml:"schema_path"`
}

type Toolchain struct {
	BuildCommand []string `toml:"build_command"`
	RunCommand   []string `toml:"run_command"`
}

type TestingConf struct {
	ServerAddr    string `toml:"server_addr"`
	URLTimeoutMS  int    `toml:"url_timeout_ms"`
	SettleDelayMS int    `toml:"settle_delay_ms"`
	MaxBugRetries int    `toml:"max_bug_retries"`
}

type Policy struct {
	Rules []PolicyRule `toml:"rules"`
}

type PolicyRule struct {
	Agent     string `toml:"agent"`
	Operation string `toml:"operation"`
	Pattern   string `toml:"pattern"`
}

type Credentials struct {
	APIKey       string
	Organization string
}

// Load reads the TOML file at path. A missing file at the default path is
// not an error: the defaults are returned instead.
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if resolved == "" {
		resolved = DefaultPath
	}
	resolved, err := expandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Config{}.withDefaults(toml.MetaData{}), nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	md, err := toml.Decode(string(bytes), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	return cfg.withDefaults(md), nil
}

// withDefaults fills unset fields. Temperature and max_bug_retries accept an
// explicit zero, so md decides whether they were set.
func (c Config) withDefaults(md toml.MetaData) Config {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gpt-4o"
	}
	if !md.IsDefined("temperature") {
		c.Temperature = 0.1
	}
	if c.DBPath == "" {
		c.DBPath = "data/crewforge.db"
	}
	if c.Project.Root == "" {
		c.Project.Root = "web_template"
	}
	if c.Project.TemplatePath == "" {
		c.Project.TemplatePath = "templates/web_server.go.tmpl"
	}
	if c.Project.SourcePath == "" {
		c.Project.SourcePath = "main.go"
	}
	if c.Project.SchemaPath == "" {
		c.Project.SchemaPath = "schemas/api_schema.json"
	}
	if len(c.Toolchain.BuildCommand) == 0 {
		c.Toolchain.BuildCommand = []string{"go", "build", "-o", "bin/server", "."}
	}
	if len(c.Toolchain.RunCommand) == 0 {
		c.Toolchain.RunCommand = []string{"./bin/server"}
	}
	if c.Testing.ServerAddr == "" {
		c.Testing.ServerAddr = "http://localhost:8080"
	}
	if c.Testing.URLTimeoutMS <= 0 {
		c.Testing.URLTimeoutMS = 5000
	}
	if c.Testing.SettleDelayMS <= 0 {
		c.Testing.SettleDelayMS = 5000
	}
	if !md.IsDefined("testing", "max_bug_retries") || c.Testing.MaxBugRetries < 0 {
		c.Testing.MaxBugRetries = 2
	}
	if len(c.Policy.Rules) == 0 {
		c.Policy.Rules = []PolicyRule{
			{Agent: "backend_developer", Operation: "read", Pattern: "**"},
			{Agent: "backend_developer", Operation: "write", Pattern: c.Project.SourcePath},
			{Agent: "backend_developer", Operation: "write", Pattern: c.Project.SchemaPath},
		}
	}
	return c
}

func (c Config) URLTimeout() time.Duration {
	return time.Duration(c.Testing.URLTimeoutMS) * time.Millisecond
}

func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Testing.SettleDelayMS) * time.Millisecond
}

// LoadCredentials reads the API key and organization from the environment,
// after merging envFile (if it exists) into it.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	creds := Credentials{
		APIKey:       strings.TrimSpace(os.Getenv(APIKeyEnv)),
		Organization: strings.TrimSpace(os.Getenv(OrgEnv)),
	}
	var missing []string
	if creds.APIKey == "" {
		missing = append(missing, APIKeyEnv)
	}
	if creds.Organization == "" {
		missing = append(missing, OrgEnv)
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%w: %s not set", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return creds, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(path, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}
