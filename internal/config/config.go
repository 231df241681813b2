package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanmux/scanmux/internal/application/runs"
	"github.com/scanmux/scanmux/internal/dedup"
	"github.com/scanmux/scanmux/internal/domain/tools"
)

// ToolConfig is one scanner entry inside a profile. Command and
// extraArgs may carry {target} and {output} placeholders.
type ToolConfig struct {
	Name      string   `yaml:"name"`
	Command   []string `yaml:"command"`
	Output    string   `yaml:"output"`
	Version   string   `yaml:"version"`
	Timeout   string   `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
	ExtraArgs []string `yaml:"extraArgs"`
	Required  bool     `yaml:"required"`
}

type Config struct {
	Server struct {
		Port         int    `yaml:"port"`
		AuthToken    string `yaml:"authToken"`
		RateCapacity int    `yaml:"rateCapacity"`
		RateRefill   int    `yaml:"rateRefill"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql or postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"` // postgres only
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Orchestrator struct {
		// Executor selects how tools are launched: "local" runs host
		// processes, "docker" runs the official scanner containers.
		Executor     string            `yaml:"executor"`
		Images       map[string]string `yaml:"images"` // docker only: tool -> image override
		Workers      int               `yaml:"workers"`
		Timeout      string            `yaml:"timeout"`
		Retries      int               `yaml:"retries"`
		RetryDelay   string            `yaml:"retryDelay"`
		AllowMissing bool              `yaml:"allowMissing"`
		OutputDir    string            `yaml:"outputDir"`
	} `yaml:"orchestrator"`

	Dedup struct {
		SimilarityThreshold float64 `yaml:"similarityThreshold"`
		LineSlack           int     `yaml:"lineSlack"`
	} `yaml:"dedup"`

	AI struct {
		// Model selects the advice model; the API key comes from the
		// OPENAI_API_KEY environment variable.
		Model string `yaml:"model"`
	} `yaml:"ai"`

	Profiles map[string][]ToolConfig `yaml:"profiles"`
}

// Load reads config.yaml and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.Driver != "mysql" && cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q (mysql or postgres)", cfg.Database.Driver)
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Orchestrator.Executor == "" {
		cfg.Orchestrator.Executor = "local"
	}
	if cfg.Orchestrator.Executor != "local" && cfg.Orchestrator.Executor != "docker" {
		return nil, fmt.Errorf("unsupported executor %q (local or docker)", cfg.Orchestrator.Executor)
	}
	if cfg.Orchestrator.OutputDir == "" {
		cfg.Orchestrator.OutputDir = "scan-output"
	}

	if err := cfg.validateProfiles(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validateProfiles() error {
	for name, ts := range c.Profiles {
		if len(ts) == 0 {
			return fmt.Errorf("profile %q has no tools", name)
		}
		for _, t := range ts {
			if t.Name == "" {
				return fmt.Errorf("profile %q: tool with empty name", name)
			}
			if len(t.Command) == 0 {
				return fmt.Errorf("profile %q: tool %q has no command", name, t.Name)
			}
			if t.Timeout != "" {
				if _, err := time.ParseDuration(t.Timeout); err != nil {
					return fmt.Errorf("profile %q: tool %q: bad timeout: %w", name, t.Name, err)
				}
			}
		}
	}
	return nil
}

// MySQLDSN builds the DSN for the mysql driver. parseTime is required
// so DATETIME columns scan into time.Time.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the DSN for the postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// OrchestratorOptions converts the orchestrator section, parsing the
// duration strings.
func (c *Config) OrchestratorOptions() (runs.Options, error) {
	opts := runs.Options{
		Workers:      c.Orchestrator.Workers,
		Retries:      c.Orchestrator.Retries,
		AllowMissing: c.Orchestrator.AllowMissing,
	}
	var err error
	if c.Orchestrator.Timeout != "" {
		if opts.Timeout, err = time.ParseDuration(c.Orchestrator.Timeout); err != nil {
			return opts, fmt.Errorf("orchestrator timeout: %w", err)
		}
	}
	if c.Orchestrator.RetryDelay != "" {
		if opts.RetryDelay, err = time.ParseDuration(c.Orchestrator.RetryDelay); err != nil {
			return opts, fmt.Errorf("orchestrator retryDelay: %w", err)
		}
	}
	return opts, nil
}

// DedupOptions converts the dedup section. Zero values fall back to the
// engine defaults.
func (c *Config) DedupOptions() dedup.Options {
	return dedup.Options{
		SimilarityThreshold: c.Dedup.SimilarityThreshold,
		LineSlack:           c.Dedup.LineSlack,
	}
}

// ToolDefinitions converts every profile into orchestrator definitions.
func (c *Config) ToolDefinitions() (map[string][]tools.Definition, error) {
	out := make(map[string][]tools.Definition, len(c.Profiles))
	for name, ts := range c.Profiles {
		defs := make([]tools.Definition, len(ts))
		for i, t := range ts {
			def := tools.Definition{
				Name:       t.Name,
				Command:    t.Command,
				OutputPath: t.Output,
				Version:    t.Version,
				Retries:    t.Retries,
				ExtraArgs:  t.ExtraArgs,
				Required:   t.Required,
			}
			if t.Timeout != "" {
				d, err := time.ParseDuration(t.Timeout)
				if err != nil {
					return nil, fmt.Errorf("profile %q: tool %q: bad timeout: %w", name, t.Name, err)
				}
				def.Timeout = d
			}
			defs[i] = def
		}
		out[name] = defs
	}
	return out, nil
}
