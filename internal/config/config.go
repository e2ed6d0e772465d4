package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models conecta.yml.
type Config struct {
	Portal struct {
		Name string `yaml:"name"`
		City string `yaml:"city"`
	} `yaml:"portal"`
	Categories map[string]struct {
		Description string `yaml:"description"`
	} `yaml:"categories"`
	Priorities []string `yaml:"priorities"`
	Tracker    struct {
		// Statuses shown on the public tracker when no filter is given.
		DefaultStatuses []string `yaml:"default_statuses"`
		PageSize        int      `yaml:"page_size"`
		MaxPageSize     int      `yaml:"max_page_size"`
	} `yaml:"tracker"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var ideaStatuses = []string{"pendente", "em_analise", "aprovada", "rejeitada", "atribuida"}
var projectStatuses = []string{"em_desenvolvimento", "testando", "concluido", "suspenso"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with conecta config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Portal.Name == "" {
		return fmt.Errorf("config.portal.name is required")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("config.categories is required")
	}
	for id := range c.Categories {
		if id == "" {
			return fmt.Errorf("config.categories contains empty category id")
		}
	}
	if len(c.Priorities) == 0 {
		return fmt.Errorf("config.priorities is required")
	}
	for _, p := range c.Priorities {
		if p == "" {
			return fmt.Errorf("config.priorities contains empty priority")
		}
	}
	for _, s := range c.Tracker.DefaultStatuses {
		if !c.KnownStatus(s) {
			return fmt.Errorf("tracker default status %s is not a known status", s)
		}
	}
	if c.Tracker.PageSize < 0 || c.Tracker.MaxPageSize < 0 {
		return fmt.Errorf("tracker page sizes must be non-negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// KnownCategory reports whether the category is in the catalog.
func (c *Config) KnownCategory(id string) bool {
	_, ok := c.Categories[id]
	return ok
}

// KnownPriority reports whether the priority is configured.
func (c *Config) KnownPriority(p string) bool {
	for _, v := range c.Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// KnownStatus reports whether s is a valid idea or project status.
func (c *Config) KnownStatus(s string) bool {
	for _, v := range ideaStatuses {
		if v == s {
			return true
		}
	}
	for _, v := range projectStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// PageSize returns the configured default page size.
func (c *Config) PageSize() int {
	if c.Tracker.PageSize > 0 {
		return c.Tracker.PageSize
	}
	return 6
}

// MaxPageSize returns the configured page size cap.
func (c *Config) MaxPageSize() int {
	if c.Tracker.MaxPageSize > 0 {
		return c.Tracker.MaxPageSize
	}
	return 24
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "conecta.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `portal:
  name: Fatec Conecta
  city: Votorantim

categories:
  infraestrutura:
    description: "Obras, calcadas, iluminacao e espacos publicos"
  seguranca:
    description: "Seguranca publica e monitoramento"
  ambiente:
    description: "Meio ambiente, coleta seletiva e areas verdes"
  transporte:
    description: "Mobilidade urbana e transporte coletivo"
  saude:
    description: "Servicos e campanhas de saude"
  educacao:
    description: "Projetos educacionais e escolas"
  tecnologia:
    description: "Solucoes digitais para a comunidade"
  outros:
    description: "Demais propostas"

priorities: [baixa, media, alta, urgente]

tracker:
  default_statuses: [em_desenvolvimento, testando, concluido, suspenso]
  page_size: 6
  max_page_size: 24
`
