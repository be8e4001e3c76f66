package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"polyflow-registrar/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// ${VAR} or ${VAR:default}
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// Load reads the configuration from the specified YAML file, expanding
// ${VAR} and ${VAR:default} references against the environment. A .env file
// next to the config file is loaded first when present; variables already
// set in the environment win.
func Load(path string) (*models.Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := expandEnv(string(raw))

	var cfg models.Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func expandEnv(text string) string {
	return envPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok {
			return value
		}
		if groups[2] != "" {
			return groups[2]
		}
		// Unset and no default: keep the placeholder so validation can
		// report it instead of silently using an empty credential.
		return match
	})
}

func applyDefaults(cfg *models.Config) {
	if cfg.Polyflow.BaseURL == "" {
		cfg.Polyflow.BaseURL = "https://api-v2.polyflow.tech"
	}
	if cfg.Polyflow.CodeWaitTimeout == 0 {
		cfg.Polyflow.CodeWaitTimeout = 3 * time.Minute
	}
	if cfg.Polyflow.SettleDelay == 0 {
		cfg.Polyflow.SettleDelay = 15 * time.Second
	}
	if cfg.Security.MaxRetries == 0 {
		cfg.Security.MaxRetries = 3
	}
	if cfg.Security.InterAccountDelay == 0 {
		cfg.Security.InterAccountDelay = 10 * time.Second
	}
	if cfg.Proxy.Type == "" {
		cfg.Proxy.Type = "http"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	for i := range cfg.Mailboxes {
		mb := &cfg.Mailboxes[i]
		if mb.Port == 0 {
			mb.Port = 993
		}
		if mb.Folder == "" {
			mb.Folder = "INBOX"
		}
		if mb.FetchTimeout == 0 {
			mb.FetchTimeout = 30 * time.Second
		}
	}
}

func validate(cfg *models.Config) error {
	if len(cfg.Mailboxes) == 0 {
		return fmt.Errorf("no mailboxes configured")
	}
	for _, mb := range cfg.Mailboxes {
		if mb.Server == "" {
			return fmt.Errorf("mailbox %q: server is required", mb.Name)
		}
		if mb.Username == "" || mb.Password == "" {
			return fmt.Errorf("mailbox %q: username and password are required", mb.Name)
		}
		if envPattern.MatchString(mb.Username) || envPattern.MatchString(mb.Password) {
			return fmt.Errorf("mailbox %q: credentials contain unresolved environment variables", mb.Name)
		}
		if mb.AccountsFile == "" {
			return fmt.Errorf("mailbox %q: accountsFile is required", mb.Name)
		}
	}
	return nil
}
