package models

import "time"

// Config represents the application configuration
type Config struct {
	Mailboxes  []MailboxConfig  `yaml:"mailboxes"`
	Polyflow   PolyflowConfig   `yaml:"polyflow"`
	Security   SecurityConfig   `yaml:"security"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Captcha    CaptchaConfig    `yaml:"captcha"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	UI         UIConfig         `yaml:"ui"`
	Logging    LoggingConfig    `yaml:"logging"`
	DataDir    string           `yaml:"dataDir"`
}

// MailboxConfig represents one IMAP inbox profile. Accounts listed in the
// profile's accounts file are processed sequentially against that profile's
// session; distinct profiles may run in parallel.
type MailboxConfig struct {
	Name         string        `yaml:"name"`
	Server       string        `yaml:"server"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Folder       string        `yaml:"folder"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	AccountsFile string        `yaml:"accountsFile"`
}

// PolyflowConfig represents the target API settings
type PolyflowConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	ReferralCode    string        `yaml:"referralCode"`
	SenderFilter    string        `yaml:"senderFilter"`
	CodeWaitTimeout time.Duration `yaml:"codeWaitTimeout"`
	SettleDelay     time.Duration `yaml:"settleDelay"`
}

// SecurityConfig holds pacing knobs for batch processing
type SecurityConfig struct {
	MaxRetries        int           `yaml:"maxRetries"`
	InterAccountDelay time.Duration `yaml:"interAccountDelay"`
}

// ProxyConfig points at an optional newline-delimited proxy list
type ProxyConfig struct {
	File string `yaml:"file"`
	Type string `yaml:"type"`
}

// CaptchaConfig configures the external challenge-solving service
type CaptchaConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

// CorrelatorConfig exposes the poll-loop tuning values. These are
// product-tuned numbers, not hard invariants; zero values fall back to the
// defaults in the correlator package.
type CorrelatorConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"`
	SlowPollInterval time.Duration `yaml:"slowPollInterval"`
	SlowPollAfter    time.Duration `yaml:"slowPollAfter"`
	InitialLookback  time.Duration `yaml:"initialLookback"`
	MaxLookback      time.Duration `yaml:"maxLookback"`
	SkewBefore       time.Duration `yaml:"skewBefore"`
	DeliveryAfter    time.Duration `yaml:"deliveryAfter"`
}

// UIConfig enables the browser-driven registration fallback
type UIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Headless  bool   `yaml:"headless"`
	SignupURL string `yaml:"signupUrl"`
}

// LoggingConfig controls log level and optional rotating file output
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}
