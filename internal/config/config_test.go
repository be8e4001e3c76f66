package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
mailboxes:
  - name: primary
    server: imap.example.com
    username: bot@example.com
    password: hunter2
    accountsFile: accounts.txt
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://api-v2.polyflow.tech", cfg.Polyflow.BaseURL)
	assert.Equal(t, 3*time.Minute, cfg.Polyflow.CodeWaitTimeout)
	assert.Equal(t, 15*time.Second, cfg.Polyflow.SettleDelay)
	assert.Equal(t, 3, cfg.Security.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Security.InterAccountDelay)
	assert.Equal(t, "http", cfg.Proxy.Type)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.Len(t, cfg.Mailboxes, 1)
	mb := cfg.Mailboxes[0]
	assert.Equal(t, 993, mb.Port)
	assert.Equal(t, "INBOX", mb.Folder)
	assert.Equal(t, 30*time.Second, mb.FetchTimeout)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_IMAP_PASS", "s3cret")

	cfg, err := Load(writeConfig(t, `
mailboxes:
  - name: primary
    server: ${TEST_IMAP_SERVER:imap.example.com}
    username: bot@example.com
    password: ${TEST_IMAP_PASS}
    accountsFile: accounts.txt
`))
	require.NoError(t, err)

	assert.Equal(t, "imap.example.com", cfg.Mailboxes[0].Server, "unset variable falls back to inline default")
	assert.Equal(t, "s3cret", cfg.Mailboxes[0].Password, "set variable overrides")
}

func TestLoad_EnvBeatsDefault(t *testing.T) {
	t.Setenv("TEST_IMAP_SERVER", "imap.real.com")

	cfg, err := Load(writeConfig(t, `
mailboxes:
  - name: primary
    server: ${TEST_IMAP_SERVER:imap.example.com}
    username: bot@example.com
    password: hunter2
    accountsFile: accounts.txt
`))
	require.NoError(t, err)
	assert.Equal(t, "imap.real.com", cfg.Mailboxes[0].Server)
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("POLYREG_TEST_DOTENV_PASS=from-dotenv\n"), 0o600))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mailboxes:
  - name: primary
    server: imap.example.com
    username: bot@example.com
    password: ${POLYREG_TEST_DOTENV_PASS}
    accountsFile: accounts.txt
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Mailboxes[0].Password,
		"the .env next to the config file must be honored regardless of cwd")
}

func TestLoad_UnresolvedCredentialRejected(t *testing.T) {
	_, err := Load(writeConfig(t, `
mailboxes:
  - name: primary
    server: imap.example.com
    username: bot@example.com
    password: ${DEFINITELY_NOT_SET_ANYWHERE}
    accountsFile: accounts.txt
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved environment variables")
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "no mailboxes",
			content: "dataDir: data\n",
			wantMsg: "no mailboxes",
		},
		{
			name: "missing server",
			content: `
mailboxes:
  - name: primary
    username: bot@example.com
    password: hunter2
    accountsFile: accounts.txt
`,
			wantMsg: "server is required",
		},
		{
			name: "missing accounts file",
			content: `
mailboxes:
  - name: primary
    server: imap.example.com
    username: bot@example.com
    password: hunter2
`,
			wantMsg: "accountsFile is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
mailboxes:
  - name: primary
    server: imap.example.com
    port: 143
    username: bot@example.com
    password: hunter2
    folder: Codes
    fetchTimeout: 45s
    accountsFile: accounts.txt
polyflow:
  baseUrl: https://staging.polyflow.tech
  referralCode: REF42
  senderFilter: noreply@polyflow.tech
  codeWaitTimeout: 5m
  settleDelay: 20s
security:
  maxRetries: 5
  interAccountDelay: 30s
correlator:
  pollInterval: 3s
  slowPollInterval: 12s
ui:
  enabled: true
  headless: true
  signupUrl: https://app.polyflow.tech
dataDir: /var/lib/registrar
`))
	require.NoError(t, err)

	assert.Equal(t, 143, cfg.Mailboxes[0].Port)
	assert.Equal(t, "Codes", cfg.Mailboxes[0].Folder)
	assert.Equal(t, 45*time.Second, cfg.Mailboxes[0].FetchTimeout)
	assert.Equal(t, "https://staging.polyflow.tech", cfg.Polyflow.BaseURL)
	assert.Equal(t, "REF42", cfg.Polyflow.ReferralCode)
	assert.Equal(t, 5*time.Minute, cfg.Polyflow.CodeWaitTimeout)
	assert.Equal(t, 5, cfg.Security.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Correlator.PollInterval)
	assert.True(t, cfg.UI.Enabled)
	assert.Equal(t, "/var/lib/registrar", cfg.DataDir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
