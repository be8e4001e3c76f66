package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/models"
)

// Store persists successful registrations: an append-only delimited line
// per token plus a detailed JSON document per account for audit/debug.
type Store struct {
	linesPath string
	detailDir string
}

func New(dataDir string) *Store {
	return &Store{
		linesPath: filepath.Join(dataDir, "tokens.txt"),
		detailDir: filepath.Join(dataDir, "tokens_detailed"),
	}
}

// Append writes one "email|token|expiry" line. The header is written once
// when the file is created.
func (s *Store) Append(email, token string, expiryUnix int64) error {
	if err := os.MkdirAll(filepath.Dir(s.linesPath), 0o755); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	expiry := "Unknown"
	if expiryUnix > 0 {
		expiry = time.Unix(expiryUnix, 0).UTC().Format("2006-01-02 15:04:05 UTC")
	}

	_, statErr := os.Stat(s.linesPath)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.linesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if fresh {
		header := fmt.Sprintf("# Registration tokens\n# format: email|token|expiry\n# created: %s\n\n",
			time.Now().Format("2006-01-02 15:04:05"))
		if _, err := f.WriteString(header); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(f, "%s|%s|%s\n", email, token, expiry); err != nil {
		return err
	}

	logging.Log.Infof("Token saved for %s (expires %s)", email, expiry)
	return nil
}

// WriteDetail stores the full attempt record plus the raw login response as
// one JSON file per account.
func (s *Store) WriteDetail(attempt models.RegistrationAttempt, loginResponse json.RawMessage) error {
	if err := os.MkdirAll(s.detailDir, 0o755); err != nil {
		return fmt.Errorf("creating detail directory: %w", err)
	}

	doc := struct {
		models.RegistrationAttempt
		LoginResponse json.RawMessage `json:"login_response,omitempty"`
		Site          string          `json:"site"`
	}{
		RegistrationAttempt: attempt,
		LoginResponse:       loginResponse,
		Site:                "polyflow.tech",
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s.json", safeName(attempt.Email), time.Now().Format("20060102_150405"))
	path := filepath.Join(s.detailDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing detail file: %w", err)
	}

	logging.Log.Debugf("Detailed token record written to %s", path)
	return nil
}

func safeName(email string) string {
	replacer := strings.NewReplacer("@", "_", ".", "_", "/", "_")
	return replacer.Replace(email)
}
