package polyflow

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"polyflow-registrar/internal/logging"
)

// LoadAccountList reads a newline-delimited list of email addresses. Blank
// lines and lines starting with '#' are skipped. A load failure is fatal to
// the whole run, so it is the one loader here that returns an error.
func LoadAccountList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening account list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var emails []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		emails = append(emails, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading account list %s: %w", path, err)
	}

	logging.Log.Infof("Loaded %d accounts from %s", len(emails), path)
	return emails, nil
}
