package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/models"
)

// BatchReport summarizes one batch run.
type BatchReport struct {
	Timestamp       time.Time                    `json:"timestamp"`
	TotalProcessed  int                          `json:"total_processed"`
	SuccessfulCount int                          `json:"successful_count"`
	FailedCount     int                          `json:"failed_count"`
	SuccessRate     string                       `json:"success_rate"`
	Attempts        []models.RegistrationAttempt `json:"attempts"`
}

// Build aggregates per-account outcomes into a report.
func Build(attempts []models.RegistrationAttempt) BatchReport {
	r := BatchReport{
		Timestamp:      time.Now(),
		TotalProcessed: len(attempts),
		Attempts:       attempts,
	}
	for _, a := range attempts {
		if a.Success {
			r.SuccessfulCount++
		} else {
			r.FailedCount++
		}
	}
	if len(attempts) > 0 {
		r.SuccessRate = fmt.Sprintf("%.1f%%", float64(r.SuccessfulCount)/float64(len(attempts))*100)
	} else {
		r.SuccessRate = "0%"
	}
	return r
}

// Write stores the report as JSON under dataDir/reports.
func (r BatchReport) Write(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("batch_report_%s.json", r.Timestamp.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// LogSummary prints the end-of-batch outcome. Tokens are never echoed here;
// failures carry only their recorded error text.
func (r BatchReport) LogSummary() {
	logging.Log.Infof("Batch finished: %d processed, %d succeeded, %d failed (%s)",
		r.TotalProcessed, r.SuccessfulCount, r.FailedCount, r.SuccessRate)
	for _, a := range r.Attempts {
		if a.Success {
			logging.Log.Infof("  ok  %s", a.Email)
		} else {
			logging.Log.Warnf("  err %s: %s", a.Email, a.Error)
		}
	}
}
