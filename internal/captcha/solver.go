package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"polyflow-registrar/internal/httpclient"
	"polyflow-registrar/internal/logging"
)

// ErrUnsolved means the solving service gave up or the wait timed out.
var ErrUnsolved = errors.New("challenge not solved")

// Sender is the slice of the resilient client the solver needs.
type Sender interface {
	Send(ctx context.Context, method, url string, payload interface{}) httpclient.Result
}

// Solver consumes an external challenge-solving service speaking the
// 2captcha-style JSON task API. Solving itself is an external capability;
// this is only the wire plumbing around it.
type Solver struct {
	client  Sender
	baseURL string
	apiKey  string

	pollInterval time.Duration
	maxWait      time.Duration
}

func NewSolver(client Sender, baseURL, apiKey string) *Solver {
	if baseURL == "" {
		baseURL = "https://api.2captcha.com"
	}
	return &Solver{
		client:       client,
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: 5 * time.Second,
		maxWait:      2 * time.Minute,
	}
}

type task map[string]interface{}

// SolveRecaptcha returns a solved reCAPTCHA token for the given site key
// and page URL.
func (s *Solver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	return s.solve(ctx, task{
		"type":       "RecaptchaV2TaskProxyless",
		"websiteURL": pageURL,
		"websiteKey": siteKey,
	})
}

// SolveHCaptcha returns a solved hCaptcha token.
func (s *Solver) SolveHCaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	return s.solve(ctx, task{
		"type":       "HCaptchaTaskProxyless",
		"websiteURL": pageURL,
		"websiteKey": siteKey,
	})
}

// SolveImage solves a base64-encoded image challenge.
func (s *Solver) SolveImage(ctx context.Context, imageBase64 string) (string, error) {
	return s.solve(ctx, task{
		"type": "ImageToTextTask",
		"body": imageBase64,
		"case": true,
	})
}

// Balance returns the remaining service credit.
func (s *Solver) Balance(ctx context.Context) (float64, error) {
	res := s.client.Send(ctx, http.MethodPost, s.baseURL+"/getBalance", map[string]interface{}{
		"clientKey": s.apiKey,
	})
	if !res.Success() {
		return 0, fmt.Errorf("balance request failed: %s", res.Kind)
	}
	var body struct {
		ErrorID int     `json:"errorId"`
		Balance float64 `json:"balance"`
	}
	if err := res.Decode(&body); err != nil {
		return 0, err
	}
	if body.ErrorID != 0 {
		return 0, fmt.Errorf("balance error id %d", body.ErrorID)
	}
	return body.Balance, nil
}

func (s *Solver) solve(ctx context.Context, t task) (string, error) {
	res := s.client.Send(ctx, http.MethodPost, s.baseURL+"/createTask", map[string]interface{}{
		"clientKey": s.apiKey,
		"task":      t,
	})
	if !res.Success() {
		return "", fmt.Errorf("create task failed: %s", res.Kind)
	}

	var created struct {
		ErrorID int   `json:"errorId"`
		TaskID  int64 `json:"taskId"`
	}
	if err := res.Decode(&created); err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("create task error id %d", created.ErrorID)
	}

	deadline := time.Now().Add(s.maxWait)
	for time.Now().Before(deadline) {
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		res := s.client.Send(ctx, http.MethodPost, s.baseURL+"/getTaskResult", map[string]interface{}{
			"clientKey": s.apiKey,
			"taskId":    created.TaskID,
		})
		if !res.Success() {
			continue
		}

		var state struct {
			ErrorID  int    `json:"errorId"`
			Status   string `json:"status"`
			Solution struct {
				GRecaptchaResponse string `json:"gRecaptchaResponse"`
				Token              string `json:"token"`
				Text               string `json:"text"`
			} `json:"solution"`
		}
		if err := res.Decode(&state); err != nil {
			continue
		}
		if state.ErrorID != 0 {
			return "", fmt.Errorf("%w: error id %d", ErrUnsolved, state.ErrorID)
		}
		if state.Status == "ready" {
			logging.Log.Info("Challenge solved")
			switch {
			case state.Solution.GRecaptchaResponse != "":
				return state.Solution.GRecaptchaResponse, nil
			case state.Solution.Token != "":
				return state.Solution.Token, nil
			default:
				return state.Solution.Text, nil
			}
		}
	}

	return "", ErrUnsolved
}
