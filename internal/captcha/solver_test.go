package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"polyflow-registrar/internal/httpclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSender answers createTask immediately and getTaskResult from a
// queue, so the poll loop can be driven without a live service.
type scriptedSender struct {
	createBody  string
	pollBodies  []string
	pollCalls   int
	lastPayload map[string]interface{}
}

func (s *scriptedSender) Send(ctx context.Context, method, url string, payload interface{}) httpclient.Result {
	raw, _ := json.Marshal(payload)
	s.lastPayload = map[string]interface{}{}
	_ = json.Unmarshal(raw, &s.lastPayload)

	var body string
	switch {
	case endsWith(url, "/createTask"):
		body = s.createBody
	case endsWith(url, "/getTaskResult"):
		if s.pollCalls < len(s.pollBodies) {
			body = s.pollBodies[s.pollCalls]
		} else {
			body = s.pollBodies[len(s.pollBodies)-1]
		}
		s.pollCalls++
	case endsWith(url, "/getBalance"):
		body = s.createBody
	}
	return httpclient.Result{Kind: httpclient.KindOK, StatusCode: http.StatusOK, Data: json.RawMessage(body)}
}

func endsWith(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func fastSolver(sender Sender) *Solver {
	s := NewSolver(sender, "", "test-key")
	s.pollInterval = time.Millisecond
	s.maxWait = 200 * time.Millisecond
	return s
}

func TestSolveRecaptcha(t *testing.T) {
	sender := &scriptedSender{
		createBody: `{"errorId":0,"taskId":42}`,
		pollBodies: []string{
			`{"errorId":0,"status":"processing"}`,
			`{"errorId":0,"status":"ready","solution":{"gRecaptchaResponse":"g-token"}}`,
		},
	}

	token, err := fastSolver(sender).SolveRecaptcha(context.Background(), "site-key", "https://app.polyflow.tech")

	require.NoError(t, err)
	assert.Equal(t, "g-token", token)
	assert.GreaterOrEqual(t, sender.pollCalls, 2, "must poll until ready")
	assert.Equal(t, "test-key", sender.lastPayload["clientKey"])
}

func TestSolveImage(t *testing.T) {
	sender := &scriptedSender{
		createBody: `{"errorId":0,"taskId":7}`,
		pollBodies: []string{`{"errorId":0,"status":"ready","solution":{"text":"XK49"}}`},
	}

	text, err := fastSolver(sender).SolveImage(context.Background(), "aGVsbG8=")

	require.NoError(t, err)
	assert.Equal(t, "XK49", text)
}

func TestSolve_ServiceError(t *testing.T) {
	sender := &scriptedSender{
		createBody: `{"errorId":0,"taskId":7}`,
		pollBodies: []string{`{"errorId":12,"status":"failed"}`},
	}

	_, err := fastSolver(sender).SolveHCaptcha(context.Background(), "site-key", "https://app.polyflow.tech")
	assert.ErrorIs(t, err, ErrUnsolved)
}

func TestSolve_TimesOut(t *testing.T) {
	sender := &scriptedSender{
		createBody: `{"errorId":0,"taskId":7}`,
		pollBodies: []string{`{"errorId":0,"status":"processing"}`},
	}

	_, err := fastSolver(sender).SolveImage(context.Background(), "aGVsbG8=")
	assert.ErrorIs(t, err, ErrUnsolved)
}

func TestSolve_CreateTaskError(t *testing.T) {
	sender := &scriptedSender{createBody: `{"errorId":1,"taskId":0}`}

	_, err := fastSolver(sender).SolveImage(context.Background(), "aGVsbG8=")
	require.Error(t, err)
	assert.Zero(t, sender.pollCalls, "a failed create must not poll")
}

func TestBalance(t *testing.T) {
	sender := &scriptedSender{createBody: `{"errorId":0,"balance":12.5}`}

	balance, err := fastSolver(sender).Balance(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12.5, balance)
}
