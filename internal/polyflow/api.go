package polyflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"polyflow-registrar/internal/httpclient"
	"polyflow-registrar/internal/logging"
)

var (
	// ErrSendFailed: the code-request call returned non-success.
	ErrSendFailed = errors.New("verification code send failed")
	// ErrLoginFailed: the login call returned non-success.
	ErrLoginFailed = errors.New("login failed")
	// ErrResponseShape: a nominally successful response missing the
	// expected nested fields. Kept distinct from request failure.
	ErrResponseShape = errors.New("unexpected response shape")
)

// Sender is the slice of the resilient client the API consumes.
type Sender interface {
	Send(ctx context.Context, method, url string, payload interface{}) httpclient.Result
}

// APIClient speaks the two account endpoints: request a code, log in with it.
type APIClient struct {
	client  Sender
	baseURL string
}

func NewAPIClient(client Sender, baseURL string) *APIClient {
	return &APIClient{client: client, baseURL: baseURL}
}

type envelope struct {
	Success bool            `json:"success"`
	Msg     json.RawMessage `json:"msg"`
}

// LoginResult carries the session token returned on a successful login.
type LoginResult struct {
	Token      string
	ExpiryUnix int64
	// Raw is the full login response, persisted for audit.
	Raw json.RawMessage
}

// SendVerificationCode asks the service to email a login code.
func (a *APIClient) SendVerificationCode(ctx context.Context, email string) error {
	logging.Log.Infof("Requesting verification code for %s", email)

	res := a.client.Send(ctx, http.MethodPost, a.baseURL+"/api/account/email/send", map[string]string{
		"email": email,
		"type":  "login",
	})

	env, err := unwrap(res, ErrSendFailed)
	if err != nil {
		return err
	}
	if !env.Success || env.Msg == nil {
		return fmt.Errorf("%w: send response: %s", ErrResponseShape, snippetJSON(res.Data))
	}
	return nil
}

// LoginWithCode submits the verification code and returns the session
// token. A 200 response without the nested success marker or with an empty
// token is ErrResponseShape, not ErrLoginFailed.
func (a *APIClient) LoginWithCode(ctx context.Context, email, code, referralCode string) (*LoginResult, error) {
	logging.Log.Infof("Logging in %s with verification code", email)

	res := a.client.Send(ctx, http.MethodPost, a.baseURL+"/api/account/email/login", map[string]string{
		"email":         email,
		"code":          code,
		"referral_code": referralCode,
	})

	env, err := unwrap(res, ErrLoginFailed)
	if err != nil {
		return nil, err
	}
	if !env.Success || env.Msg == nil {
		return nil, fmt.Errorf("%w: login response: %s", ErrResponseShape, snippetJSON(res.Data))
	}

	var msg struct {
		Token  string `json:"token"`
		Expiry int64  `json:"expiry_unix_timestamp"`
	}
	if err := json.Unmarshal(env.Msg, &msg); err != nil {
		return nil, fmt.Errorf("%w: login msg: %v", ErrResponseShape, err)
	}
	if msg.Token == "" {
		return nil, fmt.Errorf("%w: login response carries no token", ErrResponseShape)
	}

	return &LoginResult{Token: msg.Token, ExpiryUnix: msg.Expiry, Raw: res.Data}, nil
}

// unwrap maps the client's result union onto the endpoint error taxonomy.
func unwrap(res httpclient.Result, failure error) (*envelope, error) {
	switch res.Kind {
	case httpclient.KindOK:
		var env envelope
		if err := json.Unmarshal(res.Data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResponseShape, err)
		}
		return &env, nil
	case httpclient.KindStructuredError:
		return nil, fmt.Errorf("%w: status %d: %s", failure, res.StatusCode, snippetJSON(res.Data))
	case httpclient.KindBlocked:
		return nil, fmt.Errorf("%w: %v", failure, res.Err)
	case httpclient.KindMalformed:
		return nil, fmt.Errorf("%w: unrecognized response (content type %q)", failure, res.ContentType)
	default:
		return nil, fmt.Errorf("%w: %v", failure, res.Err)
	}
}

func snippetJSON(raw json.RawMessage) string {
	const max = 200
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
