package polyflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"polyflow-registrar/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/sirupsen/logrus"
)

// RodDriver drives the signup page with a headless browser. Each attempt
// runs in a fresh profile so cookies and cache never leak between accounts.
type RodDriver struct {
	signupURL       string
	headless        bool
	codes           CodeAwaiter
	codeWaitTimeout time.Duration

	// solver, when set, handles a reCAPTCHA gate on the signup form.
	solver ChallengeSolver
}

func NewRodDriver(signupURL string, headless bool, codes CodeAwaiter, codeWaitTimeout time.Duration) *RodDriver {
	return &RodDriver{
		signupURL:       signupURL,
		headless:        headless,
		codes:           codes,
		codeWaitTimeout: codeWaitTimeout,
	}
}

// SetSolver enables challenge solving on the signup page.
func (d *RodDriver) SetSolver(s ChallengeSolver) {
	d.solver = s
}

var emailSelectors = []string{
	`input[type="email"]`,
	`input[name="email"]`,
	`input[id="email"]`,
}

var codeSelectors = []string{
	`input[type="number"]`,
	`input[name="code"]`,
	`input[id="code"]`,
}

// RegisterViaUI fills the email form, requests a code, waits for it via
// the correlator and submits it, then pulls the token out of localStorage.
// Rod's Must helpers panic on failure; the recover below converts any of
// them into an error so one bad page load cannot take down the batch.
func (d *RodDriver) RegisterViaUI(ctx context.Context, email string, traceID string) (token string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("browser automation failed: %v", rec)
		}
	}()

	locallog := logging.Log.WithField("trace_id", traceID)
	locallog.Infof("Opening signup page with rod: %s", d.signupURL)

	tmpDir, err := os.MkdirTemp("", "rod-polyflow-*")
	if err != nil {
		return "", fmt.Errorf("creating temp user data dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			locallog.Warnf("Failed to remove temp user data dir: %v", err)
		}
	}()

	u := launcher.New().
		Headless(d.headless).
		NoSandbox(true).
		UserDataDir(tmpDir).
		MustLaunch()

	browser := rod.New().ControlURL(u).Context(ctx).MustConnect()
	defer func() { _ = browser.Close() }()

	page := browser.MustPage(d.signupURL)
	defer func() { _ = page.Close() }()
	page.MustWaitLoad()

	// The signup modal opens from the main call-to-action button.
	if loginBtn, err := page.Timeout(10 * time.Second).ElementR("button", "Login/Sign up"); err == nil {
		loginBtn.MustClick()
	}

	emailInput, err := firstElement(page, emailSelectors, 10*time.Second)
	if err != nil {
		return "", errors.New("no email input found; page may require a wallet connection instead")
	}
	emailInput.MustInput(email)

	if err := d.solveChallenge(ctx, page, locallog); err != nil {
		return "", err
	}

	sendBtn, err := page.Timeout(5 * time.Second).ElementR("button", "Send|Submit|Continue")
	if err != nil {
		return "", errors.New("no send button found on signup page")
	}
	sentAt := time.Now()
	sendBtn.MustClick()
	locallog.Info("Code requested via UI, waiting for email")

	code, err := d.codes.AwaitCode(ctx, email, sentAt, d.codeWaitTimeout)
	if err != nil {
		return "", err
	}

	codeInput, err := firstElement(page, codeSelectors, 15*time.Second)
	if err != nil {
		return "", errors.New("no code input found after requesting code")
	}
	codeInput.MustInput(code)

	if submitBtn, err := page.Timeout(3 * time.Second).ElementR("button", "Submit|Verify|Continue"); err == nil {
		submitBtn.MustClick()
	} else {
		page.Keyboard.MustType(input.Enter)
	}
	page.MustWaitLoad()

	token, err = extractToken(page)
	if err != nil {
		return "", err
	}

	locallog.Info("Token obtained from browser session")
	return token, nil
}

// solveChallenge checks for a reCAPTCHA gate on the form and, when a solver
// is configured, injects a solved response the way the widget expects it. A
// page without a challenge is the common case and returns immediately.
func (d *RodDriver) solveChallenge(ctx context.Context, page *rod.Page, locallog *logrus.Entry) error {
	frame, err := page.Timeout(3 * time.Second).Element(`iframe[src*="recaptcha"]`)
	if err != nil {
		return nil
	}
	if d.solver == nil {
		return errors.New("signup page presents a recaptcha but no solver is configured")
	}

	siteKey, err := frame.Attribute("data-sitekey")
	if err != nil || siteKey == nil || *siteKey == "" {
		// Some deployments hang the key on the widget container instead.
		el, err2 := page.Timeout(2 * time.Second).Element(`[data-sitekey]`)
		if err2 != nil {
			return errors.New("recaptcha present but no site key found")
		}
		if siteKey, err = el.Attribute("data-sitekey"); err != nil || siteKey == nil || *siteKey == "" {
			return errors.New("recaptcha present but no site key found")
		}
	}

	locallog.Info("Solving recaptcha challenge on signup page")
	token, err := d.solver.SolveRecaptcha(ctx, *siteKey, d.signupURL)
	if err != nil {
		return fmt.Errorf("solving recaptcha: %w", err)
	}

	page.MustEval(`(token) => {
		const el = document.getElementById("g-recaptcha-response")
		if (el) el.innerHTML = token
	}`, token)
	locallog.Info("Recaptcha response injected")
	return nil
}

func firstElement(page *rod.Page, selectors []string, timeout time.Duration) (*rod.Element, error) {
	for _, sel := range selectors {
		if el, err := page.Timeout(timeout).Element(sel); err == nil {
			return el, nil
		}
		// Later selectors get a short window; the first timeout already
		// covered page readiness.
		timeout = 2 * time.Second
	}
	return nil, fmt.Errorf("none of %d selectors matched", len(selectors))
}

var tokenKeys = []string{"token", "authToken", "accessToken", "jwt", "auth_token", "session_token"}

func extractToken(page *rod.Page) (string, error) {
	for _, key := range tokenKeys {
		val := page.MustEval(`(key) => localStorage.getItem(key) || ""`, key).Str()
		if val != "" {
			return val, nil
		}
	}
	return "", errors.New("login finished but no token found in localStorage")
}
