package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"polyflow-registrar/internal/captcha"
	"polyflow-registrar/internal/config"
	"polyflow-registrar/internal/correlator"
	"polyflow-registrar/internal/httpclient"
	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/mailbox"
	"polyflow-registrar/internal/models"
	"polyflow-registrar/internal/polyflow"
	"polyflow-registrar/internal/proxy"
	"polyflow-registrar/internal/report"
	"polyflow-registrar/internal/tokenstore"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Log.Fatalf("Error reading configuration file: %v", err)
	}

	logging.Configure(cfg.Logging.Level, cfg.Logging.File,
		cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := proxy.LoadFile(cfg.Proxy.File, cfg.Proxy.Type)
	if err != nil {
		logging.Log.Fatalf("Error loading proxy list: %v", err)
	}

	// A failure to load any account list is fatal to the whole run; a
	// partial batch against a misconfigured profile helps nobody.
	batches := make(map[string][]string, len(cfg.Mailboxes))
	for _, mb := range cfg.Mailboxes {
		emails, err := polyflow.LoadAccountList(mb.AccountsFile)
		if err != nil {
			logging.Log.Fatalf("Error loading account list: %v", err)
		}
		batches[mb.Name] = emails
	}

	tokens := tokenstore.New(cfg.DataDir)

	// Profiles are independent mailboxes, so their batches may run in
	// parallel. Within one profile everything stays strictly sequential.
	g, gctx := errgroup.WithContext(ctx)
	for _, mb := range cfg.Mailboxes {
		mb := mb
		g.Go(func() error {
			runBatch(gctx, cfg, mb, batches[mb.Name], pool, tokens)
			return nil
		})
	}
	_ = g.Wait()
}

func runBatch(ctx context.Context, cfg *models.Config, mb models.MailboxConfig, emails []string, pool *proxy.Pool, tokens *tokenstore.Store) {
	if len(emails) == 0 {
		logging.Log.Warnf("Mailbox %q has no accounts to process", mb.Name)
		return
	}

	reader := mailbox.NewReader(mb)
	if err := reader.Connect(); err != nil {
		logging.Log.Errorf("Mailbox %q connect failed: %v", mb.Name, err)
		return
	}
	defer reader.Disconnect()

	client := httpclient.New(pool, "https://app.polyflow.tech")
	api := polyflow.NewAPIClient(client, cfg.Polyflow.BaseURL)
	codes := correlator.New(reader, correlator.FromConfig(cfg.Correlator, cfg.Polyflow.SenderFilter))
	registrar := polyflow.NewRegistrar(api, codes, reader, tokens, cfg.Polyflow, cfg.Security)
	if cfg.UI.Enabled {
		driver := polyflow.NewRodDriver(
			cfg.UI.SignupURL, cfg.UI.Headless, codes, cfg.Polyflow.CodeWaitTimeout)
		if cfg.Captcha.APIKey != "" {
			solver := captcha.NewSolver(client, cfg.Captcha.BaseURL, cfg.Captcha.APIKey)
			if balance, err := solver.Balance(ctx); err != nil {
				logging.Log.Warnf("Captcha service balance check failed: %v", err)
			} else {
				logging.Log.Infof("Captcha service balance: %.2f", balance)
			}
			driver.SetSolver(solver)
		}
		registrar.SetUIDriver(driver)
	}

	attempts := registrar.BatchRegister(ctx, emails)

	rep := report.Build(attempts)
	rep.LogSummary()
	if path, err := rep.Write(cfg.DataDir); err != nil {
		logging.Log.Errorf("Error writing batch report: %v", err)
	} else {
		logging.Log.Infof("Batch report written to %s", path)
	}
}
