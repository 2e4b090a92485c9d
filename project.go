package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minios-linux/docweave/batchjob"
	"github.com/minios-linux/docweave/candidates"
	"github.com/minios-linux/docweave/config"
	"github.com/minios-linux/docweave/glossary"
	"github.com/minios-linux/docweave/lockfile"
	"github.com/minios-linux/docweave/metrics"
	"github.com/minios-linux/docweave/provider"
	"github.com/minios-linux/docweave/provider/mock"
	"github.com/minios-linux/docweave/settings"
	"github.com/minios-linux/docweave/source"
)

// project bundles everything loaded once per command: configuration, the
// glossary, the lock file and the metrics registry. Loading fails fast on any
// configuration problem so no document is touched.
type project struct {
	cfg      *config.File
	glossary *glossary.Glossary
	lock     *lockfile.LockFile
	metrics  *metrics.Metrics
}

func loadProject(modelOverride string) (*project, error) {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return nil, err
	}
	if m := strings.TrimSpace(modelOverride); m != "" {
		cfg.Model = m
	}
	if metricsFile != "" {
		// Flag paths are relative to the working directory, not the project.
		abs, err := filepath.Abs(metricsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
		}
		cfg.MetricsFile = abs
	}

	g, err := glossary.Load(cfg.GlossaryPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	logger.Debug("glossary loaded", "path", cfg.GlossaryPath(), "entries", g.Len())

	lock, err := lockfile.Load(cfg.Root())
	if err != nil {
		// Source change detection is advisory; a broken lock file is rebuilt.
		logger.Warn("ignoring unreadable lock file", "error", err)
	}

	return &project{cfg: cfg, glossary: g, lock: lock, metrics: metrics.New()}, nil
}

// connection is the resolved provider and its clients.
type connection struct {
	provider provider.Provider
	client   provider.Client
	// batch is nil when the provider cannot run batches.
	batch provider.BatchClient
}

// connect builds the provider clients. A provider that needs a key and has
// none is a configuration error.
func (p *project) connect() (*connection, error) {
	prov, err := p.cfg.ProviderConfig()
	if err != nil {
		return nil, err
	}

	if prov.ID == provider.ProviderMock {
		c := &mock.Client{Glossary: p.glossary}
		return &connection{provider: prov, client: c, batch: &mock.Batch{Client: c}}, nil
	}

	keys, err := settings.Open()
	if err != nil {
		// An unreadable keyring still leaves the flag and environment.
		logger.Warn("ignoring credential file", "error", err)
	}
	key, src := settings.Resolve(keys, prov.ID, apiKeyFlag)
	prov.APIKey = key
	if prov.BaseURL == "" && keys != nil {
		if c, ok := keys.Lookup(prov.ID); ok {
			prov.BaseURL = c.BaseURL
		}
	}
	if prov.NeedsKey() && key == "" {
		return nil, fmt.Errorf("%w: no API key for %s (use --api-key, %s or 'docweave auth login')",
			config.ErrConfig, prov.ID, settings.EnvAPIKey)
	}
	if key != "" {
		logger.Debug("api key resolved", "provider", prov.ID, "source", string(src), "key", settings.Mask(key))
	}

	client, err := provider.New(prov)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	conn := &connection{provider: prov, client: client}
	if bc, ok := client.(provider.BatchClient); ok && prov.Batch {
		conn.batch = bc
	}
	return conn, nil
}

// candidates loads the persisted candidate collection and the extraction
// policy. client may be nil when the policy does not call the service.
func (p *project) candidates(client provider.Client) (*candidates.Collection, candidates.Policy, error) {
	coll, err := candidates.Load(p.cfg.CandidatesPath())
	if err != nil {
		return nil, nil, err
	}
	policy, err := candidates.NewPolicy(p.cfg.CandidatePolicy, client, p.cfg.Model, p.glossary)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	return coll, policy, nil
}

// tracker wires a batch job tracker for this project.
func (p *project) tracker(conn *connection) (*batchjob.Tracker, error) {
	store, err := batchjob.Load(p.cfg.Root())
	if err != nil {
		return nil, err
	}
	t := &batchjob.Tracker{
		Store:      store,
		Glossary:   p.glossary,
		LoadSource: source.Load,
		Lock:       p.lock,
		Metrics:    p.metrics,
		Logger:     logger,
	}
	if conn != nil {
		if conn.batch == nil {
			return nil, fmt.Errorf("%w: %s: %w", config.ErrConfig, conn.provider.ID, provider.ErrBatchUnsupported)
		}
		t.Client = conn.batch
		coll, policy, err := p.candidates(conn.client)
		if err != nil {
			return nil, err
		}
		t.Candidates = coll
		t.Policy = policy
	}
	return t, nil
}

// flushMetrics writes the textfile export when one is configured.
func (p *project) flushMetrics() {
	path := p.cfg.MetricsPath()
	if path == "" {
		return
	}
	if err := p.metrics.WriteTextfile(path); err != nil {
		logger.Warn("writing metrics failed", "path", path, "error", err)
		return
	}
	logger.Debug("metrics written", "path", path)
}
