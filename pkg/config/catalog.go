package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/quota"
	"github.com/platinummonkey/ratchet/pkg/store"
	"github.com/platinummonkey/ratchet/pkg/window"
)

// LimitValue is a window limit as written in YAML: "unlimited", "blocked"
// or a non-negative integer.
type LimitValue struct {
	window.Limit
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *LimitValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Value {
	case "", "unlimited":
		l.Limit = window.Unlimited()
		return nil
	case "blocked":
		l.Limit = window.Blocked()
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("limit must be \"unlimited\", \"blocked\" or an integer: %w", err)
	}
	l.Limit = window.Of(n)
	return nil
}

// CurrencyEntry is one currency in the catalog file.
type CurrencyEntry struct {
	Supported         bool       `yaml:"supported"`
	PricePerUnitCents int64      `yaml:"price_per_unit_cents"`
	MinAmountCents    int64      `yaml:"min_amount_cents"`
	MaxAmountCents    int64      `yaml:"max_amount_cents"`
	DailyCap          LimitValue `yaml:"daily_cap"`
	GlobalDailyCap    LimitValue `yaml:"global_daily_cap"`
	WhitelistOnly     bool       `yaml:"whitelist_only"`
	FeeBps            int64      `yaml:"fee_bps"`
	FeeCollector      string     `yaml:"fee_collector"`
}

// PlanEntry is one plan in the catalog file.
type PlanEntry struct {
	Name           string      `yaml:"name"`
	Currency       string      `yaml:"currency"`
	PriceCents     int64       `yaml:"price_cents"`
	Cycle          store.Cycle `yaml:"cycle"`
	MaxSubscribers int64       `yaml:"max_subscribers"`
	Active         bool        `yaml:"active"`
}

// catalogFile is the YAML layout.
type catalogFile struct {
	Currencies map[string]CurrencyEntry `yaml:"currencies"`
	Plans      map[string]PlanEntry     `yaml:"plans"`
}

// Catalog is the plan and currency catalog, loaded from YAML and safe for
// concurrent reads while a background watcher reloads it. It implements
// quota.ConfigSource.
type Catalog struct {
	path   string
	logger *observability.Logger

	mu         sync.RWMutex
	currencies map[string]*quota.CurrencyConfig
	plans      map[string]*PlanEntry

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadCatalog reads and parses the catalog at path.
func LoadCatalog(path string, logger *observability.Logger) (*Catalog, error) {
	c := &Catalog{path: path, logger: logger}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}

	currencies := make(map[string]*quota.CurrencyConfig, len(file.Currencies))
	for code, entry := range file.Currencies {
		if entry.FeeBps < 0 || entry.FeeBps > 10000 {
			return fmt.Errorf("currency %q: fee_bps %d outside [0, 10000]", code, entry.FeeBps)
		}
		currencies[code] = &quota.CurrencyConfig{
			Currency:          code,
			Supported:         entry.Supported,
			PricePerUnitCents: entry.PricePerUnitCents,
			MinAmountCents:    entry.MinAmountCents,
			MaxAmountCents:    entry.MaxAmountCents,
			DailyCap:          entry.DailyCap.Limit,
			GlobalDailyCap:    entry.GlobalDailyCap.Limit,
			WhitelistOnly:     entry.WhitelistOnly,
			FeeBps:            entry.FeeBps,
			FeeCollector:      entry.FeeCollector,
		}
	}

	plans := make(map[string]*PlanEntry, len(file.Plans))
	for id, entry := range file.Plans {
		if !entry.Cycle.Valid() {
			return fmt.Errorf("plan %q: unknown cycle %q", id, entry.Cycle)
		}
		if _, ok := currencies[entry.Currency]; !ok {
			return fmt.Errorf("plan %q: unknown currency %q", id, entry.Currency)
		}
		e := entry
		plans[id] = &e
	}

	c.mu.Lock()
	c.currencies = currencies
	c.plans = plans
	c.mu.Unlock()
	return nil
}

// CurrencyConfig implements quota.ConfigSource.
func (c *Catalog) CurrencyConfig(currency string) (*quota.CurrencyConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.currencies[currency]
	return cfg, ok
}

// Plans returns the plan entries keyed by plan id.
func (c *Catalog) Plans() map[string]*PlanEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*PlanEntry, len(c.plans))
	for id, p := range c.plans {
		cp := *p
		out[id] = &cp
	}
	return out
}

// SeedPlans upserts catalog plans into a plan store. Existing plans keep
// their identity; price and capacity changes apply to future operations
// only.
func (c *Catalog) SeedPlans(ctx context.Context, plans store.PlanStore, clk clock.Clock) error {
	now := clk.Now()
	for id, entry := range c.Plans() {
		plan := &store.Plan{
			ID:             id,
			Name:           entry.Name,
			Currency:       entry.Currency,
			PriceCents:     entry.PriceCents,
			Cycle:          entry.Cycle,
			MaxSubscribers: entry.MaxSubscribers,
			Active:         entry.Active,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if existing, err := plans.GetPlan(ctx, id); err == nil {
			plan.CreatedAt = existing.CreatedAt
			if err := plans.UpdatePlan(ctx, plan); err != nil {
				return fmt.Errorf("failed to update plan %q: %w", id, err)
			}
			continue
		}
		if err := plans.CreatePlan(ctx, plan); err != nil {
			return fmt.Errorf("failed to create plan %q: %w", id, err)
		}
	}
	return nil
}

// Watch reloads the catalog whenever the file changes. Parse failures keep
// the previous catalog. Call Close to stop watching.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files, breaking file watches.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	c.watcher = watcher
	c.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.reload(); err != nil {
					if c.logger != nil {
						c.logger.WithError(err).Warn("catalog reload failed, keeping previous catalog")
					}
					continue
				}
				if c.logger != nil {
					c.logger.WithField("path", c.path).Info("catalog reloaded")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if c.logger != nil {
					c.logger.WithError(err).Warn("catalog watcher error")
				}
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (c *Catalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}
