// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/thesisguard/internal/cache"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Actions used in the policy.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// ErrNoAdapter is returned by LoadPolicy when the embedded policy is in use.
var ErrNoAdapter = errors.New("no policy adapter configured; using embedded policy")

// Config configures the enforcer.
type Config struct {
	// ModelPath overrides the embedded model when the file exists.
	ModelPath string `koanf:"model_path"`

	// PolicyPath overrides the embedded policy when the file exists.
	PolicyPath string `koanf:"policy_path"`

	// CacheSize bounds cached decisions. 0 disables the cache.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	// CacheTTL is how long a decision is cached.
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

// DefaultConfig uses the embedded model and policy with a small cache.
func DefaultConfig() Config {
	return Config{
		CacheSize: 1024,
		CacheTTL:  5 * time.Minute,
	}
}

// Enforcer wraps the Casbin enforcer with a decision cache.
type Enforcer struct {
	config   Config
	enforcer *casbin.SyncedEnforcer
	cache    *cache.LRU[bool]
}

// NewEnforcer loads the model and policy.
func NewEnforcer(cfg Config) (*Enforcer, error) {
	var m model.Model
	var err error
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" && fileExists(cfg.PolicyPath) {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		cfg.PolicyPath = ""
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{config: cfg, enforcer: enforcer}
	if cfg.CacheSize > 0 {
		e.cache = cache.NewLRU[bool](cfg.CacheSize, cfg.CacheTTL)
	}
	return e, nil
}

// loadEmbeddedPolicy parses the embedded policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rule := parts[1:]

		switch parts[0] {
		case "p":
			if len(rule) != 3 {
				return fmt.Errorf("malformed policy line %q", line)
			}
			if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", rule, err)
			}
		case "g":
			if len(rule) != 2 {
				return fmt.Errorf("malformed grouping line %q", line)
			}
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		}
	}
	return nil
}

func cacheKey(role, object, action string) string {
	return role + "|" + object + "|" + action
}

// Enforce reports whether role may perform action on object.
func (e *Enforcer) Enforce(role, object, action string) (bool, error) {
	key := cacheKey(role, object, action)
	if e.cache != nil {
		if allowed, ok := e.cache.Get(key); ok {
			return allowed, nil
		}
	}

	allowed, err := e.enforcer.Enforce(role, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	if e.cache != nil {
		e.cache.Add(key, allowed)
	}
	return allowed, nil
}

// AddPolicy grants role action on object.
func (e *Enforcer) AddPolicy(role, object, action string) (bool, error) {
	added, err := e.enforcer.AddPolicy(role, object, action)
	if err != nil {
		return false, fmt.Errorf("failed to add policy: %w", err)
	}
	e.resetCache()
	return added, nil
}

// RemovePolicy revokes a grant.
func (e *Enforcer) RemovePolicy(role, object, action string) (bool, error) {
	removed, err := e.enforcer.RemovePolicy(role, object, action)
	if err != nil {
		return false, fmt.Errorf("failed to remove policy: %w", err)
	}
	e.resetCache()
	return removed, nil
}

// LoadPolicy reloads the policy file.
func (e *Enforcer) LoadPolicy() error {
	if e.config.PolicyPath == "" {
		return ErrNoAdapter
	}
	if err := e.enforcer.LoadPolicy(); err != nil {
		return err
	}
	e.resetCache()
	return nil
}

func (e *Enforcer) resetCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
