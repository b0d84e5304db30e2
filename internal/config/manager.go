package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	logx "lcdaily/pkg/logx"
)

// ConfigManager owns the live configuration. It decodes the file, applies
// environment overrides, and hands validated reloads to subscribers.
type ConfigManager struct {
	path   string
	getenv func(string) string
	log    logx.Logger

	mu  sync.RWMutex
	cfg *Config
	// sum identifies the committed content; a reload with the same sum is
	// not republished.
	sum uint64

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, getenv: os.Getenv}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ./.env)
// into the process environment. Variables already set win, and missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envOverride maps one config field to the variables that can set it. The
// first non-empty variable wins.
type envOverride struct {
	vars []string
	// keepSet leaves a value already present in the file alone.
	keepSet bool
	field   func(*Config) *string
}

var envOverrides = []envOverride{
	{vars: []string{"DISCORD_TOKEN"}, field: func(c *Config) *string { return &c.Discord.Token }},
	{vars: []string{"GOOGLE_GEMINI_API_KEY", "LLM_API_KEY"}, keepSet: true, field: func(c *Config) *string { return &c.LLM.APIKey }},
	{vars: []string{"POST_TIME"}, field: func(c *Config) *string { return &c.Schedule.DefaultPostTime }},
	{vars: []string{"TIMEZONE"}, field: func(c *Config) *string { return &c.Schedule.DefaultTimezone }},
	{vars: []string{"DATABASE_PATH"}, field: func(c *Config) *string { return &c.Storage.Path }},
}

// Parse reads and decodes the file without validating or committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, raw)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(jb)
	if err != nil {
		return nil, err
	}

	getenv := m.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, o := range envOverrides {
		dst := o.field(cfg)
		if o.keepSet && strings.TrimSpace(*dst) != "" {
			continue
		}
		for _, k := range o.vars {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				break
			}
		}
	}
	return cfg, nil
}

// decodeStrict rejects unknown fields and anything after the first value.
func decodeStrict(jb []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return &cfg, nil
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	default:
		return nil, err
	}
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	m.commit(cfg, checksum(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) commit(cfg *Config, sum uint64) {
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

// reload re-reads the file and publishes it when it parses, validates and
// differs from the committed config. It reports whether it published.
func (m *ConfigManager) reload() (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	sum := checksum(cfg)
	m.mu.RLock()
	same := sum != 0 && sum == m.sum
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	m.commit(cfg, sum)
	m.publish(cfg)
	return true, nil
}

// checksum is an FNV-64a of the decoded config, so formatting-only edits
// do not count as changes. It returns 0 when the config cannot be encoded.
func checksum(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives each published config. A slow
// subscriber loses older updates, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		close(ch)
		return
	}
}

// publish holds subsMu for the whole fan-out so Unsubscribe cannot close a
// channel mid-send.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if offerLatest(ch, cfg) {
			continue
		}
		if !m.log.IsZero() {
			m.log.Debug("config update dropped (subscriber slow)",
				logx.Int("queue_len", len(ch)), logx.Int("queue_cap", cap(ch)))
		}
	}
}

// offerLatest sends cfg, evicting one queued update when ch is full.
func offerLatest(ch chan *Config, cfg *Config) bool {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}
