// Package quota tracks per-provider API usage against free-tier limits.
//
// Remote providers burn through daily or monthly request budgets; the router
// consults this package before selecting one and records every successful
// call. Usage survives restarts in a single JSON file and resets itself when
// the period rolls over. Crossing 80% of a limit logs a warning; crossing 95%
// blocks the provider until the next period.
package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Usage thresholds, as fractions of the configured limit.
const (
	WarnRatio  = 0.80
	BlockRatio = 0.95
)

// Period is the reset cadence of a provider's budget.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// Limit bounds one provider's request count.
type Limit struct {
	// Max is the request budget per period. Zero means unlimited: usage is
	// still recorded but never warns or blocks.
	Max int

	// Period is the reset cadence. Defaults to Daily when empty.
	Period Period
}

// Status is a point-in-time view of one provider's budget.
type Status struct {
	Name    string  `json:"name"`
	Used    int     `json:"used"`
	Max     int     `json:"max"`
	Ratio   float64 `json:"ratio"`
	Blocked bool    `json:"blocked"`
	Period  Period  `json:"period"`
	// Bound is the period the counters belong to ("2006-01-02" for daily,
	// "2006-01" for monthly).
	Bound string `json:"bound"`
}

// providerState is the persisted per-provider record.
type providerState struct {
	Used    int    `json:"used"`
	Bound   string `json:"period"`
	Blocked bool   `json:"blocked"`
}

// fileState is the persisted file layout.
type fileState struct {
	Providers map[string]*providerState `json:"providers"`
}

// Manager tracks usage for a set of providers. All methods are safe for
// concurrent use; state is shared through one file guarded by a single mutex.
type Manager struct {
	mu     sync.Mutex
	path   string
	limits map[string]Limit
	state  fileState
	now    func() time.Time
}

// Option is a functional option for Manager.
type Option func(*Manager)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager loads (or initialises) the usage file at path. limits maps
// provider names to their budgets; providers absent from the map are
// unlimited. A missing or corrupt file starts from zero usage.
func NewManager(path string, limits map[string]Limit, opts ...Option) (*Manager, error) {
	if path == "" {
		return nil, errors.New("quota: path must not be empty")
	}
	m := &Manager{
		path:   path,
		limits: limits,
		state:  fileState{Providers: map[string]*providerState{}},
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("quota: read %q: %w", path, err)
	default:
		var st fileState
		if jsonErr := json.Unmarshal(raw, &st); jsonErr != nil || st.Providers == nil {
			slog.Warn("quota file is corrupt; starting from zero usage",
				"path", path, "error", jsonErr)
		} else {
			m.state = st
		}
	}
	return m, nil
}

// CanUse reports whether the named provider is within budget. Unlimited
// providers always pass.
func (m *Manager) CanUse(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.provider(name)
	lim, ok := m.limits[name]
	if !ok || lim.Max <= 0 {
		return true
	}
	if ps.Blocked {
		return false
	}
	return float64(ps.Used)/float64(lim.Max) < BlockRatio
}

// Use records n requests against the named provider and persists the file.
// Crossing the warn threshold logs once per crossing; crossing the block
// threshold marks the provider blocked for the rest of the period.
func (m *Manager) Use(name string, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.provider(name)
	before := ps.Used
	ps.Used += n

	if lim, ok := m.limits[name]; ok && lim.Max > 0 {
		beforeRatio := float64(before) / float64(lim.Max)
		afterRatio := float64(ps.Used) / float64(lim.Max)
		if beforeRatio < WarnRatio && afterRatio >= WarnRatio {
			slog.Warn("provider quota passed warning threshold",
				"provider", name, "used", ps.Used, "max", lim.Max)
		}
		if afterRatio >= BlockRatio && !ps.Blocked {
			ps.Blocked = true
			slog.Warn("provider quota exhausted; blocking until period reset",
				"provider", name, "used", ps.Used, "max", lim.Max, "resets", m.nextBound(lim.Period))
		}
	}
	return m.save()
}

// Status returns the current budget view for one provider.
func (m *Manager) Status(name string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status(name)
}

// Snapshot returns the budget view for every provider with a limit or
// recorded usage.
func (m *Manager) Snapshot() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.limits)+len(m.state.Providers))
	for name := range m.limits {
		out[name] = m.status(name)
	}
	for name := range m.state.Providers {
		if _, ok := out[name]; !ok {
			out[name] = m.status(name)
		}
	}
	return out
}

// status builds a Status for name. Caller holds the lock.
func (m *Manager) status(name string) Status {
	ps := m.provider(name)
	lim := m.limits[name]
	st := Status{
		Name:    name,
		Used:    ps.Used,
		Max:     lim.Max,
		Blocked: ps.Blocked,
		Period:  periodOrDefault(lim.Period),
		Bound:   ps.Bound,
	}
	if lim.Max > 0 {
		st.Ratio = float64(ps.Used) / float64(lim.Max)
	}
	return st
}

// provider returns the state record for name, creating it and applying the
// period reset as needed. Caller holds the lock.
func (m *Manager) provider(name string) *providerState {
	ps, ok := m.state.Providers[name]
	if !ok {
		ps = &providerState{}
		m.state.Providers[name] = ps
	}
	bound := m.currentBound(m.limits[name].Period)
	if ps.Bound != bound {
		if ps.Bound != "" && ps.Used > 0 {
			slog.Info("provider quota period rolled over; resetting usage",
				"provider", name, "previous", ps.Bound, "current", bound, "used", ps.Used)
		}
		ps.Used = 0
		ps.Blocked = false
		ps.Bound = bound
	}
	return ps
}

// currentBound formats the period identifier for now.
func (m *Manager) currentBound(p Period) string {
	t := m.now()
	if periodOrDefault(p) == Monthly {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

// nextBound returns when the given period next resets, for log messages.
func (m *Manager) nextBound(p Period) string {
	t := m.now()
	if periodOrDefault(p) == Monthly {
		return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location()).Format("2006-01-02")
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}

func periodOrDefault(p Period) Period {
	if p == Monthly {
		return Monthly
	}
	return Daily
}

// save writes the state file atomically. Caller holds the lock.
func (m *Manager) save() error {
	raw, err := json.MarshalIndent(&m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("quota: marshal state: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("quota: create state dir: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("quota: write state: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("quota: replace state file: %w", err)
	}
	return nil
}
