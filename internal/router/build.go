package router

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/moche-ai/routine-studio/internal/config"
	"github.com/moche-ai/routine-studio/internal/quota"
	"github.com/moche-ai/routine-studio/pkg/provider/llm"
	"github.com/moche-ai/routine-studio/pkg/provider/llm/anyllm"
)

// BackendFactory turns one config entry into a live provider. apiKey is the
// resolved credential, or empty for entries without one.
type BackendFactory func(e config.ProviderEntry, apiKey string) (llm.Provider, error)

// DefaultFactory builds providers through the any-llm-go universal client.
func DefaultFactory(e config.ProviderEntry, apiKey string) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return anyllm.New(e.Backend, e.Model, opts...)
}

// Build assembles a Router from the configured provider list. Entries are
// registered in list order, which is also the fallback priority. An entry
// whose APIKeyEnv names an unset environment variable is skipped so that a
// half-configured deployment still comes up on the remaining providers.
func Build(entries []config.ProviderEntry, q *quota.Manager, opts ...Option) (*Router, error) {
	r := New(q, opts...)

	for _, e := range entries {
		var apiKey string
		if e.APIKeyEnv != "" {
			apiKey = os.Getenv(e.APIKeyEnv)
			if apiKey == "" {
				slog.Info("provider not configured, skipping",
					"provider", e.Name, "env", e.APIKeyEnv)
				continue
			}
		}

		p, err := r.factory(e, apiKey)
		if err != nil {
			return nil, fmt.Errorf("router: build provider %q: %w", e.Name, err)
		}
		r.Register(e.Name, p, e.Remote)
		slog.Info("provider registered",
			"provider", e.Name, "backend", e.Backend, "model", e.Model, "remote", e.Remote)
	}

	if r.Len() == 0 {
		return nil, errors.New("router: no providers available; set at least one provider API key")
	}
	return r, nil
}

// QuotaLimits derives the quota budget map from the configured provider list.
// Only remote entries with a positive limit are bounded; everything else is
// unlimited.
func QuotaLimits(entries []config.ProviderEntry) map[string]quota.Limit {
	limits := make(map[string]quota.Limit)
	for _, e := range entries {
		if !e.Remote || e.Quota.Limit <= 0 {
			continue
		}
		limits[e.Name] = quota.Limit{
			Max:    e.Quota.Limit,
			Period: quota.Period(e.Quota.Period),
		}
	}
	return limits
}
