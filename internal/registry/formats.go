package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/openadcp/salesagent/internal/adcp"
)

// FormatSource resolves format ids to their full specs. The production
// implementation fetches from the owning creative agent; tests use a fake.
type FormatSource interface {
	GetFormat(ctx context.Context, tenantID string, id adcp.FormatID) (*adcp.FormatSpec, error)
}

// SpecCache is the subset of the redis store the registry uses.
type SpecCache interface {
	GetFormatSpec(ctx context.Context, tenantID, key string, out any) (bool, error)
	CacheFormatSpec(ctx context.Context, tenantID, key string, spec any, ttl time.Duration) error
}

// Registry fetches format specs from creative agents with a per-tenant redis
// cache in front. Unknown formats resolve to nil spec, not an error, so
// callers can surface a validation failure with the format id.
type Registry struct {
	Client *http.Client
	Cache  SpecCache
	// DefaultAgentURL backs format ids that arrive without an agent URL.
	DefaultAgentURL string
	CacheTTL        time.Duration
}

var _ FormatSource = (*Registry)(nil)

// NewRegistry builds a registry with an otel-instrumented HTTP client.
func NewRegistry(cache SpecCache, defaultAgentURL string, timeout, ttl time.Duration) *Registry {
	return &Registry{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Cache:           cache,
		DefaultAgentURL: defaultAgentURL,
		CacheTTL:        ttl,
	}
}

// GetFormat resolves one format id. The agent URL of the id names the
// authority; specs are cached under the normalized id.
func (r *Registry) GetFormat(ctx context.Context, tenantID string, id adcp.FormatID) (*adcp.FormatSpec, error) {
	if id.AgentURL == "" {
		id.AgentURL = r.DefaultAgentURL
	}
	norm := id.Normalize()
	key := norm.String()

	if r.Cache != nil {
		var cached adcp.FormatSpec
		hit, err := r.Cache.GetFormatSpec(ctx, tenantID, key, &cached)
		if err != nil {
			zap.L().Debug("format spec cache read failed", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	spec, err := r.fetch(ctx, norm)
	if err != nil {
		return nil, err
	}
	if spec != nil && r.Cache != nil {
		ttl := r.CacheTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		if err := r.Cache.CacheFormatSpec(ctx, tenantID, key, spec, ttl); err != nil {
			zap.L().Debug("format spec cache write failed", zap.Error(err))
		}
	}
	return spec, nil
}

// agentFormat is the creative agent's wire shape for one format.
type agentFormat struct {
	FormatID     string `json:"format_id"`
	Name         string `json:"name"`
	IsResponsive bool   `json:"is_responsive,omitempty"`
	Assets       []struct {
		AssetID     string `json:"asset_id"`
		Required    bool   `json:"required"`
		FallbackURL string `json:"fallback_url,omitempty"`
	} `json:"assets"`
}

func (r *Registry) fetch(ctx context.Context, id adcp.FormatID) (*adcp.FormatSpec, error) {
	endpoint := fmt.Sprintf("%s/formats/%s", id.AgentURL, url.PathEscape(id.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build format request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch format %s: %w", id.String(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("creative agent returned %d for %s: %s", resp.StatusCode, id.String(), body)
	}

	var af agentFormat
	if err := json.NewDecoder(resp.Body).Decode(&af); err != nil {
		return nil, fmt.Errorf("parse format %s: %w", id.String(), err)
	}

	spec := &adcp.FormatSpec{
		FormatID:     id,
		Name:         af.Name,
		IsResponsive: af.IsResponsive,
		FallbackURLs: map[string]string{},
	}
	for _, a := range af.Assets {
		if a.Required {
			spec.RequiredAssets = append(spec.RequiredAssets, a.AssetID)
		}
		if a.FallbackURL != "" {
			spec.FallbackURLs[a.AssetID] = a.FallbackURL
		}
	}
	return spec, nil
}

// StaticSource serves specs from a fixed map. Used in tests and for tenants
// that pin their formats in config.
type StaticSource struct {
	Specs map[string]*adcp.FormatSpec // keyed by normalized FormatID.String()
}

var _ FormatSource = (*StaticSource)(nil)

func (s *StaticSource) GetFormat(_ context.Context, _ string, id adcp.FormatID) (*adcp.FormatSpec, error) {
	return s.Specs[id.Normalize().String()], nil
}
