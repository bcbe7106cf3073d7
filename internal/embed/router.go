package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docdex/docdex/internal/errors"
)

// Operation names a logical unit of work the router resolves a backend for.
type Operation string

const (
	OperationIndexing  Operation = "indexing"
	OperationRetrieval Operation = "retrieval"
)

// RouteMetadata documents why a resolution chose a backend. Logged on every
// resolution, never persisted.
type RouteMetadata struct {
	Mode     string
	Provider string
	Reason   string
}

// Route is the outcome of one resolution. Diagnostics carries the health
// report whenever a health check ran, success included.
type Route struct {
	Backend     Backend
	Metadata    RouteMetadata
	Diagnostics *Report
}

// ConfirmFunc asks the user whether a remote fallback is acceptable.
type ConfirmFunc func(ctx context.Context, report *Report) (bool, error)

// ResolveOptions carries per-call routing context.
type ResolveOptions struct {
	// Interactive indicates a human can answer a confirmation prompt.
	Interactive bool
	// Confirm is invoked for local-preferred fallback when Interactive.
	Confirm ConfirmFunc
}

// BackendFactory constructs a backend lazily, so the remote credential is
// only resolved when a route actually selects remote.
type BackendFactory func() (Backend, error)

// RouterConfig configures a Router.
type RouterConfig struct {
	Mode Mode
	// Local is nil when no local backend is configured.
	Local  BackendFactory
	Remote BackendFactory
	Health *HealthChecker
	// LocalProbe identifies the local server for health checks.
	LocalProbe Probe
	Logger     *slog.Logger
}

// Router selects an embedding backend per operation under the configured
// locality mode. Fallback from local to remote is never silent: it requires
// either explicit remote-only mode or an interactive confirmation.
type Router struct {
	mode   Mode
	local  BackendFactory
	remote BackendFactory
	health *HealthChecker
	probe  Probe
	logger *slog.Logger
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Remote == nil {
		return nil, errors.InternalError("router requires a remote backend factory", nil)
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthChecker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Router{
		mode:   cfg.Mode,
		local:  cfg.Local,
		remote: cfg.Remote,
		health: cfg.Health,
		probe:  cfg.LocalProbe,
		logger: cfg.Logger,
	}, nil
}

// Mode returns the configured locality mode.
func (r *Router) Mode() Mode { return r.mode }

// Resolve selects a backend for one logical operation.
func (r *Router) Resolve(ctx context.Context, op Operation, opts ResolveOptions) (*Route, error) {
	route, err := r.resolve(ctx, op, opts)
	if err != nil {
		return nil, err
	}

	r.logger.Info("route_resolved",
		slog.String("operation", string(op)),
		slog.String("mode", route.Metadata.Mode),
		slog.String("provider", route.Metadata.Provider),
		slog.String("reason", route.Metadata.Reason),
	)
	return route, nil
}

func (r *Router) resolve(ctx context.Context, op Operation, opts ResolveOptions) (*Route, error) {
	switch r.mode {
	case ModeRemoteOnly:
		backend, err := r.remote()
		if err != nil {
			return nil, err
		}
		return &Route{
			Backend: backend,
			Metadata: RouteMetadata{
				Mode:     string(r.mode),
				Provider: string(ProviderRemote),
				Reason:   "mode is remote-only",
			},
		}, nil

	case ModeLocalOnly:
		if r.local == nil {
			return nil, r.localNotConfiguredError()
		}
		report := r.health.Check(ctx, r.probe)
		if !report.OK {
			return nil, errors.New(errors.ErrCodeBackendUnavailable,
				fmt.Sprintf("local embedding backend is not available: %s", report.FailureDetail()), nil).
				WithSuggestion(report.Fix)
		}
		backend, err := r.local()
		if err != nil {
			return nil, err
		}
		return &Route{
			Backend: backend,
			Metadata: RouteMetadata{
				Mode:     string(r.mode),
				Provider: string(ProviderLocal),
				Reason:   "local backend healthy",
			},
			Diagnostics: report,
		}, nil

	case ModeLocalPreferred:
		if r.local == nil {
			return nil, r.localNotConfiguredError()
		}
		report := r.health.Check(ctx, r.probe)
		if report.OK {
			backend, err := r.local()
			if err != nil {
				return nil, err
			}
			return &Route{
				Backend: backend,
				Metadata: RouteMetadata{
					Mode:     string(r.mode),
					Provider: string(ProviderLocal),
					Reason:   "local backend healthy",
				},
				Diagnostics: report,
			}, nil
		}

		// Local is down. A remote fallback spends money and ships document
		// text to a third party, so it requires an explicit yes.
		if !opts.Interactive || opts.Confirm == nil {
			return nil, errors.New(errors.ErrCodeConfirmationRequired,
				fmt.Sprintf("local embedding backend is unhealthy (%s) and remote fallback requires confirmation",
					report.FailureDetail()), nil).
				WithSuggestion("Rerun interactively to confirm the fallback, or pass --mode remote-only to use the remote API explicitly").
				WithDetail("fix", report.Fix)
		}

		approved, err := opts.Confirm(ctx, report)
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, errors.New(errors.ErrCodeFallbackDeclined,
				"remote fallback declined", nil).
				WithSuggestion(report.Fix)
		}

		backend, err := r.remote()
		if err != nil {
			return nil, err
		}
		return &Route{
			Backend: backend,
			Metadata: RouteMetadata{
				Mode:     string(r.mode),
				Provider: string(ProviderRemote),
				Reason:   fmt.Sprintf("local unhealthy (%s); remote fallback confirmed", report.FailureDetail()),
			},
			Diagnostics: report,
		}, nil

	default:
		return nil, errors.InternalError(fmt.Sprintf("unknown mode %q", r.mode), nil)
	}
}

// CheckLocal re-runs the local health check. The orchestrator calls this
// immediately before a long embedding pass on a local route.
func (r *Router) CheckLocal(ctx context.Context) *Report {
	if r.local == nil {
		return &Report{
			Connectivity: ProbeResult{Detail: "no local backend configured"},
			ModelReady:   ProbeResult{Detail: "no local backend configured"},
		}
	}
	return r.health.Check(ctx, r.probe)
}

func (r *Router) localNotConfiguredError() error {
	return errors.New(errors.ErrCodeLocalNotConfigured,
		fmt.Sprintf("mode %q requires a local embedding backend, but none is configured", r.mode), nil).
		WithSuggestion("Set embedding.local.base_url and embedding.local.model, or use --mode remote-only")
}
