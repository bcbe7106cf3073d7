package embed

import (
	"fmt"
	"log/slog"

	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/errors"
)

// NewRouterFromConfig wires a Router from the loaded configuration. Backend
// construction is deferred to factories so the remote credential is only
// required when a route actually selects remote.
func NewRouterFromConfig(cfg *config.Config, logger *slog.Logger) (*Router, error) {
	mode, err := ParseMode(cfg.Embedding.Mode)
	if err != nil {
		return nil, err
	}

	var local BackendFactory
	if cfg.HasLocal() {
		localCfg := LocalEmbedderConfig{
			BaseURL:   cfg.Embedding.Local.BaseURL,
			Model:     cfg.Embedding.Local.Model,
			BatchSize: cfg.Embedding.BatchSize,
			Timeout:   cfg.LocalTimeout(),
		}
		local = func() (Backend, error) {
			return NewLocalEmbedder(localCfg)
		}
	}

	remoteCfg := RemoteEmbedderConfig{
		BaseURL:           cfg.Embedding.Remote.BaseURL,
		Model:             cfg.Embedding.Remote.Model,
		BatchSize:         cfg.Embedding.BatchSize,
		RequestsPerMinute: cfg.Embedding.Remote.RequestsPerMinute,
	}
	apiKeyEnv := cfg.Embedding.Remote.APIKeyEnv
	resolveKey := cfg.RemoteAPIKey
	remote := func() (Backend, error) {
		rc := remoteCfg
		rc.APIKey = resolveKey()
		if rc.APIKey == "" {
			return nil, errors.New(errors.ErrCodeCredentialMissing,
				fmt.Sprintf("remote embedding API key is not set in $%s", apiKeyEnv), nil).
				WithSuggestion(fmt.Sprintf("Export the credential: export %s=sk-...", apiKeyEnv))
		}
		return NewRemoteEmbedder(rc)
	}

	return NewRouter(RouterConfig{
		Mode:   mode,
		Local:  local,
		Remote: remote,
		LocalProbe: Probe{
			BaseURL: cfg.Embedding.Local.BaseURL,
			Model:   cfg.Embedding.Local.Model,
		},
		Logger: logger,
	})
}
