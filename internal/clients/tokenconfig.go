package clients

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/pkg/retrier"
)

const tokenConfigKey = "token_config"

// ConfigSource serves chain settings; *Backend implements it.
type ConfigSource interface {
	SubstrateConfig(ctx context.Context) (SubstrateConfig, error)
}

// TokenConfigProvider resolves the token configuration once per session:
// backend settings merged over the static defaults from the config file.
type TokenConfigProvider struct {
	source   ConfigSource
	defaults domain.TokenConfig
	retry    *retrier.Retrier
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewTokenConfigProvider creates a provider. A nil source serves the defaults only.
func NewTokenConfigProvider(source ConfigSource, defaults domain.TokenConfig, retry *retrier.Retrier, logger *zap.Logger) *TokenConfigProvider {
	if retry == nil {
		retry = retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(500*time.Millisecond))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenConfigProvider{
		source:   source,
		defaults: defaults,
		retry:    retry,
		cache:    cache.New(cache.NoExpiration, 0),
		logger:   logger,
	}
}

// TokenConfig returns the session's token configuration, fetching it on first use.
func (p *TokenConfigProvider) TokenConfig(ctx context.Context) (domain.TokenConfig, error) {
	if cached, ok := p.cache.Get(tokenConfigKey); ok {
		if cfg, ok := cached.(domain.TokenConfig); ok {
			return cfg, nil
		}
	}

	cfg := p.defaults
	if p.source != nil {
		remote, err := retrier.DoWithData(p.retry, ctx, p.fetch)
		if err != nil {
			return domain.TokenConfig{}, errors.Wrap(err, "load token config")
		}
		cfg, err = mergeTokenConfig(cfg, remote)
		if err != nil {
			return domain.TokenConfig{}, err
		}
		p.logger.Debug("token config loaded",
			zap.String("symbol", cfg.Symbol),
			zap.Int("decimals", cfg.Decimals),
			zap.String("endpoint", cfg.ChainEndpoint),
		)
	}

	if err := cfg.Validate(); err != nil {
		return domain.TokenConfig{}, errors.Wrap(err, "invalid token config")
	}

	p.cache.Set(tokenConfigKey, cfg, cache.NoExpiration)
	return cfg, nil
}

// Invalidate drops the cached configuration, e.g. after logout.
func (p *TokenConfigProvider) Invalidate() {
	p.cache.Delete(tokenConfigKey)
}

// fetch gives up at once on client errors; only 5xx and transport failures are retried.
func (p *TokenConfigProvider) fetch(ctx context.Context) (SubstrateConfig, error) {
	remote, err := p.source.SubstrateConfig(ctx)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		return remote, retrier.Permanent(err)
	}
	return remote, err
}

func mergeTokenConfig(cfg domain.TokenConfig, remote SubstrateConfig) (domain.TokenConfig, error) {
	if symbol := strings.TrimSpace(remote.TokenID); symbol != "" {
		cfg.Symbol = symbol
	}
	if rpc := strings.TrimSpace(remote.RPCURL); rpc != "" {
		cfg.ChainEndpoint = rpc
	}
	if remote.Decimals != nil {
		cfg.Decimals = *remote.Decimals
	}
	if remote.SS58Prefix != nil {
		if *remote.SS58Prefix < 0 || *remote.SS58Prefix > chain.MaxSS58Prefix {
			return domain.TokenConfig{}, errors.Errorf("backend served ss58 prefix %d, want 0..%d", *remote.SS58Prefix, chain.MaxSS58Prefix)
		}
		prefix := uint16(*remote.SS58Prefix)
		cfg.SS58Prefix = &prefix
	}
	if cfg.Chain == "" {
		cfg.Chain = domain.ChainSubstrate
	}
	return cfg, nil
}
