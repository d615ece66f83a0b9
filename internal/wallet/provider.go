package wallet

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
	"github.com/vadiminshakov/tokenswallet/internal/transport/evm"
	"github.com/vadiminshakov/tokenswallet/internal/transport/substrate"
)

// TransportProvider creates the chain transport for a chain kind.
type TransportProvider interface {
	Transport(chain domain.ChainKind) (feed.Transport, error)
}

// chainTransports is the single point of dispatch to chain-specific transports.
// Each transport is created once and shared by every feed of the process.
type chainTransports struct {
	logger *zap.Logger

	substrateOnce sync.Once
	substrate     *substrate.Transport
	evmOnce       sync.Once
	evm           *evm.Transport
}

// NewTransportProvider returns the provider backed by the substrate and EVM transports.
func NewTransportProvider(logger *zap.Logger) TransportProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &chainTransports{logger: logger}
}

func (p *chainTransports) Transport(chain domain.ChainKind) (feed.Transport, error) {
	switch chain {
	case domain.ChainSubstrate:
		p.substrateOnce.Do(func() {
			p.substrate = substrate.New(p.logger.Named("substrate"))
		})
		return p.substrate, nil
	case domain.ChainEVM:
		p.evmOnce.Do(func() {
			p.evm = evm.New(p.logger.Named("evm"))
		})
		return p.evm, nil
	default:
		return nil, fmt.Errorf("unsupported chain kind: %q", chain)
	}
}
