package domain

import "fmt"

// ChainKind selects the chain transport and the address format.
type ChainKind string

const (
	ChainSubstrate ChainKind = "substrate"
	ChainEVM       ChainKind = "evm"
)

func (c ChainKind) IsValid() bool {
	return c == ChainSubstrate || c == ChainEVM
}

// TokenConfig describes the token the wallet works with. Read-only once loaded.
type TokenConfig struct {
	Symbol        string
	ChainEndpoint string
	Chain         ChainKind
	Decimals      int
	// SS58Prefix restricts substrate addresses to one network; nil accepts any prefix.
	SS58Prefix *uint16
}

// Validate checks that the config can drive a wallet session.
func (c TokenConfig) Validate() error {
	if c.Decimals < 0 {
		return fmt.Errorf("token decimals must be >= 0, got %d", c.Decimals)
	}
	if c.Symbol == "" {
		return fmt.Errorf("token symbol is required")
	}
	if c.ChainEndpoint == "" {
		return fmt.Errorf("chain endpoint is required")
	}
	if !c.Chain.IsValid() {
		return fmt.Errorf("unsupported chain kind %q", c.Chain)
	}
	return nil
}
