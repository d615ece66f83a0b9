// Package chain validates account addresses for the chains the wallet supports.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

// ErrInvalidAddress is wrapped by every validation failure.
var ErrInvalidAddress = errors.New("invalid address")

// AddressValidator checks that an address is well formed for one chain.
type AddressValidator interface {
	ValidateAddress(address string) error
}

// ForChain returns the validator matching the token configuration.
func ForChain(token domain.TokenConfig) (AddressValidator, error) {
	switch token.Chain {
	case domain.ChainSubstrate:
		return SS58{Prefix: token.SS58Prefix}, nil
	case domain.ChainEVM:
		return EVM{}, nil
	default:
		return nil, fmt.Errorf("unsupported chain kind: %q", token.Chain)
	}
}

// EVM accepts 0x-prefixed 20-byte hex addresses. Mixed-case input must carry
// a valid EIP-55 checksum.
type EVM struct{}

func (EVM) ValidateAddress(address string) error {
	if address == "" {
		return errors.Wrap(ErrInvalidAddress, "empty address")
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return errors.Wrapf(ErrInvalidAddress, "%q has no 0x prefix", address)
	}
	if !common.IsHexAddress(address) {
		return errors.Wrapf(ErrInvalidAddress, "%q is not a 20-byte hex address", address)
	}

	body := address[2:]
	if strings.ToLower(body) != body && strings.ToUpper(body) != body {
		if common.HexToAddress(address).Hex() != "0x"+body {
			return errors.Wrapf(ErrInvalidAddress, "%q has a bad EIP-55 checksum", address)
		}
	}
	return nil
}
