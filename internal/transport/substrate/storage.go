package substrate

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// systemAccountPrefix is twox128("System") ++ twox128("Account").
const systemAccountPrefix = "26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9"

// accountInfoMinLen nonce, consumers, providers, sufficients (u32 each) and free (u128).
const accountInfoMinLen = 16 + 16

// AccountStorageKey returns the hex storage key of System.Account for a 32-byte account id.
func AccountStorageKey(accountID []byte) (string, error) {
	if len(accountID) != 32 {
		return "", errors.Errorf("account id must be 32 bytes, got %d", len(accountID))
	}

	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", errors.Wrap(err, "init blake2_128")
	}
	h.Write(accountID)

	return "0x" + systemAccountPrefix + hex.EncodeToString(h.Sum(nil)) + hex.EncodeToString(accountID), nil
}

// DecodeFreeBalance extracts AccountInfo.data.free from SCALE-encoded storage.
// Empty storage means the account does not exist yet and has zero balance.
func DecodeFreeBalance(storage string) (*big.Int, error) {
	raw, err := decodeHex(storage)
	if err != nil {
		return nil, errors.Wrap(err, "decode account storage")
	}
	if len(raw) == 0 {
		return new(big.Int), nil
	}
	if len(raw) < accountInfoMinLen {
		return nil, errors.Errorf("account info too short: %d bytes", len(raw))
	}

	free := raw[16:32]
	// u128 is little endian; big.Int wants big endian.
	be := make([]byte, len(free))
	for i, b := range free {
		be[len(free)-1-i] = b
	}

	return new(big.Int).SetBytes(be), nil
}

func parseBlockNumber(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse block number %q", s)
	}
	return n, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
