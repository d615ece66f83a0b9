package chain

import (
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// MaxSS58Prefix largest network prefix an SS58 address can carry.
const MaxSS58Prefix = 16383

const (
	accountIDLen    = 32
	ss58ChecksumLen = 2
)

var ss58Context = []byte("SS58PRE")

// SS58 accepts substrate addresses for 32-byte account ids.
type SS58 struct {
	// Prefix pins the network; nil accepts any.
	Prefix *uint16
}

func (v SS58) ValidateAddress(address string) error {
	if address == "" {
		return errors.Wrap(ErrInvalidAddress, "empty address")
	}

	_, prefix, err := DecodeSS58(address)
	if err != nil {
		return err
	}
	if v.Prefix != nil && *v.Prefix != prefix {
		return errors.Wrapf(ErrInvalidAddress, "address network prefix %d, expected %d", prefix, *v.Prefix)
	}
	return nil
}

// DecodeSS58 returns the account id and network prefix encoded in address.
func DecodeSS58(address string) ([]byte, uint16, error) {
	data, err := base58.Decode(address)
	if err != nil {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q is not base58", address)
	}
	if len(data) < 2 {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q is too short", address)
	}

	var (
		prefix    uint16
		prefixLen int
	)
	switch {
	case data[0] < 64:
		prefix, prefixLen = uint16(data[0]), 1
	case data[0] < 128:
		lower := (uint16(data[0])<<2 | uint16(data[1])>>6) & 0xff
		upper := uint16(data[1] & 0x3f)
		prefix, prefixLen = lower|upper<<8, 2
	default:
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q uses a reserved prefix", address)
	}

	if len(data) != prefixLen+accountIDLen+ss58ChecksumLen {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q has unexpected length %d", address, len(data))
	}

	payload := data[:len(data)-ss58ChecksumLen]
	sum := ss58Checksum(payload)
	if sum[0] != data[len(data)-2] || sum[1] != data[len(data)-1] {
		return nil, 0, errors.Wrapf(ErrInvalidAddress, "%q has a bad checksum", address)
	}

	accountID := make([]byte, accountIDLen)
	copy(accountID, payload[prefixLen:])
	return accountID, prefix, nil
}

// EncodeSS58 renders a 32-byte account id for the given network prefix.
func EncodeSS58(accountID []byte, prefix uint16) (string, error) {
	if len(accountID) != accountIDLen {
		return "", errors.Errorf("account id must be %d bytes, got %d", accountIDLen, len(accountID))
	}

	var payload []byte
	switch {
	case prefix < 64:
		payload = append(payload, byte(prefix))
	case prefix <= MaxSS58Prefix:
		first := byte((prefix&0xfc)>>2) | 0x40
		second := byte(prefix>>8) | byte((prefix&0x03)<<6)
		payload = append(payload, first, second)
	default:
		return "", errors.Errorf("ss58 prefix %d out of range", prefix)
	}
	payload = append(payload, accountID...)

	sum := ss58Checksum(payload)
	return base58.Encode(append(payload, sum[:ss58ChecksumLen]...)), nil
}

func ss58Checksum(payload []byte) [blake2b.Size]byte {
	buf := make([]byte, 0, len(ss58Context)+len(payload))
	buf = append(buf, ss58Context...)
	buf = append(buf, payload...)
	return blake2b.Sum512(buf)
}
