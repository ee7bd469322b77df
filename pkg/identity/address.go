// Package identity is the caller-identity collaborator: it parses and
// checksums party addresses and issues/validates the bearer tokens that
// bind an HTTP request to an address.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

var (
	// ErrInvalidAddress is returned for strings that are not 20-byte hex addresses.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrBadChecksum is returned for mixed-case addresses whose EIP-55
	// checksum does not verify.
	ErrBadChecksum = errors.New("address checksum mismatch")
)

// Checksum returns the EIP-55 mixed-case form of a 40-digit hex address
// (without the 0x prefix).
func Checksum(hexAddr string) string {
	lower := strings.ToLower(hexAddr)
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

// ParseAddress validates s and returns it in checksummed form. All-lower and
// all-upper inputs are accepted as-is; mixed case must carry a valid
// checksum.
func ParseAddress(s string) (contracts.Identity, error) {
	s = strings.TrimSpace(s)
	body, ok := strings.CutPrefix(s, "0x")
	if !ok {
		body, ok = strings.CutPrefix(s, "0X")
	}
	if !ok || len(body) != 40 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	sum := Checksum(body)
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && body != sum {
		return "", fmt.Errorf("%w: %q", ErrBadChecksum, s)
	}
	return contracts.Identity("0x" + sum), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) contracts.Identity {
	id, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return id
}
