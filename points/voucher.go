package points

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// DefaultVoucherPrefix is the fixed prefix of generated voucher codes.
const DefaultVoucherPrefix = "AIDA"

// VoucherGenerator produces candidate voucher codes. Uniqueness is enforced
// by the store, not by the generator.
type VoucherGenerator interface {
	NewCode() (string, error)
}

// RandomVouchers generates PREFIX-XXXX-XXXX codes from a cryptographically
// strong source. Codes carry no user, reward or sequence information.
type RandomVouchers struct {
	Prefix string
	Source io.Reader // crypto/rand.Reader when nil
}

func (g RandomVouchers) NewCode() (string, error) {
	src := g.Source
	if src == nil {
		src = rand.Reader
	}
	var buf [4]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return "", fmt.Errorf("read voucher entropy: %w", err)
	}
	raw := strings.ToUpper(hex.EncodeToString(buf[:]))

	prefix := g.Prefix
	if prefix == "" {
		prefix = DefaultVoucherPrefix
	}
	return prefix + "-" + raw[:4] + "-" + raw[4:], nil
}
