// Package checksum computes archive block checksums, session salts and the
// decimal wire format used to exchange them.
package checksum

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/md4" //nolint:staticcheck
)

// Block returns the 32-bit block checksum of words. Each word is encoded
// little-endian, the byte stream is MD4-hashed and the four digest words are
// XOR-folded. The result is deterministic across platforms; it is an
// identity mix, not a cryptographic commitment.
func Block(words []int32) int32 {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(w))
	}

	h := md4.New()
	_, _ = h.Write(buf)
	sum := h.Sum(nil)

	var v uint32
	for i := 0; i < 4; i++ {
		v ^= binary.LittleEndian.Uint32(sum[i*4:])
	}
	return int32(v)
}

// NewSalt returns a fresh random session salt.
func NewSalt() int32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is gone.
		panic(fmt.Sprintf("checksum: read random salt: %v", err))
	}
	return int32(binary.LittleEndian.Uint32(b[:]))
}

// FormatList renders values as decimal integers, each followed by a single
// space. The trailing space is part of the wire format peers expect.
func FormatList(values []int32) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.FormatInt(int64(v), 10))
		b.WriteByte(' ')
	}
	return b.String()
}

// ParseList parses a whitespace-separated list of decimal 32-bit integers.
// Values above the signed range are accepted and wrapped, since some peers
// print checksums unsigned.
func ParseList(s string) ([]int32, error) {
	fields := strings.Fields(s)
	out := make([]int32, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			u, uerr := strconv.ParseUint(f, 10, 32)
			if uerr != nil {
				return nil, fmt.Errorf("parse checksum %q: %w", f, err)
			}
			v = int64(int32(uint32(u)))
		}
		out = append(out, int32(v))
	}
	return out, nil
}
