// Package obyte validates ledger addresses and device addresses.
//
// An address is the base32 encoding of 160 bits: 128 bits of clean data
// with a 32-bit checksum interleaved at fixed offsets derived from the
// digits of pi. The checksum is bytes 5, 13, 21 and 29 of the sha256 of
// the clean data. Device addresses are the same thing prefixed with "0".
package obyte

import (
	"crypto/sha256"
	"encoding/base32"
	"strings"
)

const piDigits = "14159265358979323846264338327950288419716939937510"

const (
	chashBits    = 160
	checksumBits = 32
)

var codec = base32.StdEncoding.WithPadding(base32.NoPadding)

// checksum bit positions inside the 160-bit mixed string
var offsets160 = calcOffsets(chashBits)

func calcOffsets(chashLength int) []int {
	var arr []int
	offset := 0
	for i := 0; offset < chashLength; i++ {
		d := int(piDigits[i] - '0')
		if d == 0 {
			continue
		}
		offset += d
		if offset >= chashLength {
			break
		}
		arr = append(arr, offset)
	}
	if len(arr) != checksumBits {
		panic("wrong number of checksum bits")
	}
	return arr
}

// IsValidAddress reports whether addr is a well-formed ledger address
// with a matching checksum.
func IsValidAddress(addr string) bool {
	if len(addr) != 32 || addr != strings.ToUpper(addr) {
		return false
	}
	data, err := codec.DecodeString(addr)
	if err != nil || len(data) != chashBits/8 {
		return false
	}

	bin := toBits(data)
	clean, checksum := separate(bin)
	return checksumOf(fromBits(clean)) == checksum
}

// IsValidDeviceAddress reports whether addr is a valid device address:
// a "0" followed by a valid 32-character chash.
func IsValidDeviceAddress(addr string) bool {
	return len(addr) == 33 && addr[0] == '0' && IsValidAddress(addr[1:])
}

// separate splits the mixed bit string into clean data and checksum bits.
func separate(bin string) (clean, checksum string) {
	var cleanSB, checkSB strings.Builder
	start := 0
	for _, off := range offsets160 {
		cleanSB.WriteString(bin[start:off])
		checkSB.WriteByte(bin[off])
		start = off + 1
	}
	if start < len(bin) {
		cleanSB.WriteString(bin[start:])
	}
	return cleanSB.String(), checkSB.String()
}

func checksumOf(cleanData []byte) string {
	full := sha256.Sum256(cleanData)
	return toBits([]byte{full[5], full[13], full[21], full[29]})
}

func toBits(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 8)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			if b&(1<<uint(i)) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

func fromBits(bin string) []byte {
	out := make([]byte, len(bin)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b <<= 1
			if bin[i*8+j] == '1' {
				b |= 1
			}
		}
		out[i] = b
	}
	return out
}
