package registry

import "strings"

// charset is the 5-bit alphabet used by the encoded channel feeds. Each
// character carries one 5-bit value; values stream MSB-first into bytes.
const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrst"

var charToVal = func() map[rune]uint32 {
	m := make(map[rune]uint32, len(charset))
	for i, c := range charset {
		m[c] = uint32(i)
	}
	return m
}()

// DecodePayload decodes the custom 5-bit encoding used by the remote channel
// feeds into a UTF-8 string. Padding, whitespace and unknown characters are
// skipped; trailing bits that do not fill a byte are discarded.
func DecodePayload(text string) string {
	var out []byte
	var buffer uint32
	bits := 0

	for _, ch := range strings.TrimSpace(text) {
		val, ok := charToVal[ch]
		if !ok {
			continue
		}

		buffer = buffer<<5 | val
		bits += 5

		for bits >= 8 {
			bits -= 8
			out = append(out, byte(buffer>>uint(bits)))
			buffer &= (1 << uint(bits)) - 1
		}
	}

	return string(out)
}
