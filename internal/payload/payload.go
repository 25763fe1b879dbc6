// Package payload builds the deterministic byte buffers carried by RTT probes
// and checks that echoed buffers came back intact.
package payload

import "bytes"

// Create returns size bytes where byte i holds i mod 256.
func Create(size int) []byte {
	if size <= 0 {
		return []byte{}
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

// Validate reports whether received is a byte-exact copy of original.
// A length or content mismatch is a corruption signal, never a panic.
func Validate(original, received []byte) bool {
	if len(original) != len(received) {
		return false
	}
	return bytes.Equal(original, received)
}
