// Package id generates and derives ledger object identifiers.
//
// Identifiers are 0x-prefixed lowercase hex. Fresh identifiers are random;
// derived identifiers are deterministic over their inputs so lookups can
// recompute a storage key (balance slot, policy slot, personal capability)
// without an index scan.
package id

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const byteLen = 20

// New returns a fresh random identifier.
func New() string {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("read random identifier bytes: %v", err))
	}
	return "0x" + hex.EncodeToString(buf)
}

// Derive returns a deterministic identifier for a namespaced storage slot.
// The same namespace and parts always produce the same identifier.
func Derive(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[:byteLen])
}

// Valid reports whether value looks like a well-formed identifier.
func Valid(value string) bool {
	if !strings.HasPrefix(value, "0x") {
		return false
	}
	body := value[2:]
	if len(body) != byteLen*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}
