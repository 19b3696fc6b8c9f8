package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// The version suffix allows the digest algorithm to change later.
const (
	DomainCommand = "viewsync/command/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CommandDigest computes the content digest of a command.
// Two deliveries of the same id with different digests are a collision.
func CommandDigest(cmd Command) (string, error) {
	cmd = cmd.Normalize()
	obj := map[string]any{
		"id":     cmd.ID,
		"method": cmd.Method,
		"args":   cmd.Args,
		"kwargs": cmd.Kwargs,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CommandDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCommand, canonical), nil
}

// MustCommandDigest is like CommandDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCommandDigest(cmd Command) string {
	d, err := CommandDigest(cmd)
	if err != nil {
		panic(err)
	}
	return d
}
