package machdef

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDefinition prefixes definition hashes. Hashing under a domain
// keeps a definition identity from colliding with any other artifact
// that happens to serialize to the same bytes.
const DomainDefinition = "warden.machdef"

// Identity returns the content-addressed identity of the definition:
// SHA-256 over the domain prefix, a null separator and the canonical
// JSON, rendered as lowercase hex. Trace runs and snapshots record it.
func (d *Definition) Identity() (string, error) {
	canonical, err := d.MarshalCanonical()
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// hashWithDomain computes SHA256(domain || 0x00 || data). The null byte
// separates domain from payload so neither can impersonate a prefix of
// the other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
