package audit

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefix for content-addressed issue identity. The version suffix
// allows a future migration to change the key algorithm without colliding
// with keys already persisted in resume stores.
const domainIssue = "kestrel/issue/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Key returns the stable identity of an issue.
//
// DESIGN DECISION: Severity is intentionally EXCLUDED from the key. The key
// answers "is this the same finding as last pass?" for the stuck-fix
// tracker; a finding that gets reclassified from warning to error between
// passes is still the same finding, and counting it as new would defeat the
// pivot guard.
func (i Issue) Key() string {
	canonical, err := marshalCanonicalObject(map[string]string{
		"description": i.Description,
		"location":    i.Location,
	})
	if err != nil {
		// marshalCanonicalObject on two plain strings cannot fail; treat
		// anything else as a programming error.
		panic("audit: issue key: " + err.Error())
	}
	return hashWithDomain(domainIssue, canonical)
}

// Keys returns the stable keys for a slice of issues, in input order.
func Keys(issues []Issue) []string {
	keys := make([]string, len(issues))
	for i, issue := range issues {
		keys[i] = issue.Key()
	}
	return keys
}
