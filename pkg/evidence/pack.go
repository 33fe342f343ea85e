// Package evidence implements the evidence-pack hashing, RSASSA-PSS signing,
// and notarization record management described for the evidence-pack
// signer/notary component.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// ComputePackHash computes the deterministic content-addressable hash of an
// evidence pack: archive entries are iterated in lexicographic order of
// filename, and for each entry the filename bytes are fed into the hash
// followed by the file's content bytes. The result is identical for two
// archives containing the same files with the same content, regardless of
// on-disk ordering or metadata.
func ComputePackHash(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write(files[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}
