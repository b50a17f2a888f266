package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// canonicalTimeFormat renders timestamps for hashing. Entries are truncated
// to microseconds at append time so the rendered form survives a round trip
// through timestamptz columns; re-serialization must not change the hash.
const canonicalTimeFormat = time.RFC3339Nano

// fieldEscaper makes the newline-and-equals framing injective. Field content
// is caller-supplied, so without escaping a single metadata value containing
// a separator would canonicalize to the same bytes as two distinct fields,
// and a tamperer could swap one form for the other undetected.
var fieldEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "=", `\=`)

// computeHash derives the integrity hash for an entry from the previous
// entry's hash and the entry's canonicalized fields.
//
// Canonical form, one field per line, with `\`, newline and `=` in field
// content backslash-escaped:
//
//	previousHash
//	actorID
//	action
//	entityID
//	timestamp (UTC, RFC3339Nano)
//	k=v for each metadata key in ascending key order
//
// SHA-256 of the UTF-8 bytes, lowercase hex. The previous hash is the empty
// string for the first entry in the chain.
func computeHash(previousHash string, e Entry) string {
	var b strings.Builder
	b.WriteString(previousHash)
	b.WriteByte('\n')
	b.WriteString(fieldEscaper.Replace(string(e.ActorID)))
	b.WriteByte('\n')
	b.WriteString(fieldEscaper.Replace(e.Action))
	b.WriteByte('\n')
	b.WriteString(fieldEscaper.Replace(e.EntityID))
	b.WriteByte('\n')
	b.WriteString(e.Timestamp.UTC().Format(canonicalTimeFormat))

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(fieldEscaper.Replace(k))
		b.WriteByte('=')
		b.WriteString(fieldEscaper.Replace(e.Metadata[k]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
