// Package contenthash produces stable, version-tagged digests used as cache keys.
//
// A digest has the form "<tag>:<sha256 hex>". The tag encodes the extractor,
// schema and algorithm versions, so bumping any of them makes every stored
// digest non-current without touching the stores.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Bump ExtractorVersion whenever text extraction output changes, SchemaVersion
// when analysis/profile shapes change, AlgorithmVersion when embedding
// combination or profiling math changes.
const (
	ExtractorVersion = 2
	SchemaVersion    = 1
	AlgorithmVersion = 1
)

var currentTag = fmt.Sprintf("e%d.s%d.a%d", ExtractorVersion, SchemaVersion, AlgorithmVersion)

// Tag returns the version tag carried by every digest produced by this build.
func Tag() string {
	return currentTag
}

// Hash canonicalizes value as JSON (map keys sorted) and digests it.
func Hash(value interface{}) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return HashBytes(b), nil
}

// MustHash is Hash for values that always marshal, such as plain config structs.
func MustHash(value interface{}) string {
	d, err := Hash(value)
	if err != nil {
		panic(err)
	}
	return d
}

// HashBytes digests raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return currentTag + ":" + hex.EncodeToString(sum[:])
}

// HashString digests a string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashSet digests a set of strings independently of order and duplicates.
func HashSet(items []string) string {
	return MustHash(SortedSet(items))
}

// SortedSet returns the sorted, de-duplicated copy of items. Never nil.
func SortedSet(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// IsCurrent reports whether digest was produced under the current version tag.
func IsCurrent(digest string) bool {
	tag, _, ok := strings.Cut(digest, ":")
	return ok && tag == currentTag
}
