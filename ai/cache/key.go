package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Namespaces keep unrelated entries from colliding even when their
// parts happen to match.
const (
	NamespaceLLM       = "llm"
	NamespaceEmbedding = "embedding"
	NamespaceWeather   = "weather"
	NamespaceSearch    = "search"
	NamespaceCalendar  = "calendar"
)

// Key derives a stable cache key from a namespace and its parts. Parts
// are joined with a unit separator before hashing so ("ab","c") and
// ("a","bc") never map to the same key.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}
