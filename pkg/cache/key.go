package cache

import (
	"fmt"
	"sort"
	"strings"
)

const keyPrefix = "batchflow"

// CacheKey identifies one cached batch of a list source.
type CacheKey struct {
	// Source is the list source name (e.g. "markets").
	Source string

	// Params are the configuration values the batch depends on
	// (e.g. {"order": "desc", "currency": "usd"}).
	Params map[string]string

	// Page is the batch key rendered as text.
	Page string
}

// String generates a deterministic cache key string.
// Format: batchflow:source:param1=val1:param2=val2:page=N
//
// Example:
//
//	batchflow:markets:currency=usd:order=desc:page=2
func (k CacheKey) String() string {
	parts := []string{keyPrefix, k.Source}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			// Empty filters are left out so that {"search": ""} and {} share entries.
			if k.Params[name] == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", name, escape(k.Params[name])))
		}
	}

	parts = append(parts, "page="+k.Page)
	return strings.Join(parts, ":")
}

// SourcePattern matches every key stored for source.
func SourcePattern(source string) string {
	return keyPrefix + ":" + source + ":*"
}

// escape keeps user supplied values (search terms) from producing separators
// or glob characters inside a key.
func escape(v string) string {
	return strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"*", "%2A",
		"?", "%3F",
		"[", "%5B",
		" ", "%20",
	).Replace(v)
}
