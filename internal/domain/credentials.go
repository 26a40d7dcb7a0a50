package domain

import (
	"sort"
	"strings"
)

// MaskPlaceholder replaces sensitive credential values in masked output.
const MaskPlaceholder = "***MASKED***"

var sensitiveMarkers = []string{"password", "key", "token", "secret"}

// Credentials is the flat credential bundle handed to a data source.
type Credentials map[string]string

// IsSensitiveKey reports whether a credential key holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Mask returns a copy safe for logs and API responses. c is not modified.
func (c Credentials) Mask() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		if v != "" && IsSensitiveKey(k) {
			out[k] = MaskPlaceholder
			continue
		}
		out[k] = v
	}
	return out
}

// Get returns the first non-empty value among keys.
func (c Credentials) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c[k]); v != "" {
			return v
		}
	}
	return ""
}

// Has reports whether every key is present and non-empty.
func (c Credentials) Has(keys ...string) bool {
	for _, k := range keys {
		if strings.TrimSpace(c[k]) == "" {
			return false
		}
	}
	return true
}

// Merge returns a copy of c overlaid with the non-empty values of other.
func (c Credentials) Merge(other Credentials) Credentials {
	out := make(Credentials, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Keys returns the credential keys in sorted order.
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
