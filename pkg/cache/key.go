package cache

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// CredentialParam is the query parameter carrying the upstream API key.
// It never contributes to a fingerprint.
const CredentialParam = "key"

// KindJSON is the kind tag of cached JSON response bodies.
const KindJSON = "json"

// fingerprintJoin separates the upstream path from the canonical query string
// when hashing. It is part of the wire-compatible key format.
const fingerprintJoin = "#"

// CacheKey identifies a cached upstream response.
// Format: {namespace}:{fingerprint}:{kind}
type CacheKey struct {
	// Namespace is the configured Redis namespace (e.g. "cache-geo")
	Namespace string

	// Fingerprint is the hex-encoded SHA-1 of the request's logical identity
	Fingerprint string

	// Kind tags the stored payload type (always "json" today)
	Kind string
}

// String returns the Redis key.
//
// Example:
//
//	cache-geo:3f786850e387550fdab836ed7e6dc881de23001b:json
func (k CacheKey) String() string {
	return strings.Join([]string{k.Namespace, k.Fingerprint, k.Kind}, ":")
}

// DeriveKey builds the cache key for an upstream path and the query as received.
// The credential parameter is stripped here, callers must pass the full query.
func DeriveKey(namespace, path string, query url.Values) CacheKey {
	return CacheKey{
		Namespace:   namespace,
		Fingerprint: fingerprint(path + fingerprintJoin + CanonicalQuery(query)),
		Kind:        KindJSON,
	}
}

// CanonicalQuery renders query without the credential, names sorted by byte
// order, values percent-encoded. Repeated values keep their received order.
func CanonicalQuery(query url.Values) string {
	names := make([]string, 0, len(query))
	for name := range query {
		if name == CredentialParam {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		for _, value := range query[name] {
			parts = append(parts, name+"="+percentEncode(value))
		}
	}
	return strings.Join(parts, "&")
}

// DeriveLegacyKeys returns the keys earlier deployments wrote for the same
// request, most recent scheme first. They are only used for migration lookups.
//
// Rules:
//   - current canonical form joined with '?' instead of '#'
//   - path plus the raw query map in received order (JSON object)
//   - the full raw request URI, credential included
func DeriveLegacyKeys(namespace, path, requestURI string, query url.Values) []CacheKey {
	rawQuery := ""
	if i := strings.IndexByte(requestURI, '?'); i >= 0 {
		rawQuery = requestURI[i+1:]
	}

	seeds := []string{
		path + "?" + CanonicalQuery(query),
		path + rawQueryMap(rawQuery),
		requestURI,
	}

	keys := make([]CacheKey, 0, len(seeds))
	for _, seed := range seeds {
		keys = append(keys, CacheKey{
			Namespace:   namespace,
			Fingerprint: fingerprint(seed),
			Kind:        KindJSON,
		})
	}
	return keys
}

func fingerprint(seed string) string {
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// percentEncode is url.QueryEscape with spaces as %20 rather than '+'.
// Unlike encodeURIComponent it also escapes the sub-delimiters ! ' ( ) *.
// Only the current '#' scheme hashes this form, so the difference never has
// to match a key written elsewhere.
func percentEncode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// rawQueryMap serializes a raw query string as a JSON object preserving the
// order in which parameter names first appeared. Repeated names become arrays.
func rawQueryMap(rawQuery string) string {
	var order []string
	values := make(map[string][]string)

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		if n, err := url.QueryUnescape(name); err == nil {
			name = n
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		if _, seen := values[name]; !seen {
			order = append(order, name)
		}
		values[name] = append(values[name], value)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONValue(&buf, name)
		buf.WriteByte(':')

		if vs := values[name]; len(vs) == 1 {
			writeJSONValue(&buf, vs[0])
		} else {
			writeJSONValue(&buf, vs)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}

// writeJSONValue appends v without HTML escaping, so '&' and '<' stay literal
// as they did in the keys written by earlier deployments.
func writeJSONValue(buf *bytes.Buffer, v any) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v) // strings and string slices always encode
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
}
