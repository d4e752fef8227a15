package cache

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces all gateway cache keys in the backing stores.
const KeyPrefix = "api"

// Key identifies a cached upstream response.
type Key struct {
	// Endpoint is the upstream path (e.g. "/api/v1/home").
	Endpoint string

	// Params are the query parameters of the request.
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: api:<md5 of normalized endpoint + sorted encoded params>
//
// Identical (endpoint, params) pairs produce the same key regardless of
// parameter insertion order.
func (k Key) String() string {
	endpoint := "/" + strings.Trim(k.Endpoint, "/")

	keyData := endpoint
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		pairs := make([]string, 0, len(names))
		for _, name := range names {
			pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(k.Params[name]))
		}
		keyData = endpoint + "?" + strings.Join(pairs, "&")
	}

	sum := md5.Sum([]byte(keyData))
	return KeyPrefix + ":" + hex.EncodeToString(sum[:])
}

// StaleKey returns the key of the long-lived shadow copy.
func (k Key) StaleKey() string {
	return k.String() + ":stale"
}
