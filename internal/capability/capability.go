// Package capability maps OpenAI-compatible base URLs to the request features
// each provider accepts, together with the small amount of per-provider request
// shaping (extra body fields, headers, auth header) the adapter applies.
package capability

import (
	"net/url"
	"sort"
	"strings"
)

// Flags are the optional request features a provider supports.
type Flags struct {
	StructuredOutput bool
	ToolCalling      bool
	Vision           bool
}

// Adapter is provider-specific request shaping. It is data, not behavior: the
// OpenAI client interprets it.
type Adapter struct {
	// ExtraBody is merged into the top level of every chat request body.
	ExtraBody map[string]any
	// Headers are set on every request.
	Headers map[string]string
	// AuthHeader names the header carrying the key. Empty means
	// "Authorization: Bearer <key>".
	AuthHeader string
	// RequireJSONKeyword is set when the provider rejects json_schema requests
	// unless a system or user message mentions "json".
	RequireJSONKeyword bool
	ChatPath           string
	ModelsPath         string
}

// Provider is one row of the capability table.
type Provider struct {
	Name        string
	DisplayName string
	// Prefix is matched against host[:port]/path of the base URL. A leading
	// "*." matches any subdomain.
	Prefix  string
	Flags   Flags
	Adapter Adapter
}

// ChatPath returns the chat completions path relative to the base URL.
func (p Provider) ChatPath() string {
	if p.Adapter.ChatPath != "" {
		return p.Adapter.ChatPath
	}
	return "/chat/completions"
}

// ModelsPath returns the model listing path relative to the base URL.
func (p Provider) ModelsPath() string {
	if p.Adapter.ModelsPath != "" {
		return p.Adapter.ModelsPath
	}
	return "/models"
}

// Generic is returned for unknown endpoints: plain chat, nothing optional.
var Generic = Provider{Name: "generic", DisplayName: "OpenAI-compatible"}

// Table is an immutable, longest-prefix-first list of providers.
type Table struct {
	entries []Provider
}

// New builds a table. Later providers replace earlier ones with the same prefix.
func New(providers ...Provider) *Table {
	byPrefix := make(map[string]int, len(providers))
	entries := make([]Provider, 0, len(providers))
	for _, p := range providers {
		p.Prefix = normalizePrefix(p.Prefix)
		if p.Prefix == "" {
			continue
		}
		if i, ok := byPrefix[p.Prefix]; ok {
			entries[i] = p
			continue
		}
		byPrefix[p.Prefix] = len(entries)
		entries = append(entries, p)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if len(entries[i].Prefix) != len(entries[j].Prefix) {
			return len(entries[i].Prefix) > len(entries[j].Prefix)
		}
		return entries[i].Prefix < entries[j].Prefix
	})
	return &Table{entries: entries}
}

// With returns a new table containing t's providers plus extra.
func (t *Table) With(extra ...Provider) *Table {
	all := make([]Provider, 0, len(t.entries)+len(extra))
	all = append(all, t.entries...)
	all = append(all, extra...)
	return New(all...)
}

// Providers returns the rows in match order.
func (t *Table) Providers() []Provider {
	return append([]Provider(nil), t.entries...)
}

// Lookup returns the provider whose prefix is the longest match for baseURL,
// or Generic.
func (t *Table) Lookup(baseURL string) Provider {
	if t == nil {
		return Generic
	}
	host, path, ok := normalizeURL(baseURL)
	if !ok {
		return Generic
	}
	key := host + path
	for _, p := range t.entries {
		if matches(p.Prefix, host, key) {
			return p
		}
	}
	return Generic
}

func matches(prefix, host, key string) bool {
	if rest, ok := strings.CutPrefix(prefix, "*."); ok {
		h, _, _ := strings.Cut(rest, "/")
		if !strings.HasSuffix(host, "."+h) {
			return false
		}
		return rest == h || strings.HasPrefix(key[len(host)-len(h):], rest) && boundary(key[len(host)-len(h):], rest)
	}
	return strings.HasPrefix(key, prefix) && boundary(key, prefix)
}

// boundary rejects matches that stop in the middle of a host or path segment.
func boundary(key, prefix string) bool {
	return len(key) == len(prefix) || key[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}

func normalizeURL(raw string) (host, path string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	return strings.ToLower(u.Host), strings.TrimRight(u.Path, "/"), true
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if _, rest, ok := strings.Cut(prefix, "://"); ok {
		prefix = rest
	}
	prefix = strings.TrimRight(prefix, "/")
	host, path, _ := strings.Cut(prefix, "/")
	if path == "" {
		return strings.ToLower(host)
	}
	return strings.ToLower(host) + "/" + path
}
