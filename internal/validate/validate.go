// Package validate checks connection profile fields before they are used.
package validate

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"

	moderr "github.com/lizzyg/qwenai/errors"
	"github.com/lizzyg/qwenai/internal/secret"
)

var apiKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^sk-[a-zA-Z0-9]{32,}$`),
	regexp.MustCompile(`^[a-zA-Z0-9_-]{20,}$`),
}

// APIKey checks the key format without ever echoing it. Relaxed mode accepts any
// non-blank key; local model servers are usually configured with placeholders.
func APIKey(key secret.Secret, relaxed bool) error {
	k := strings.TrimSpace(key.Reveal())
	if k == "" {
		return fmt.Errorf("%w: empty", moderr.ErrInvalidAPIKey)
	}
	if relaxed {
		return nil
	}
	if len(k) < 10 {
		return fmt.Errorf("%w: too short", moderr.ErrInvalidAPIKey)
	}
	for _, re := range apiKeyPatterns {
		if re.MatchString(k) {
			return nil
		}
	}
	return fmt.Errorf("%w: unrecognized format", moderr.ErrInvalidAPIKey)
}

var localSuffixes = []string{".local", ".lan", ".internal", ".home.arpa", ".localhost"}

// BaseURL parses raw and enforces HTTPS. Plain HTTP is accepted only with the
// local override and only for loopback, private-network or LAN-style hosts.
func BaseURL(raw string, allowLocal bool, logger *slog.Logger) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", moderr.ErrInvalidBaseURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable", moderr.ErrInvalidBaseURL)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url are not allowed", moderr.ErrInvalidBaseURL)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", moderr.ErrInvalidBaseURL)
	}
	if u.RawQuery != "" {
		return nil, fmt.Errorf("%w: query parameters are not allowed", moderr.ErrInvalidBaseURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		if IsLocalHost(host) && !isLoopback(host) && logger != nil {
			logger.Warn("private network url may not be reachable outside this network", slog.String("host", host))
		}
	case "http":
		if !allowLocal {
			return nil, fmt.Errorf("%w: https is required", moderr.ErrInvalidBaseURL)
		}
		if !IsLocalHost(host) {
			return nil, fmt.Errorf("%w: http is only allowed for local network hosts", moderr.ErrInvalidBaseURL)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", moderr.ErrInvalidBaseURL, u.Scheme)
	}
	return u, nil
}

// IsLocalHost reports whether host is loopback, a private or link-local
// address, a single-label name, or carries a LAN-only suffix.
func IsLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if isLoopback(host) {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsPrivate() || ip.IsLinkLocalUnicast()
	}
	if !strings.Contains(host, ".") {
		return true
	}
	for _, s := range localSuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Sampling bounds the generation options exposed in the options flow.
func Sampling(maxTokens int, temperature, topP float32) error {
	if maxTokens < 1 || maxTokens > 128000 {
		return fmt.Errorf("%w: max_tokens must be between 1 and 128000", moderr.ErrInvalidOption)
	}
	if temperature < 0 || temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", moderr.ErrInvalidOption)
	}
	if topP <= 0 || topP > 1 {
		return fmt.Errorf("%w: top_p must be in (0, 1]", moderr.ErrInvalidOption)
	}
	return nil
}
