// Package secret keeps API keys out of logs, errors and JSON payloads.
package secret

import (
	"fmt"
	"log/slog"
	"strings"
)

const mask = "**********"

// Secret is an opaque credential. Every formatting path renders a mask; only
// Reveal and the YAML codec (used by the entry store) expose the value.
type Secret string

// Reveal returns the underlying value.
func (s Secret) Reveal() string { return string(s) }

// Empty reports whether the secret is blank after trimming.
func (s Secret) Empty() bool { return strings.TrimSpace(string(s)) == "" }

func (s Secret) String() string   { return mask }
func (s Secret) GoString() string { return mask }

func (s Secret) Format(f fmt.State, _ rune) { _, _ = f.Write([]byte(mask)) }

func (s Secret) LogValue() slog.Value { return slog.StringValue(mask) }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + mask + `"`), nil }

func (s Secret) MarshalText() ([]byte, error) { return []byte(mask), nil }

func (s Secret) MarshalYAML() (any, error) { return string(s), nil }

// Redact replaces every occurrence of the given secrets in text.
func Redact(text string, secrets ...Secret) string {
	for _, s := range secrets {
		v := strings.TrimSpace(string(s))
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, v, mask)
	}
	return text
}
