// Package i18n renders user-visible messages in English, German or simplified
// Chinese. Every message is a static template, so nothing a caller passes
// through an error value can leak into the text.
package i18n

import (
	"context"
	"errors"
	"sync"

	moderr "github.com/lizzyg/qwenai/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supported = []language.Tag{language.English, language.German, language.SimplifiedChinese}

var (
	once    sync.Once
	cat     *catalog.Builder
	matcher language.Matcher
)

func load() {
	cat = catalog.NewBuilder(catalog.Fallback(language.English))
	for _, t := range translations {
		for i, msg := range []string{t.en, t.de, t.zh} {
			if err := cat.SetString(supported[i], t.key, msg); err != nil {
				panic(err)
			}
		}
	}
	matcher = language.NewMatcher(supported)
}

// Match returns the supported language closest to lang, a BCP 47 tag or an
// Accept-Language value. Anything unrecognized yields English.
func Match(lang string) language.Tag {
	once.Do(load)
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Text returns the message for key. Unknown keys are returned as-is.
func Text(key, lang string, args ...any) string {
	tag := Match(lang)
	p := message.NewPrinter(tag, message.Catalog(cat))
	return p.Sprintf(message.Key(key, key), args...)
}

// Has reports whether key is in the catalog.
func Has(key string) bool {
	_, ok := index[key]
	return ok
}

var index = func() map[string]struct{} {
	m := make(map[string]struct{}, len(translations))
	for _, t := range translations {
		m[t.key] = struct{}{}
	}
	return m
}()

// Message returns the localized text for err.
func Message(err error, lang string) string {
	if err == nil {
		return ""
	}
	return Text(ErrorKey(err), lang)
}

// ErrorKey maps err onto its catalog key. An exhausted retry budget wraps the
// last attempt's error, so timeouts are checked before the transient causes.
func ErrorKey(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "err.cancelled"
	case errors.Is(err, moderr.ErrAuth):
		return "err.auth"
	case errors.Is(err, moderr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "err.timeout"
	case errors.Is(err, moderr.ErrRateLimited):
		return "err.rate_limited"
	case errors.Is(err, moderr.ErrCannotConnect):
		return "err.cannot_connect"
	case errors.Is(err, moderr.ErrMalformedToolArguments):
		return "err.malformed_tool_arguments"
	case errors.Is(err, moderr.ErrUnsupportedFeature):
		return "err.unsupported_feature"
	case errors.Is(err, moderr.ErrInvalidAPIKey):
		return "err.invalid_api_key"
	case errors.Is(err, moderr.ErrInvalidBaseURL):
		return "err.invalid_base_url"
	case errors.Is(err, moderr.ErrInvalidOption):
		return "err.invalid_option"
	case errors.Is(err, moderr.ErrAlreadyConfigured):
		return "err.already_configured"
	case errors.Is(err, moderr.ErrEntryNotFound):
		return "err.entry_not_found"
	case errors.Is(err, moderr.ErrSubentryNotFound):
		return "err.subentry_not_found"
	case errors.Is(err, moderr.ErrNotLoaded):
		return "err.not_loaded"
	case errors.Is(err, moderr.ErrUnknownTool):
		return "err.unknown_tool"
	case errors.Is(err, moderr.ErrMaxToolIterations):
		return "err.max_tool_iterations"
	case errors.Is(err, moderr.ErrStructuredOutput):
		return "err.structured_output"
	case errors.Is(err, moderr.ErrBadRequest):
		return "err.bad_request"
	case errors.Is(err, moderr.ErrUpstream):
		return "err.upstream"
	}
	return "err.unknown"
}
