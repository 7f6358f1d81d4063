package extract

import (
	"fmt"
	"sort"
	"strings"
)

// parseSnippetLen bounds how much raw reply content a JSONParseError carries
// for diagnostics.
const parseSnippetLen = 500

// JSONParseError means the provider replied but the reply did not decode
// into the expected extraction schema. Not retried and not treated as a
// provider failure: the same prompt would fail the same way on a fallback.
type JSONParseError struct {
	Provider string
	Reason   string
	Snippet  string
	Err      error
}

func (e *JSONParseError) Error() string {
	return fmt.Sprintf("parse %s reply: %s (content: %.500q)", e.Provider, e.Reason, e.Snippet)
}

func (e *JSONParseError) Unwrap() error { return e.Err }

func newParseError(provider, reason, content string, err error) *JSONParseError {
	// Truncate on a rune boundary so a multibyte character is never split.
	snippet := content
	runes := 0
	for i := range content {
		if runes == parseSnippetLen {
			snippet = content[:i]
			break
		}
		runes++
	}
	return &JSONParseError{Provider: provider, Reason: reason, Snippet: snippet, Err: err}
}

// AllProvidersFailedError aggregates every provider's terminal error for one
// extraction call. The only error type carrying structured multi-provider
// detail; callers catch it per paper and continue the batch.
type AllProvidersFailedError struct {
	ProviderErrors map[string]string
}

func (e *AllProvidersFailedError) Error() string {
	names := make([]string, 0, len(e.ProviderErrors))
	for name := range e.ProviderErrors {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("all providers failed:")
	for _, name := range names {
		fmt.Fprintf(&b, " %s: %s;", name, e.ProviderErrors[name])
	}
	return strings.TrimSuffix(b.String(), ";")
}
