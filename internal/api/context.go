package api

import (
	"net/http"
	"strings"

	"github.com/hyperengineering/entsync/internal/execctx"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// Request headers that shape a sync call.
const (
	HeaderIndexingBehavior = "indexing-behavior"
	HeaderIndexingSkip     = "indexing-skip"
	HeaderSourceID         = "x-source-id"
	HeaderCurrency         = "x-currency"
	HeaderAcceptLanguage   = "Accept-Language"
)

// ExecContextFromRequest builds the execution context of an API call.
// Missing headers fall back to the execctx defaults.
func ExecContextFromRequest(r *http.Request) *execctx.Context {
	return execctx.New(
		execctx.Source{
			Type:    execctx.SourceAPI,
			ActorID: strings.TrimSpace(r.Header.Get(HeaderSourceID)),
		},
		execctx.WithLocale(primaryLanguage(r.Header.Get(HeaderAcceptLanguage))),
		execctx.WithCurrency(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderCurrency)))),
	)
}

// primaryLanguage returns the first language tag of an Accept-Language
// value, ignoring quality weights. "*" yields "".
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}

// BehaviorFromRequest reads the indexing headers. An unknown indexing
// behavior is an error wrapping ErrInvalidOperation.
func BehaviorFromRequest(r *http.Request) (entsync.Behavior, error) {
	indexing, err := entsync.ParseIndexingBehavior(strings.TrimSpace(r.Header.Get(HeaderIndexingBehavior)))
	if err != nil {
		return entsync.Behavior{}, err
	}
	return entsync.Behavior{
		Indexing:     indexing,
		SkipIndexers: splitList(r.Header.Get(HeaderIndexingSkip)),
	}, nil
}

// splitList splits a comma separated header value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
