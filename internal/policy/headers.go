package policy

import (
	"net/http"
	"sort"
	"strings"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
}

// ScrubHeaders returns a loggable copy of h: credential headers are dropped,
// repeated values are joined with ", ", CR/LF become spaces and PII in the
// remaining values is masked.
func ScrubHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(name)]; ok {
			continue
		}
		v, _ := Redact(FlattenLine(strings.Join(values, ", ")))
		out[http.CanonicalHeaderKey(name)] = v
	}
	return out
}

// HeaderNames lists the keys of a scrubbed header map in sorted order.
func HeaderNames(scrubbed map[string]string) []string {
	names := make([]string, 0, len(scrubbed))
	for name := range scrubbed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlattenLine makes a single client supplied value safe for one log line.
func FlattenLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
