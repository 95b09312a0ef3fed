package policy

import (
	"net/http"
	"slices"
	"testing"
)

func TestScrubHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "session=abc")
	h.Set("Set-Cookie", "x=y")
	h.Set("User-Agent", "evil\r\nInjected: yes")
	h.Add("Accept", "text/html")
	h.Add("Accept", "*/*")
	h.Set("From", "crawler@example.com")

	got := ScrubHeaders(h)
	for _, name := range []string{"Authorization", "Cookie", "Set-Cookie"} {
		if _, ok := got[name]; ok {
			t.Fatalf("%s survived scrubbing", name)
		}
	}
	if got["User-Agent"] != "evil  Injected: yes" {
		t.Fatalf("User-Agent = %q, want %q", got["User-Agent"], "evil  Injected: yes")
	}
	if got["Accept"] != "text/html, */*" {
		t.Fatalf("Accept = %q, want %q", got["Accept"], "text/html, */*")
	}
	if got["From"] != "[REDACTED_EMAIL]" {
		t.Fatalf("From = %q, want redacted email", got["From"])
	}

	names := HeaderNames(got)
	if !slices.Equal(names, []string{"Accept", "From", "User-Agent"}) {
		t.Fatalf("HeaderNames() = %v", names)
	}
}

func TestFlattenLine(t *testing.T) {
	if got := FlattenLine("a\nb\rc"); got != "a b c" {
		t.Fatalf("FlattenLine() = %q, want %q", got, "a b c")
	}
}
