package dashboard

import (
	"fmt"
	"net/url"
	"regexp"
)

// urlPattern matches scheme://host[:port][/path]. Quotes and angle brackets
// end a match so URLs embedded in markup are not over-captured.
var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s/?#"'<>]+(?:/[^\s"'<>]*)?`)

// Address is where a dashboard says it is serving.
type Address struct {
	Host   string `json:"host"`
	Scheme string `json:"scheme"`
	URL    string `json:"url"`
}

// ExtractURL returns the first URL in text.
func ExtractURL(text string) (string, bool) {
	m := urlPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// ParseAddress splits an announced URL into host and scheme.
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("parsing announced url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Address{}, fmt.Errorf("announced url %q has no scheme or host", raw)
	}
	return Address{Host: u.Hostname(), Scheme: u.Scheme, URL: raw}, nil
}
