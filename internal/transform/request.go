package transform

import "regexp"

var requestRE = regexp.MustCompile(`^([A-Za-z]+)\s+(?:([a-zA-Z][a-zA-Z0-9+.-]*)://)?([^\s/]*)`)

// parseRequest splits a request-kind token into (method, scheme, domain)
// per spec §4.2: "METHOD[ ](scheme://)?authority(/.*)?" with defaults
// scheme=http and authority=unknown.
func parseRequest(s string) (method, scheme, domain string) {
	m := requestRE.FindStringSubmatch(s)
	if m == nil {
		return "", "http", "unknown"
	}
	method = m[1]
	scheme = m[2]
	if scheme == "" {
		scheme = "http"
	}
	domain = m[3]
	if domain == "" {
		domain = "unknown"
	}
	return method, scheme, domain
}
