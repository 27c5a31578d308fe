package security

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// secretParamFragments mark query parameters carrying credentials when they
// appear anywhere in the parameter name.
var secretParamFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"api-key",
	"auth",
	"credential",
	"session",
	"private",
}

// signedLinkParams are the exact names CDNs and video hosts use to sign
// download links. The signature is as good as a credential until it expires,
// and the client address is personal data.
var signedLinkParams = map[string]bool{
	"signature":            true,
	"sig":                  true,
	"lsig":                 true,
	"sparams":              true,
	"expire":               true,
	"expires":              true,
	"ip":                   true,
	"ipbits":               true,
	"hash":                 true,
	"md5":                  true,
	"policy":               true,
	"key-pair-id":          true,
	"x-amz-signature":      true,
	"x-amz-credential":     true,
	"x-amz-security-token": true,
	"x-goog-signature":     true,
	"x-goog-credential":    true,
	"key":                  true,
	"sid":                  true,
}

// RedactURL returns rawURL fit for the logs: user info is replaced, and
// secret or link-signing query values are masked. Everything needed to
// recognise the video (host, path, id parameters) is kept.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}
	if parsed.User != nil {
		parsed.User = url.User(redacted)
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQuery(parsed.Query()).Encode()
	}
	return parsed.String()
}

// RedactLinks applies RedactURL to every download link in links.
func RedactLinks(links []string) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = RedactURL(l)
	}
	return out
}

func redactQuery(params url.Values) url.Values {
	for name := range params {
		if isSensitiveParam(name) {
			params[name] = []string{redacted}
		}
	}
	return params
}

func isSensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	if signedLinkParams[lower] {
		return true
	}
	for _, fragment := range secretParamFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactProxyURL masks the password of a proxy or Redis URL and keeps the
// user name, which helps tell configured accounts apart.
func RedactProxyURL(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return "[invalid-proxy-url]"
	}
	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), redacted)
		}
	}
	return parsed.String()
}
