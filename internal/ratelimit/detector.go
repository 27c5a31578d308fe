// Package ratelimit detects block, rate-limit and rejection markers in pages
// served by the resolver site.
package ratelimit

import (
	"regexp"
	"strings"
)

// maxBodyLenForRegex limits the body size for regex matching to prevent ReDoS attacks.
// 100KB is sufficient for detecting block messages while preventing abuse.
const maxBodyLenForRegex = 100 * 1024

// ErrorCategory represents the broad category of a detected error.
type ErrorCategory string

// Error categories.
const (
	CategoryRateLimit    ErrorCategory = "rate_limit"
	CategoryAccessDenied ErrorCategory = "access_denied"
	CategoryCaptcha      ErrorCategory = "captcha"
	CategoryGeoBlocked   ErrorCategory = "geo_blocked"
	CategoryUnsupported  ErrorCategory = "unsupported"
)

// ErrorPattern defines a detection pattern and its metadata.
type ErrorPattern struct {
	Pattern     *regexp.Regexp
	ErrorCode   string
	Category    ErrorCategory
	BaseDelayMs int
	Description string
}

// Info contains detected block information.
type Info struct {
	Detected       bool
	ErrorCode      string
	Category       ErrorCategory
	SuggestedDelay int // Milliseconds before retrying makes sense; 0 when it never will
	Description    string
}

// patterns contains all detection patterns, ordered by specificity.
// Patterns use [^<]{0,N} instead of .{0,N} to prevent backtracking on HTML content.
var patterns = []ErrorPattern{
	// Cloudflare in front of the resolver site
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1015`),
		ErrorCode:   "CF_1015",
		Category:    CategoryRateLimit,
		BaseDelayMs: 60000,
		Description: "Cloudflare rate limit exceeded",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1009`),
		ErrorCode:   "CF_1009",
		Category:    CategoryGeoBlocked,
		BaseDelayMs: 0,
		Description: "Cloudflare geo-restriction",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}10(06|07|08|10|12|20)`),
		ErrorCode:   "CF_ACCESS_DENIED",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 30000,
		Description: "Cloudflare access denied",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(just\s{1,5}a\s{1,5}moment|checking\s{1,5}your\s{1,5}browser)`),
		ErrorCode:   "CF_CHALLENGE",
		Category:    CategoryCaptcha,
		BaseDelayMs: 0,
		Description: "Cloudflare browser challenge",
	},

	// Messages of the resolver site itself
	{
		Pattern:     regexp.MustCompile(`(?i)(site|website|url|link)[^<]{0,20}(is\s{1,5})?not\s{1,5}supported`),
		ErrorCode:   "UNSUPPORTED_SITE",
		Category:    CategoryUnsupported,
		BaseDelayMs: 0,
		Description: "resolver site does not support this video host",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(invalid|incorrect)\s{1,5}(url|link)`),
		ErrorCode:   "INVALID_LINK",
		Category:    CategoryUnsupported,
		BaseDelayMs: 0,
		Description: "resolver site rejected the video URL",
	},

	// Generic patterns
	{
		Pattern:     regexp.MustCompile(`(?i)access\s{1,5}denied`),
		ErrorCode:   "ACCESS_DENIED",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 5000,
		Description: "Generic access denied",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)rate\s{0,3}limit`),
		ErrorCode:   "RATE_LIMITED",
		Category:    CategoryRateLimit,
		BaseDelayMs: 10000,
		Description: "Generic rate limit",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`),
		ErrorCode:   "TOO_MANY_REQUESTS",
		Category:    CategoryRateLimit,
		BaseDelayMs: 10000,
		Description: "Too many requests",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`),
		ErrorCode:   "BLOCKED",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 15000,
		Description: "Request blocked",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(h-?captcha|recaptcha|cf-turnstile|g-recaptcha)`),
		ErrorCode:   "CAPTCHA_REQUIRED",
		Category:    CategoryCaptcha,
		BaseDelayMs: 0,
		Description: "CAPTCHA required",
	},
}

// Detect analyzes an HTTP status code and page body for block indicators.
// Pass statusCode 0 when only the rendered page is known.
// Body is truncated to maxBodyLenForRegex to prevent ReDoS attacks with large inputs.
func Detect(statusCode int, body string) Info {
	info := Info{}

	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	switch statusCode {
	case 429:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_429",
			Category:       CategoryRateLimit,
			SuggestedDelay: 60000,
			Description:    "HTTP 429 Too Many Requests",
		}
	case 503:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_503",
			Category:       CategoryRateLimit,
			SuggestedDelay: 30000,
			Description:    "HTTP 503 Service Unavailable",
		}
	}

	// Body patterns override the status with more specific info
	for _, pattern := range patterns {
		if pattern.Pattern.MatchString(body) {
			info = Info{
				Detected:       true,
				ErrorCode:      pattern.ErrorCode,
				Category:       pattern.Category,
				SuggestedDelay: pattern.BaseDelayMs,
				Description:    pattern.Description,
			}
			break
		}
	}

	if statusCode == 403 && !info.Detected {
		if strings.Contains(strings.ToLower(body), "cloudflare") {
			info = Info{
				Detected:       true,
				ErrorCode:      "CF_403",
				Category:       CategoryAccessDenied,
				SuggestedDelay: 30000,
				Description:    "Cloudflare 403 Forbidden",
			}
		}
	}

	return info
}
