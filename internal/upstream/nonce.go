package upstream

import "regexp"

// The chat upstreams embed a short-lived nonce in their page markup.
// Different WordPress chat plugins emit it in different shapes, so extraction
// tries each known pattern in order.
var noncePatterns = []*regexp.Regexp{
	regexp.MustCompile(`&quot;nonce&quot;\s*:\s*&quot;([^&]+)&quot;`),
	regexp.MustCompile(`"_ajax_nonce":"([a-f0-9]{10})"`),
	regexp.MustCompile(`'_ajax_nonce':'([a-f0-9]{10})'`),
	regexp.MustCompile(`"search_nonce":"([a-f0-9]{10})"`),
	regexp.MustCompile(`name="_wpnonce"\s+value="([^"]+)"`),
}

// ExtractNonce scans page HTML for a nonce token. Returns the empty string
// when no pattern matches.
func ExtractNonce(html string) string {
	for _, pattern := range noncePatterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}
