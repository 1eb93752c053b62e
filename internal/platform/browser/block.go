package browser

import "strings"

var blockedPatterns = []string{
	// ads
	"googlesyndication.com", "doubleclick.net", "googleadservices.com", "amazon-adsystem.com",
	"outbrain.com", "taboola.com", "/ads/", "adsense",
	// trackers
	"google-analytics.com", "googletagmanager.com", "hotjar.com", "segment.io", "mixpanel.com",
	"facebook.com/tr", "connect.facebook.net",
	// chat widgets
	"intercom.io", "drift.com", "crisp.chat", "tawk.to", "zendesk.com/embeddable",
}

// blockedResourceTypes never affect forms and only slow pages down.
var blockedResourceTypes = map[string]bool{
	"media": true,
	"font":  true,
}

// shouldBlock reports whether a request can be aborted without breaking a
// directory form. Captcha providers are never blocked.
func shouldBlock(url, resourceType string) bool {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "recaptcha") || strings.Contains(lower, "hcaptcha") {
		return false
	}
	if blockedResourceTypes[resourceType] {
		return true
	}
	for _, p := range blockedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
