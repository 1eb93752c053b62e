package browser

import "math/rand"

// HeaderProfile is a consistent set of request headers for one browser.
type HeaderProfile struct {
	UserAgent       string
	Accept          string
	AcceptLanguage  string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
	Viewport        [2]int
	Mobile          bool
}

type HeaderStrategy string

const (
	StrategyDesktop HeaderStrategy = "desktop"
	StrategyMobile  HeaderStrategy = "mobile"
)

var desktopProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
		Viewport:        [2]int{1440, 900},
	},
	{
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
		Viewport:        [2]int{1920, 1080},
	},
}

var mobileProfiles = []HeaderProfile{
	{
		UserAgent:       "Mozilla/5.0 (iPhone; CPU iPhone OS 18_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Mobile/15E148 Safari/604.1",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUaMobile:   "?1",
		SecChUaPlatform: `"iOS"`,
		Viewport:        [2]int{390, 844},
		Mobile:          true,
	},
	{
		UserAgent:       "Mozilla/5.0 (Linux; Android 14; Pixel 8 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
		Accept:          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		AcceptLanguage:  "en-US,en;q=0.9",
		SecChUa:         `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		SecChUaMobile:   "?1",
		SecChUaPlatform: `"Android"`,
		Viewport:        [2]int{412, 915},
		Mobile:          true,
	},
}

// GetHeaderProfile returns a random profile for the strategy.
func GetHeaderProfile(strategy HeaderStrategy) HeaderProfile {
	switch strategy {
	case StrategyMobile:
		return mobileProfiles[rand.Intn(len(mobileProfiles))]
	case StrategyDesktop:
		return desktopProfiles[rand.Intn(len(desktopProfiles))]
	default:
		return desktopProfiles[0]
	}
}

// Headers returns the extra HTTP headers sent with every request. The user
// agent is set on the browser context instead.
func (p HeaderProfile) Headers() map[string]string {
	h := map[string]string{
		"Accept":          p.Accept,
		"Accept-Language": p.AcceptLanguage,
	}
	if p.SecChUa != "" {
		h["Sec-Ch-Ua"] = p.SecChUa
	}
	if p.SecChUaMobile != "" {
		h["Sec-Ch-Ua-Mobile"] = p.SecChUaMobile
	}
	if p.SecChUaPlatform != "" {
		h["Sec-Ch-Ua-Platform"] = p.SecChUaPlatform
	}
	return h
}
