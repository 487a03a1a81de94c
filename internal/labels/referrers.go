package labels

import "strings"

// DirectReferrer is the stored value for visits without a referrer.
const DirectReferrer = ""

// knownReferrers maps referrer hostnames to display names.
var knownReferrers = map[string]string{
	// Search engines
	"google.com":     "Google",
	"google.co.uk":   "Google",
	"google.de":      "Google",
	"google.fr":      "Google",
	"google.es":      "Google",
	"google.it":      "Google",
	"google.com.br":  "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo.com":      "Yahoo",
	"baidu.com":      "Baidu",
	"yandex.ru":      "Yandex",
	"ecosia.org":     "Ecosia",

	// Social
	"x.com":          "X/Twitter",
	"twitter.com":    "X/Twitter",
	"t.co":           "X/Twitter",
	"facebook.com":   "Facebook",
	"l.facebook.com": "Facebook",
	"instagram.com":  "Instagram",
	"linkedin.com":   "LinkedIn",
	"lnkd.in":        "LinkedIn",
	"pinterest.com":  "Pinterest",
	"reddit.com":     "Reddit",
	"youtube.com":    "YouTube",
	"youtu.be":       "YouTube",
	"t.me":           "Telegram",

	// WordPress ecosystem
	"wordpress.org":        "WordPress.org",
	"wordpress.com":        "WordPress.com",
	"news.ycombinator.com": "Hacker News",
	"github.com":           "GitHub",
	"stackoverflow.com":    "Stack Overflow",
	"medium.com":           "Medium",

	// Mail
	"mail.google.com":  "Gmail",
	"outlook.live.com": "Outlook",
	"mail.yahoo.com":   "Yahoo Mail",
}

// ReferrerName returns a display name for a referrer hostname. Subdomains of a
// known host resolve to that host. Unknown hosts are returned without "www.".
func ReferrerName(hostname string) string {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == DirectReferrer {
		return "Direct / Unknown"
	}
	if name, ok := knownReferrers[hostname]; ok {
		return name
	}

	hostname = strings.TrimPrefix(hostname, "www.")
	if name, ok := knownReferrers[hostname]; ok {
		return name
	}

	// Longest suffix wins so "mail.google.com" is not reported as "Google".
	best, bestLen := "", 0
	for domain, name := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) && len(domain) > bestLen {
			best, bestLen = name, len(domain)
		}
	}
	if best != "" {
		return best
	}
	return hostname
}
