// Package labels turns stored dimension values into display names.
package labels

import (
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown is shown for empty dimension values.
const Unknown = "Unknown"

// Labeler is safe for concurrent use.
type Labeler struct {
	countries *gountries.Query
}

func New() *Labeler {
	return &Labeler{countries: gountries.New()}
}

// Value returns the display name of raw for the named group-by. Group-bys without
// a humanizer keep their raw value.
func (l *Labeler) Value(groupBy, raw string) string {
	switch groupBy {
	case "country":
		return l.Country(raw)
	case "os":
		return OS(raw)
	case "referrer":
		return ReferrerName(raw)
	case "browser", "device", "channel", "user_role", "resource_type":
		if strings.TrimSpace(raw) == "" {
			return Unknown
		}
		// Casers are stateful, one per call.
		return cases.Title(language.AmericanEnglish).String(strings.ReplaceAll(raw, "_", " "))
	default:
		return raw
	}
}

// Country resolves an ISO alpha-2 or alpha-3 code to its common name.
func (l *Labeler) Country(code string) string {
	code = cases.Upper(language.AmericanEnglish).String(strings.TrimSpace(code))
	if code == "" {
		return Unknown
	}
	country, err := l.countries.FindCountryByAlpha(code)
	if err != nil {
		return code
	}
	return country.Name.Common
}

// OS keeps vendor capitalization for Apple platforms.
func OS(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Unknown
	case "ios", "iphone os":
		return "iOS"
	case "ipados":
		return "iPadOS"
	case "macos", "mac os", "mac os x", "darwin":
		return "macOS"
	default:
		return cases.Title(language.AmericanEnglish).String(name)
	}
}
