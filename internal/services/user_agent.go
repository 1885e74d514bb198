package services

import (
	"regexp"
	"strings"
)

const unknownClient = "unknown"

var (
	iosPattern     = regexp.MustCompile(`iPhone|iPad|iPod`)
	desktopPattern = regexp.MustCompile(`Windows|Macintosh|Mac OS X|Linux|X11|CrOS`)
)

// browserRules are checked in order. Chromium based browsers carry the
// Chrome and Safari tokens too, so they must be matched first.
var browserRules = []struct {
	name   string
	tokens []string
}{
	{"Firefox", []string{"Firefox", "FxiOS"}},
	{"Samsung Internet", []string{"SamsungBrowser"}},
	{"Opera", []string{"Opera", "OPR/"}},
	{"Internet Explorer", []string{"Trident", "MSIE"}},
	{"Edge", []string{"Edge", "Edg/", "EdgA/", "EdgiOS/"}},
	{"Chrome", []string{"Chrome", "CriOS"}},
	{"Safari", []string{"Safari"}},
}

// DetectBrowser classifies a user-agent string into a browser family
func DetectBrowser(userAgent string) string {
	for _, rule := range browserRules {
		for _, token := range rule.tokens {
			if strings.Contains(userAgent, token) {
				return rule.name
			}
		}
	}
	return unknownClient
}

// DetectDevice classifies a user-agent string into iOS, Android or Desktop
func DetectDevice(userAgent string) string {
	switch {
	case iosPattern.MatchString(userAgent):
		return "iOS"
	case strings.Contains(userAgent, "Android"):
		return "Android"
	case desktopPattern.MatchString(userAgent):
		return "Desktop"
	default:
		return unknownClient
	}
}
