// Package bot classifies requests as crawler traffic by User-Agent.
package bot

import "strings"

// IsBotRequest reports whether the User-Agent contains any of the configured
// bot identifiers. Matching is a case-insensitive substring test; the first
// hit wins. An empty User-Agent never matches.
func IsBotRequest(userAgent string, bots []string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, bot := range bots {
		if bot == "" {
			continue
		}
		if strings.Contains(ua, strings.ToLower(bot)) {
			return true
		}
	}
	return false
}
