package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxLength caps request IDs at UUID length.
const MaxLength = 36

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Generate returns a request ID for a reply. When the client supplied its
// own X-Request-ID it is sanitized (keeping only [a-zA-Z0-9-]) and reused so
// traces correlate across hops; otherwise a fresh UUID is issued.
func Generate(customID string) string {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > MaxLength {
		sanitized = sanitized[:MaxLength]
	}
	return sanitized
}
