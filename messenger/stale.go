package messenger

import (
	"errors"
	"strings"
)

// Phrases the Bot API uses when a cached file handle no longer resolves.
// Matching is on the description because the API reuses error code 400 for
// dozens of unrelated problems.
var staleHandlePhrases = []string{
	"wrong file identifier",
	"wrong remote file identifier",
	"file reference expired",
	"failed to get http url content",
	"file not found",
	"file is temporarily unavailable",
}

// IsStaleHandle reports whether err means a previously cached remote handle
// was rejected and the entry should be evicted.
func IsStaleHandle(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	desc := strings.ToLower(apiErr.Description)
	for _, phrase := range staleHandlePhrases {
		if strings.Contains(desc, phrase) {
			return true
		}
	}
	return false
}
