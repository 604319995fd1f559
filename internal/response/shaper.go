package response

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// passthroughHeaders lists the only upstream headers clients ever see.
var passthroughHeaders = []string{
	"Content-Length",
	"Content-Type",
	"Last-Modified",
	"Date",
}

// ShapeStatus maps an upstream status onto the public contract. 410 is
// downgraded to 404 because an item's metadata may later be corrected.
func ShapeStatus(upstream int) int {
	switch upstream {
	case http.StatusOK:
		return http.StatusOK
	case http.StatusNotFound, http.StatusGone:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// PruneHeaders returns a copy of h holding only the passthrough headers.
func PruneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(passthroughHeaders))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if !isPassthrough(canonical) || len(values) == 0 {
			continue
		}
		out[canonical] = append(out[canonical], values...)
	}
	return out
}

func isPassthrough(name string) bool {
	for _, allowed := range passthroughHeaders {
		if strings.EqualFold(allowed, name) {
			return true
		}
	}
	return false
}

// SetCacheHeaders sets Cache-Control and an Expires header seconds after now.
func SetCacheHeaders(h http.Header, seconds int, now time.Time) {
	if seconds < 0 {
		seconds = 0
	}
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(seconds))
	h.Set("Expires", now.Add(time.Duration(seconds)*time.Second).UTC().Format(http.TimeFormat))
}
