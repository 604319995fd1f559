package thumb

import (
	"errors"
	"fmt"
	"path"
	"regexp"
)

// PathPrefix is the route prefix every thumbnail request carries.
const PathPrefix = "/thumb/"

// ImageExtension is appended to cache keys; cached thumbnails are always JPEG.
const ImageExtension = ".jpg"

// ErrInvalidIdentifier reports a request path that does not name a thumbnail.
var ErrInvalidIdentifier = errors.New("thumb: invalid identifier")

var pathPattern = regexp.MustCompile(`^/thumb/([0-9a-f]{32})$`)

// ItemID is a validated 32 character lowercase hexadecimal item identifier.
type ItemID string

// ParseIdentifier extracts the item identifier from a request path of the exact
// form /thumb/<32 lowercase hex>.
func ParseIdentifier(p string) (ItemID, error) {
	match := pathPattern.FindStringSubmatch(p)
	if match == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, p)
	}
	return ItemID(match[1]), nil
}

func (id ItemID) String() string { return string(id) }

// CacheKey spreads objects across directories keyed by the first four
// characters: a/b/c/d/abcd....jpg.
func (id ItemID) CacheKey() string {
	s := string(id)
	if len(s) < 4 {
		return s + ImageExtension
	}
	return path.Join(s[0:1], s[1:2], s[2:3], s[3:4], s+ImageExtension)
}
