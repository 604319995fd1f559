package resolver

import (
	"io"
	"net/http"
	"time"

	"github.com/l0p7/thumbproxy/internal/thumb"
)

// Phase names a step of the resolution pipeline. A resolved image always ends
// in PhaseResponding (PhaseResponded once written) or PhaseFailed.
type Phase int

const (
	PhaseParsingPath Phase = iota
	PhaseCheckingCache
	PhaseProxyingCached
	PhaseLookingUpIndex
	PhaseProxyingOrigin
	PhaseResponding
	PhaseResponded
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseParsingPath:    "parsing_path",
	PhaseCheckingCache:  "checking_cache",
	PhaseProxyingCached: "proxying_cached",
	PhaseLookingUpIndex: "looking_up_index",
	PhaseProxyingOrigin: "proxying_origin",
	PhaseResponding:     "responding",
	PhaseResponded:      "responded",
	PhaseFailed:         "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Tier records which source produced the response.
type Tier string

const (
	TierNone   Tier = "none"
	TierCache  Tier = "cache"
	TierOrigin Tier = "origin"
)

// ResolvedImage is a response under construction. MaxAge is zero when no
// cache headers apply.
type ResolvedImage struct {
	ID     thumb.ItemID
	Phase  Phase
	Tier   Tier
	Status int
	MaxAge time.Duration
	Header http.Header
	Body   io.ReadCloser
	Err    error
}

func (img *ResolvedImage) fail(status int, err error) *ResolvedImage {
	img.Phase = PhaseFailed
	img.Status = status
	img.Err = err
	img.Header = http.Header{}
	img.Body = nil
	return img
}

// Close releases the upstream response, if any.
func (img *ResolvedImage) Close() error {
	if img == nil || img.Body == nil {
		return nil
	}
	return img.Body.Close()
}
