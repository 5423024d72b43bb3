package liveview

import "errors"

// Presentation is what a consumer should show for a shared link.
type Presentation string

const (
	Available           Presentation = "available"
	NotAvailable        Presentation = "not_available"
	RateLimited         Presentation = "rate_limited"
	Unavailable         Presentation = "unavailable"
	DeletedWhileViewing Presentation = "deleted_while_viewing"
)

// Fetch-time failures. The fetch package wraps these so callers can use
// errors.Is without importing it.
var (
	ErrNotFound    = errors.New("shared document not found")
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("shared document unavailable")
)

// PresentationFor maps the initial fetch result and the current view to a
// presentation state. A document that was deleted while being watched is kept
// distinct from one that never loaded.
func PresentationFor(fetchErr error, view View) Presentation {
	switch {
	case fetchErr == nil:
	case errors.Is(fetchErr, ErrNotFound):
		return NotAvailable
	case errors.Is(fetchErr, ErrRateLimited):
		return RateLimited
	default:
		return Unavailable
	}
	if view.Status == Deleted {
		return DeletedWhileViewing
	}
	return Available
}
