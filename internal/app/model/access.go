package model

import (
	"fmt"
	"time"
)

// AccessReason explains the outcome of an access check.
type AccessReason string

const (
	AccessOK               AccessReason = "ok"
	AccessInactive         AccessReason = "inactive"
	AccessExpired          AccessReason = "expired"
	AccessMaxClicksReached AccessReason = "max_clicks_reached"
)

// Message returns the human readable text for the reason.
func (r AccessReason) Message() string {
	switch r {
	case AccessOK:
		return "OK"
	case AccessInactive:
		return "link is inactive"
	case AccessExpired:
		return "link has expired"
	case AccessMaxClicksReached:
		return "click limit reached"
	default:
		return string(r)
	}
}

// CheckAccess decides whether a visit to link may proceed at now.
// Rules are evaluated in order and the first failing rule is reported.
func CheckAccess(link *Link, now time.Time) (bool, AccessReason) {
	switch {
	case !link.IsActive:
		return false, AccessInactive
	case link.IsExpired(now):
		return false, AccessExpired
	case link.HasReachedMaxClicks():
		return false, AccessMaxClicksReached
	}
	return true, AccessOK
}

// AccessDeniedError is returned when a visit is refused by the access policy.
type AccessDeniedError struct {
	ShortCode string
	Reason    AccessReason
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access to %q denied: %s", e.ShortCode, e.Reason.Message())
}
