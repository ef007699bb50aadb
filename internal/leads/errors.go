package leads

import "errors"

var (
	// ErrMissingSession is returned when a lead has no session to attach to
	ErrMissingSession = errors.New("leads: session id is required")

	// ErrMissingContact is returned when both email and phone are missing
	ErrMissingContact = errors.New("leads: either email or phone is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("leads: lead not found")
)
