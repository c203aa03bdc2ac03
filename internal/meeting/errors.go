package meeting

import "errors"

var (
	// ErrNotFound is returned for operations on an unknown meeting id.
	ErrNotFound = errors.New("meeting not found")

	// ErrMeetingActive is returned by Start while another meeting owns the
	// audio pipeline.
	ErrMeetingActive = errors.New("another meeting is already active")

	// ErrInvalidTransition is returned for lifecycle calls that do not apply
	// to the meeting's current state.
	ErrInvalidTransition = errors.New("invalid meeting state transition")

	// ErrNotActive is returned when transcript ingestion targets a meeting
	// that is not currently active.
	ErrNotActive = errors.New("meeting is not active")
)
