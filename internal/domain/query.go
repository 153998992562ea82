package domain

import "time"

// MessageRange selects a newest-first window of a conversation's message log.
type MessageRange struct {
	Limit int
	// Before, when non-zero, keeps only messages created strictly earlier.
	Before time.Time
	// StartAfter resumes a previous page: only messages ordered after this
	// key (i.e. older) are returned.
	StartAfter *MessageKey
}

// SummaryRange selects a newest-first window of a user's conversation list.
type SummaryRange struct {
	Limit      int
	StartAfter *SummaryKey
}
