package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusAcquiring         Status = "acquiring"
	StatusConverting        Status = "converting"
	StatusConverted         Status = "converted"
	StatusSkippedConversion Status = "skipped_conversion"
	StatusDuplicatePending  Status = "duplicate_pending"
	StatusTranscribing      Status = "transcribing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// SourceKind distinguishes remote fetch locators from local file locators.
type SourceKind string

const (
	SourceRemote SourceKind = "remote"
	SourceLocal  SourceKind = "local"
)

var allStatuses = []Status{
	StatusQueued,
	StatusAcquiring,
	StatusConverting,
	StatusConverted,
	StatusSkippedConversion,
	StatusDuplicatePending,
	StatusTranscribing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

var processingStatuses = map[Status]struct{}{
	StatusAcquiring:    {},
	StatusConverting:   {},
	StatusTranscribing: {},
}

// readyForTranscription lists the statuses that place an item in the ready
// pool for the worker dispatch loop. duplicate_pending is deliberately absent.
var readyForTranscription = []Status{StatusConverted, StatusSkippedConversion}

// legalTransitions encodes the state machine edges. Cancellation from any
// non-terminal state is handled separately in canTransition.
var legalTransitions = map[Status][]Status{
	StatusQueued:            {StatusAcquiring},
	StatusAcquiring:         {StatusConverting, StatusSkippedConversion},
	StatusConverting:        {StatusConverted, StatusSkippedConversion},
	StatusConverted:         {StatusDuplicatePending, StatusTranscribing},
	StatusSkippedConversion: {StatusDuplicatePending, StatusTranscribing},
	StatusDuplicatePending:  {StatusConverted, StatusCompleted},
	StatusTranscribing:      {StatusCompleted},
}

func canTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if _, terminal := terminalStatuses[from]; terminal {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	if to == StatusFailed {
		// Any non-terminal state may fail except the duplicate gate, which has
		// exactly two exits: overwrite and cancel.
		return from != StatusDuplicatePending
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID           int64
	Source       string
	SourceKind   SourceKind
	Title        string
	LocalPath    string
	Status       Status
	ErrorMessage string
	// ProposedName, PendingContent, and PendingHeader make up the duplicate
	// resolution payload. They are populated only in duplicate_pending.
	ProposedName   string
	PendingContent string
	PendingHeader  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is a terminal state.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsProcessing reports whether a status reflects an in-flight stage.
func IsProcessing(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether the item has reached a terminal state.
func (i Item) IsTerminal() bool {
	return IsTerminal(i.Status)
}

// IsActive reports whether the item still demands pipeline attention.
// Items parked at the duplicate gate do not keep the worker pool alive.
func (i Item) IsActive() bool {
	return !i.IsTerminal() && i.Status != StatusDuplicatePending
}
