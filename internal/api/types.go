// Package api defines the transport types shared by the daemon HTTP server
// and the CLI client, plus a small read service over the queue store.
package api

import "scribe/internal/status"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID           int64  `json:"id"`
	Source       string `json:"source"`
	SourceKind   string `json:"sourceKind"`
	Title        string `json:"title,omitempty"`
	LocalPath    string `json:"localPath,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ProposedName string `json:"proposedName,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// AddSourcesRequest enqueues a batch of source locators.
type AddSourcesRequest struct {
	Sources []string `json:"sources"`
}

// AddSourcesResponse reports how a batch enqueue went. Sources that already
// had a live queue item count as existing, not added.
type AddSourcesResponse struct {
	Added    int         `json:"added"`
	Existing int         `json:"existing"`
	Items    []QueueItem `json:"items"`
}

// Process trigger outcomes.
const (
	ProcessAccepted      = "accepted"
	ProcessAlreadyActive = "alreadyActive"
	ProcessEmptyQueue    = "emptyQueue"
)

// ProcessResponse reports the outcome of a processing trigger.
type ProcessResponse struct {
	State string `json:"state"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Workers      int                `json:"workers"`
	PoolSize     int                `json:"poolSize"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Queue        status.Snapshot    `json:"queue"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// RemoveRequest asks for a set of queue items to be removed or cancelled.
type RemoveRequest struct {
	IDs []int64 `json:"ids"`
}

// RemoveResponse reports the per-disposition counts of a bulk removal.
type RemoveResponse struct {
	Removed      int `json:"removed"`
	Cancelled    int `json:"cancelled"`
	NotFound     int `json:"notFound"`
	CannotRemove int `json:"cannotRemove"`
}

// Clear scopes accepted by the queue clear endpoint.
const (
	ClearScopeAll       = "all"
	ClearScopeCompleted = "completed"
	ClearScopeFailed    = "failed"
)

// ClearRequest asks for queue items in the given scope to be deleted.
type ClearRequest struct {
	Scope string `json:"scope"`
}

// ClearResponse reports how many items a clear deleted.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// ResolveRequest carries an operator decision for a parked duplicate.
type ResolveRequest struct {
	Action string `json:"action"`
}

// TranscriptResponse returns a stored transcript.
type TranscriptResponse struct {
	Name      string `json:"name"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	Language  string `json:"language,omitempty"`
	Model     string `json:"model,omitempty"`
	Header    string `json:"header,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}
