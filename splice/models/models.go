package models

import (
	"time"
)

type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunFailed  RunStatus = "failed"
	RunTimeout RunStatus = "timeout"
	RunSuccess RunStatus = "success"
)

// Finished reports whether no further transitions are expected.
func (s RunStatus) Finished() bool {
	switch s {
	case RunFailed, RunTimeout, RunSuccess:
		return true
	}
	return false
}

// Run is the status record of a single pipeline execution.
type Run struct {
	ID string `json:"id"`
	// Rev increases with every change to any run; it is the cursor
	// for streaming status changes.
	Rev    int64     `json:"rev"`
	Status RunStatus `json:"status"`
	Prompt string    `json:"prompt,omitempty"`

	// only if failed or timed out
	Step  int    `json:"step,omitempty"`
	Error string `json:"error,omitempty"`

	// only if succeeded
	ArtifactID string `json:"artifactId,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the session transcript.
type Message struct {
	ID          int64     `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	ArtifactIDs []string  `json:"artifactIds,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
