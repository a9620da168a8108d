package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PreviewStatus enumerates preview job lifecycle states.
type PreviewStatus string

const (
	StatusBuilding   PreviewStatus = "building"
	StatusGenerating PreviewStatus = "generating"
	StatusDeploying  PreviewStatus = "deploying"
	StatusLive       PreviewStatus = "live"
	StatusFailed     PreviewStatus = "failed"
)

// statusRank orders states for the forward-only progression check. Terminal
// states share the top rank; neither may replace the other.
var statusRank = map[PreviewStatus]int{
	StatusBuilding:   0,
	StatusGenerating: 1,
	StatusDeploying:  2,
	StatusLive:       3,
	StatusFailed:     3,
}

// IsTerminal reports whether no further transition is permitted.
func (s PreviewStatus) IsTerminal() bool {
	return s == StatusLive || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the forward
// order of the state machine.
func (s PreviewStatus) CanTransitionTo(next PreviewStatus) bool {
	if s.IsTerminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// AnonymousOwner is recorded when a submission carries no user id.
const AnonymousOwner = "anonymous"

// Preview is the persisted record of one preview job. The prompt is immutable
// after creation; LiveURL is set only on a live record and ErrorMessage only
// on a failed one.
type Preview struct {
	ID           string
	Prompt       string
	Owner        string
	Status       PreviewStatus
	LiveURL      string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPreview builds a fresh record in the building state with a generated id.
func NewPreview(prompt, owner string) *Preview {
	if strings.TrimSpace(owner) == "" {
		owner = AnonymousOwner
	}
	now := time.Now().UTC()
	return &Preview{
		ID:        NewJobID(),
		Prompt:    prompt,
		Owner:     owner,
		Status:    StatusBuilding,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewJobID returns an id of the form preview_<unixmilli>_<alnum>. The id is
// both the store primary key and the queue dedup key.
func NewJobID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("preview_%d_%s", time.Now().UnixMilli(), suffix)
}
