package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is the immutable input of one engine invocation: a natural-language
// objective plus the set of actions the oracle may use for it.
type Task struct {
	ID             string
	Objective      string
	AllowedActions []string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// NewTask creates a task with a generated ID.
// An empty allowed list means every registered action is available.
func NewTask(objective string, allowed ...string) Task {
	return Task{
		ID:             uuid.NewString(),
		Objective:      strings.TrimSpace(objective),
		AllowedActions: append([]string(nil), allowed...),
		CreatedAt:      time.Now().UTC(),
	}
}

// WithMetadata returns a copy of the task with key set in its metadata.
func (t Task) WithMetadata(key, value string) Task {
	md := make(map[string]string, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		md[k] = v
	}
	md[key] = value
	t.Metadata = md
	return t
}

// Allows reports whether the task permits the named action.
func (t Task) Allows(name string) bool {
	if len(t.AllowedActions) == 0 {
		return true
	}
	for _, a := range t.AllowedActions {
		if a == name {
			return true
		}
	}
	return false
}
