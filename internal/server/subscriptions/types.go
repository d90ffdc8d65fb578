package subscriptions

import (
	"time"
)

// Event describes a finished fetch or load job
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // fetch.downloaded, fetch.failed, load.completed, load.failed
	Timestamp time.Time `json:"timestamp"`

	// Source is set for fetch events
	Source string `json:"source,omitempty"`

	// Load event fields
	Run       string `json:"run,omitempty"`
	Files     int    `json:"files,omitempty"`
	Committed int    `json:"committed,omitempty"`

	Error string `json:"error,omitempty"`
}

// Event type constants
const (
	EventFetchDownloaded = "fetch.downloaded"
	EventFetchFailed     = "fetch.failed"
	EventLoadCompleted   = "load.completed"
	EventLoadFailed      = "load.failed"
)

// Pattern defines what events a subscription matches. Empty lists match
// everything.
type Pattern struct {
	EventTypes []string `json:"event_types,omitempty" yaml:"event_types"`
	Sources    []string `json:"sources,omitempty" yaml:"sources"`
}

// Subscription is a webhook that fires when its pattern matches
type Subscription struct {
	Name    string  `json:"name" yaml:"name"`
	Webhook string  `json:"webhook" yaml:"webhook"`
	Pattern Pattern `json:"pattern" yaml:",inline"`
}

// Notification is the webhook payload
type Notification struct {
	Subscription string    `json:"subscription"`
	Event        Event     `json:"event"`
	MatchedAt    time.Time `json:"matched_at"`
}
