package model

import "strings"

// Repository represents a GitHub repository the App installation can access.
type Repository struct {
	ID       int64
	FullName string
	Owner    string
	Name     string

	// Topics is only meaningful when TopicsKnown is true. Webhook payloads
	// for installation membership changes omit topics entirely.
	Topics      []string
	TopicsKnown bool

	Archived    bool
	Private     bool
	Description string
	HTMLURL     string
}

// HasTopic reports whether the repository carries the given topic.
// Topic comparison is case-insensitive; GitHub stores topics lower-cased.
func (r Repository) HasTopic(topic string) bool {
	for _, t := range r.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Clone returns a copy of r that shares no slices with the original.
func (r Repository) Clone() Repository {
	if r.Topics != nil {
		r.Topics = append(make([]string, 0, len(r.Topics)), r.Topics...)
	}
	return r
}
