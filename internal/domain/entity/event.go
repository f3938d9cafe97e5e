package entity

import (
	"strconv"
	"strings"
)

// EventType is a tag from the fixed application event vocabulary.
type EventType string

// Application events that can be routed to integrations.
const (
	EventProjectCreated       EventType = "project.created"
	EventDeliverableSubmitted EventType = "deliverable.submitted"
	EventDeliverableReviewed  EventType = "deliverable.reviewed"
	EventCommentAdded         EventType = "comment.added"
	EventMemberJoined         EventType = "member.joined"
	EventEventCreated         EventType = "event.created"
)

// EventVocabulary lists every event type formatters are expected to handle.
var EventVocabulary = []EventType{
	EventProjectCreated,
	EventDeliverableSubmitted,
	EventDeliverableReviewed,
	EventCommentAdded,
	EventMemberJoined,
	EventEventCreated,
}

// IsKnown reports whether t belongs to the fixed vocabulary.
func (t EventType) IsKnown() bool {
	for _, known := range EventVocabulary {
		if t == known {
			return true
		}
	}
	return false
}

// IntegrationEvent is the unit of work handed to the dispatcher when a domain
// action completes. Data is an untyped bag whose shape depends on Type;
// consumers read it through the accessor helpers and never assume a field exists.
type IntegrationEvent struct {
	Type           EventType      `json:"type"`
	Data           map[string]any `json:"data"`
	UserID         string         `json:"userId,omitempty"`
	OrganisationID string         `json:"organisationId,omitempty"`
}

// Validate checks the fields the dispatcher relies on.
func (e IntegrationEvent) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return &ValidationError{Field: "type", Message: "is required"}
	}
	if e.UserID == "" && e.OrganisationID == "" {
		return &ValidationError{Field: "userId", Message: "userId or organisationId is required"}
	}
	return nil
}

// Scope returns the principal whose integrations should receive the event.
// The organisation wins when both identifiers are present.
func (e IntegrationEvent) Scope() Scope {
	if e.OrganisationID != "" {
		return Scope{OrganisationID: e.OrganisationID}
	}
	return Scope{UserID: e.UserID}
}

// String returns the value stored under key, or "" when it is missing or not text-like.
func (e IntegrationEvent) String(key string) string {
	if e.Data == nil {
		return ""
	}
	switch v := e.Data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return formatFloat(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// StringOr returns the first non-empty value among keys, or fallback.
func (e IntegrationEvent) StringOr(fallback string, keys ...string) string {
	for _, key := range keys {
		if v := e.String(key); v != "" {
			return v
		}
	}
	return fallback
}

// Strings returns a list stored under key. Non-string items are skipped.
func (e IntegrationEvent) Strings(key string) []string {
	if e.Data == nil {
		return nil
	}
	switch v := e.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
