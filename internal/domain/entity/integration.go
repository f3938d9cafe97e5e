package entity

import (
	"slices"
	"time"
)

// IntegrationType identifies the third-party channel an integration talks to.
type IntegrationType string

// Supported integration types.
const (
	TypeSlack          IntegrationType = "slack"
	TypeDiscord        IntegrationType = "discord"
	TypeTeams          IntegrationType = "teams"
	TypeGoogleCalendar IntegrationType = "google_calendar"
	TypeTrello         IntegrationType = "trello"
	TypeGoogleDrive    IntegrationType = "google_drive"
	TypeGmail          IntegrationType = "gmail"
)

// IntegrationTypes lists every supported integration type.
var IntegrationTypes = []IntegrationType{
	TypeSlack, TypeDiscord, TypeTeams,
	TypeGoogleCalendar, TypeTrello, TypeGoogleDrive, TypeGmail,
}

// IsValid reports whether t is a supported integration type.
func (t IntegrationType) IsValid() bool {
	return slices.Contains(IntegrationTypes, t)
}

// IntegrationStatus is the persisted connection state of an integration.
//
// disconnected is set by the connect flow; the dispatcher flips between
// connected and error on every send or test outcome.
type IntegrationStatus string

// Integration statuses.
const (
	StatusConnected    IntegrationStatus = "connected"
	StatusError        IntegrationStatus = "error"
	StatusDisconnected IntegrationStatus = "disconnected"
)

// Settings is the JSON settings document stored with an integration.
type Settings struct {
	// Events is the allow-list of subscribed event types. A nil list means
	// nothing is subscribed.
	Events []string `json:"events,omitempty"`

	CalendarID   string            `json:"calendar_id,omitempty"`
	TimeZone     string            `json:"time_zone,omitempty"`
	BoardID      string            `json:"board_id,omitempty"`
	ListMappings map[string]string `json:"list_mappings,omitempty"`
	FolderID     string            `json:"folder_id,omitempty"`
	Recipients   []string          `json:"recipients,omitempty"`
}

// Subscribes reports whether the settings allow-list contains t.
func (s *Settings) Subscribes(t EventType) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.Events, string(t))
}

// Scope identifies the principal that owns a set of integrations.
type Scope struct {
	UserID         string
	OrganisationID string
}

// IsZero reports whether neither identifier is set.
func (s Scope) IsZero() bool {
	return s.UserID == "" && s.OrganisationID == ""
}

// Integration is a configured notification channel for one principal.
// Credentials holds the ciphertext produced by the credential cipher.
type Integration struct {
	ID             string
	Type           IntegrationType
	Credentials    string
	Settings       Settings
	Status         IntegrationStatus
	ErrorMessage   *string
	LastUsedAt     *time.Time
	ConnectedAt    *time.Time
	UserID         *string
	OrganisationID *string
}

// IntegrationUpdate is a partial update applied by primary key.
// Nil fields are left untouched; ClearError writes NULL to error_message.
type IntegrationUpdate struct {
	Status       *IntegrationStatus
	ErrorMessage *string
	ClearError   bool
	LastUsedAt   *time.Time
	ConnectedAt  *time.Time
	Credentials  *string
}

// IsEmpty reports whether the update would not change anything.
func (u IntegrationUpdate) IsEmpty() bool {
	return u.Status == nil && u.ErrorMessage == nil && !u.ClearError &&
		u.LastUsedAt == nil && u.ConnectedAt == nil && u.Credentials == nil
}

// MarkSucceeded returns the update applied after a successful send.
func MarkSucceeded(now time.Time) IntegrationUpdate {
	status := StatusConnected
	return IntegrationUpdate{Status: &status, ClearError: true, LastUsedAt: &now}
}

// MarkConnected returns the update applied after a successful connection test.
func MarkConnected(now time.Time) IntegrationUpdate {
	status := StatusConnected
	return IntegrationUpdate{Status: &status, ClearError: true, ConnectedAt: &now}
}

// MarkFailed returns the update applied after a failed send or test.
func MarkFailed(message string) IntegrationUpdate {
	status := StatusError
	return IntegrationUpdate{Status: &status, ErrorMessage: &message}
}
