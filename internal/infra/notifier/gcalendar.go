package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"integration-hub/internal/domain/entity"
)

const (
	defaultCalendarID = "primary"
	defaultTimeZone   = "Europe/Paris"

	calendarColorEvent    = "9"  // blueberry
	calendarColorDeadline = "11" // tomato
)

// CalendarEvent is the Google Calendar events.insert body.
type CalendarEvent struct {
	Summary        string                  `json:"summary"`
	Description    string                  `json:"description,omitempty"`
	Location       string                  `json:"location,omitempty"`
	Start          CalendarEventTime       `json:"start"`
	End            CalendarEventTime       `json:"end"`
	ColorID        string                  `json:"colorId,omitempty"`
	Attendees      []CalendarAttendee      `json:"attendees,omitempty"`
	ConferenceData *CalendarConferenceData `json:"conferenceData,omitempty"`
}

// CalendarEventTime holds either DateTime (timed event) or Date (all-day event).
type CalendarEventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// CalendarAttendee is an invited participant.
type CalendarAttendee struct {
	Email string `json:"email"`
}

// CalendarConferenceData requests a Google Meet link.
type CalendarConferenceData struct {
	CreateRequest CalendarCreateConferenceRequest `json:"createRequest"`
}

// CalendarCreateConferenceRequest is the Meet creation request.
type CalendarCreateConferenceRequest struct {
	RequestID             string                     `json:"requestId"`
	ConferenceSolutionKey CalendarConferenceSolution `json:"conferenceSolutionKey"`
}

// CalendarConferenceSolution selects the conference product.
type CalendarConferenceSolution struct {
	Type string `json:"type"`
}

// FormatCalendarEvent maps event to a calendar entry. Only scheduled
// events and deliverable due dates produce entries; every other type
// returns nil, as does an event without a usable start date.
func FormatCalendarEvent(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *CalendarEvent {
	if !subscribed(event, settings) {
		return nil
	}
	timeZone := defaultTimeZone
	if settings != nil && settings.TimeZone != "" {
		timeZone = settings.TimeZone
	}

	switch event.Type {
	case entity.EventEventCreated:
		return scheduledEventEntry(event, timeZone, baseURL)
	case entity.EventDeliverableSubmitted:
		return deliverableDeadlineEntry(event, timeZone, baseURL)
	case entity.EventProjectCreated, entity.EventDeliverableReviewed,
		entity.EventCommentAdded, entity.EventMemberJoined:
		return nil
	default:
		return nil
	}
}

func scheduledEventEntry(event entity.IntegrationEvent, timeZone, baseURL string) *CalendarEvent {
	start, end, ok := calendarSpan(event.StringOr("", "startDate", "start"), event.StringOr("", "endDate", "end"), timeZone)
	if !ok {
		return nil
	}

	description := event.String("description")
	if link := deepLink(baseURL, "events", event.String("eventId")); link != "" {
		if description != "" {
			description += "\n\n"
		}
		description += "Voir dans l'application : " + link
	}

	entry := &CalendarEvent{
		Summary:     event.StringOr(fallbackName, "title", "eventName"),
		Description: description,
		Location:    event.String("location"),
		Start:       start,
		End:         end,
		ColorID:     calendarColorEvent,
	}
	for _, email := range event.Strings("attendees") {
		entry.Attendees = append(entry.Attendees, CalendarAttendee{Email: email})
	}
	if event.String("createMeet") == "true" {
		requestID := event.String("eventId")
		if requestID == "" {
			requestID = start.DateTime + start.Date
		}
		entry.ConferenceData = &CalendarConferenceData{
			CreateRequest: CalendarCreateConferenceRequest{
				RequestID:             "meet-" + requestID,
				ConferenceSolutionKey: CalendarConferenceSolution{Type: "hangoutsMeet"},
			},
		}
	}
	return entry
}

func deliverableDeadlineEntry(event entity.IntegrationEvent, timeZone, baseURL string) *CalendarEvent {
	start, end, ok := calendarSpan(event.String("dueDate"), "", timeZone)
	if !ok {
		return nil
	}
	name := event.StringOr(fallbackName, "deliverableName", "title")
	description := "Livrable soumis par " + event.StringOr(fallbackUser, "submittedBy", "userName") +
		" pour le projet " + event.StringOr(fallbackName, "projectName") + "."
	if link := deepLink(baseURL, "deliverables", event.String("deliverableId")); link != "" {
		description += "\n\nVoir dans l'application : " + link
	}
	return &CalendarEvent{
		Summary:     "Échéance : " + name,
		Description: description,
		Start:       start,
		End:         end,
		ColorID:     calendarColorDeadline,
	}
}

// calendarSpan parses a start (and optional end) as either a date
// (2006-01-02, all-day) or an RFC 3339 timestamp. Missing ends default to
// one hour for timed events and one day for all-day events.
func calendarSpan(rawStart, rawEnd, timeZone string) (CalendarEventTime, CalendarEventTime, bool) {
	if rawStart == "" {
		return CalendarEventTime{}, CalendarEventTime{}, false
	}

	if day, err := time.Parse(time.DateOnly, rawStart); err == nil {
		endDay := day.AddDate(0, 0, 1)
		if parsed, err := time.Parse(time.DateOnly, rawEnd); err == nil && parsed.After(day) {
			endDay = parsed
		}
		return CalendarEventTime{Date: day.Format(time.DateOnly)},
			CalendarEventTime{Date: endDay.Format(time.DateOnly)}, true
	}

	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return CalendarEventTime{}, CalendarEventTime{}, false
	}
	end := start.Add(time.Hour)
	if parsed, err := time.Parse(time.RFC3339, rawEnd); err == nil && parsed.After(start) {
		end = parsed
	}
	return CalendarEventTime{DateTime: start.Format(time.RFC3339), TimeZone: timeZone},
		CalendarEventTime{DateTime: end.Format(time.RFC3339), TimeZone: timeZone}, true
}

// CalendarNotifier creates Google Calendar entries for scheduled events.
type CalendarNotifier struct {
	config    GoogleConfig
	client    restClient
	refresher tokenRefresher
}

// NewCalendarNotifier creates a CalendarNotifier. A failed token refresh
// is tolerated: the call proceeds with the current token.
func NewCalendarNotifier(config GoogleConfig) *CalendarNotifier {
	config = config.withDefaults()
	return &CalendarNotifier{
		config:    config,
		client:    newRESTClient("Google Calendar", config.Timeout, config.RateLimit),
		refresher: newTokenRefresher("Google Calendar", config, RefreshLenient),
	}
}

// Type implements the provider contract.
func (c *CalendarNotifier) Type() entity.IntegrationType {
	return entity.TypeGoogleCalendar
}

// Send creates a calendar event when the formatter produces one.
func (c *CalendarNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	entry := FormatCalendarEvent(event, settings, c.config.AppBaseURL)
	if entry == nil {
		return entity.Skipped(), nil
	}

	started := time.Now()
	creds, refreshed, err := c.refresher.ensureValidToken(ctx, creds)
	if err != nil {
		return entity.SendResult{}, err
	}

	calendarID := defaultCalendarID
	if settings != nil && settings.CalendarID != "" {
		calendarID = settings.CalendarID
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events?conferenceDataVersion=1", c.config.CalendarAPIURL, url.PathEscape(calendarID))

	status, err := c.client.do(ctx, limitKey(creds), http.MethodPost, endpoint, creds.AccessToken, entry, nil)
	var result entity.SendResult
	if err != nil {
		result = failedResult(err, started)
	} else {
		result = succeededResult(status, started)
	}
	result.RefreshedCredentials = refreshedPtr(creds, refreshed)
	return result, nil
}

// TestConnection lists the account's calendars.
func (c *CalendarNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	creds, refreshed, err := c.refresher.ensureValidToken(ctx, creds)
	if err != nil {
		return entity.TestResult{}, err
	}

	var list struct {
		Items []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"items"`
	}
	_, err = c.client.do(ctx, limitKey(creds), http.MethodGet, c.config.CalendarAPIURL+"/users/me/calendarList", creds.AccessToken, nil, &list)
	if err != nil {
		result := oauthTestFailure("Google Calendar", err)
		result.RefreshedCredentials = refreshedPtr(creds, refreshed)
		return result, nil
	}

	return entity.TestResult{
		Success:              true,
		Message:              fmt.Sprintf("Connexion à Google Calendar réussie : %d calendrier(s) trouvé(s).", len(list.Items)),
		RefreshedCredentials: refreshedPtr(creds, refreshed),
	}, nil
}
