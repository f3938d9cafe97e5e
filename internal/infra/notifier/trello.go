package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"integration-hub/internal/domain/entity"
)

// DefaultTrelloAPIURL is the Trello REST API root.
const DefaultTrelloAPIURL = "https://api.trello.com/1"

var (
	// ErrMissingBoardID is returned when settings.board_id is not configured.
	ErrMissingBoardID = errors.New("trello: board_id is not configured")
	// ErrEmptyBoard is returned when the board has no list to hold cards.
	ErrEmptyBoard = errors.New("trello: board has no lists")
)

// TrelloConfig configures the Trello notifier.
type TrelloConfig struct {
	AppBaseURL string
	APIURL     string
	Timeout    time.Duration
	RateLimit  RateLimit
}

// TrelloCard holds the fields sent to POST /cards.
type TrelloCard struct {
	Name      string
	Desc      string
	Pos       string
	Due       string
	URLSource string
	IDMembers []string
	IDLabels  []string
}

// query encodes the card as Trello query parameters.
func (c TrelloCard) query(listID string) url.Values {
	q := url.Values{}
	q.Set("name", c.Name)
	q.Set("idList", listID)
	if c.Desc != "" {
		q.Set("desc", c.Desc)
	}
	if c.Pos != "" {
		q.Set("pos", c.Pos)
	}
	if c.Due != "" {
		q.Set("due", c.Due)
	}
	if c.URLSource != "" {
		q.Set("urlSource", c.URLSource)
	}
	if len(c.IDMembers) > 0 {
		q.Set("idMembers", strings.Join(c.IDMembers, ","))
	}
	if len(c.IDLabels) > 0 {
		q.Set("idLabels", strings.Join(c.IDLabels, ","))
	}
	return q
}

// FormatTrelloCard maps event to a card. Comments and new members do not
// produce cards; unknown types return nil.
func FormatTrelloCard(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *TrelloCard {
	if !subscribed(event, settings) {
		return nil
	}

	var card *TrelloCard
	switch event.Type {
	case entity.EventProjectCreated:
		card = &TrelloCard{
			Name:      "Projet : " + event.StringOr(fallbackName, "projectName", "name"),
			Desc:      event.String("description"),
			URLSource: deepLink(baseURL, "projects", event.String("projectId")),
		}
	case entity.EventDeliverableSubmitted:
		card = &TrelloCard{
			Name: "Livrable : " + event.StringOr(fallbackName, "deliverableName", "title"),
			Desc: "Soumis par " + event.StringOr(fallbackUser, "submittedBy", "userName") +
				" pour le projet " + event.StringOr(fallbackName, "projectName") + ".",
			Due:       event.String("dueDate"),
			URLSource: deepLink(baseURL, "deliverables", event.String("deliverableId")),
		}
	case entity.EventDeliverableReviewed:
		desc := "Évalué par " + event.StringOr(fallbackUser, "reviewerName", "reviewedBy", "userName") + "."
		if feedback := event.StringOr("", "feedback", "comment"); feedback != "" {
			desc += "\n\n" + truncateComment(feedback)
		}
		card = &TrelloCard{
			Name:      "Évaluation : " + event.StringOr(fallbackName, "deliverableName", "title") + " (" + reviewStatusLabel(event.String("status")) + ")",
			Desc:      desc,
			URLSource: deepLink(baseURL, "deliverables", event.String("deliverableId")),
		}
	case entity.EventEventCreated:
		card = &TrelloCard{
			Name:      "Événement : " + event.StringOr(fallbackName, "title", "eventName"),
			Desc:      event.String("description"),
			Due:       event.StringOr("", "startDate", "start"),
			URLSource: deepLink(baseURL, "events", event.String("eventId")),
		}
	case entity.EventCommentAdded, entity.EventMemberJoined:
		return nil
	default:
		return nil
	}

	card.Pos = "top"
	card.IDMembers = event.Strings("trelloMemberIds")
	card.IDLabels = event.Strings("trelloLabelIds")
	return card
}

type trelloList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrelloNotifier creates Trello cards.
type TrelloNotifier struct {
	config TrelloConfig
	client restClient
}

// NewTrelloNotifier creates a TrelloNotifier.
func NewTrelloNotifier(config TrelloConfig) *TrelloNotifier {
	if config.APIURL == "" {
		config.APIURL = DefaultTrelloAPIURL
	}
	return &TrelloNotifier{
		config: config,
		client: newRESTClient("Trello", config.Timeout, config.RateLimit),
	}
}

// Type implements the provider contract.
func (t *TrelloNotifier) Type() entity.IntegrationType {
	return entity.TypeTrello
}

// endpoint builds an API URL with key and token as query parameters.
func (t *TrelloNotifier) endpoint(path string, creds entity.Credentials, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", creds.APIKey)
	q.Set("token", creds.Token)
	return t.config.APIURL + path + "?" + q.Encode()
}

// Send creates a card on the mapped list, or on the first list of the board.
func (t *TrelloNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	card := FormatTrelloCard(event, settings, t.config.AppBaseURL)
	if card == nil {
		return entity.Skipped(), nil
	}
	if settings == nil || settings.BoardID == "" {
		return entity.SendResult{}, ErrMissingBoardID
	}

	started := time.Now()
	listID := settings.ListMappings[string(event.Type)]
	if listID == "" {
		var lists []trelloList
		_, err := t.client.do(ctx, limitKey(creds), http.MethodGet,
			t.endpoint("/boards/"+url.PathEscape(settings.BoardID)+"/lists", creds, nil), "", nil, &lists)
		if err != nil {
			return failedResult(err, started), nil
		}
		if len(lists) == 0 {
			return entity.SendResult{}, ErrEmptyBoard
		}
		listID = lists[0].ID
	}

	status, err := t.client.do(ctx, limitKey(creds), http.MethodPost, t.endpoint("/cards", creds, card.query(listID)), "", nil, nil)
	if err != nil {
		return failedResult(err, started), nil
	}
	return succeededResult(status, started), nil
}

// TestConnection lists the boards visible to the token.
func (t *TrelloNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	var boards []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	q := url.Values{"fields": {"name"}}
	_, err := t.client.do(ctx, limitKey(creds), http.MethodGet, t.endpoint("/members/me/boards", creds, q), "", nil, &boards)
	if err != nil {
		switch {
		case statusCodeOf(err) == http.StatusUnauthorized:
			return entity.TestResult{
				Message: "Clé API ou jeton Trello invalide. Veuillez reconnecter votre compte Trello.",
				Details: err.Error(),
			}, nil
		case isTimeout(err):
			return entity.TestResult{
				Message: "Délai d'attente dépassé lors de la connexion à Trello.",
				Details: err.Error(),
			}, nil
		default:
			return entity.TestResult{
				Message: "Impossible de se connecter à Trello.",
				Details: err.Error(),
			}, nil
		}
	}

	return entity.TestResult{
		Success: true,
		Message: fmt.Sprintf("Connexion à Trello réussie : %d tableau(x) trouvé(s).", len(boards)),
	}, nil
}
