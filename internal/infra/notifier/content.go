package notifier

import (
	"integration-hub/internal/domain/entity"
)

// field is one labelled value rendered as a Slack field, Discord embed
// field or Teams fact.
type field struct {
	Label  string
	Value  string
	Inline bool
}

// eventCard is the provider-neutral rendering of an event shared by the
// webhook formatters.
type eventCard struct {
	Title   string
	Summary string
	Fields  []field
	Link    string
	// Quote holds free text such as a comment body, already truncated.
	Quote string
	Color int
}

// Card accent colors (decimal RGB, as Discord expects them).
const (
	colorProject     = 5793266  // #5865F2
	colorDeliverable = 15105570 // #E67E22
	colorApproved    = 5763719  // #57F287
	colorRejected    = 15548997 // #ED4245
	colorComment     = 3447003  // #3498DB
	colorMember      = 10181046 // #9B59B6
	colorEvent       = 1752220  // #1ABC9C
	colorGeneric     = 9807270  // #95A5A6
)

// cardBuilders maps each vocabulary type to its card builder.
var cardBuilders = map[entity.EventType]func(entity.IntegrationEvent, string) eventCard{
	entity.EventProjectCreated:       projectCreatedCard,
	entity.EventDeliverableSubmitted: deliverableSubmittedCard,
	entity.EventDeliverableReviewed:  deliverableReviewedCard,
	entity.EventCommentAdded:         commentAddedCard,
	entity.EventMemberJoined:         memberJoinedCard,
	entity.EventEventCreated:         eventCreatedCard,
}

// buildCard renders event for a webhook provider. Unknown types get a
// generic card.
func buildCard(event entity.IntegrationEvent, baseURL string) eventCard {
	if build, ok := cardBuilders[event.Type]; ok {
		return build(event, baseURL)
	}
	return genericCard(event)
}

// subscribed reports whether formatters should render event. A nil settings
// means the caller already filtered.
func subscribed(event entity.IntegrationEvent, settings *entity.Settings) bool {
	return settings == nil || settings.Subscribes(event.Type)
}

func projectCreatedCard(event entity.IntegrationEvent, baseURL string) eventCard {
	name := event.StringOr(fallbackName, "projectName", "name")
	author := event.StringOr(fallbackUser, "createdBy", "userName")
	card := eventCard{
		Title:   "Nouveau projet créé",
		Summary: "Le projet « " + name + " » a été créé par " + author + ".",
		Fields: []field{
			{Label: "Projet", Value: name, Inline: true},
			{Label: "Créé par", Value: author, Inline: true},
		},
		Link:  deepLink(baseURL, "projects", event.String("projectId")),
		Color: colorProject,
	}
	if description := event.String("description"); description != "" {
		card.Quote = truncateComment(description)
	}
	return card
}

func deliverableSubmittedCard(event entity.IntegrationEvent, baseURL string) eventCard {
	name := event.StringOr(fallbackName, "deliverableName", "title")
	author := event.StringOr(fallbackUser, "submittedBy", "userName")
	return eventCard{
		Title:   "Livrable soumis",
		Summary: author + " a soumis le livrable « " + name + " ».",
		Fields: []field{
			{Label: "Livrable", Value: name, Inline: true},
			{Label: "Projet", Value: event.StringOr(fallbackName, "projectName"), Inline: true},
			{Label: "Soumis par", Value: author, Inline: true},
			{Label: "Échéance", Value: event.StringOr(fallbackNA, "dueDate"), Inline: true},
		},
		Link:  deepLink(baseURL, "deliverables", event.String("deliverableId")),
		Color: colorDeliverable,
	}
}

func deliverableReviewedCard(event entity.IntegrationEvent, baseURL string) eventCard {
	name := event.StringOr(fallbackName, "deliverableName", "title")
	reviewer := event.StringOr(fallbackUser, "reviewerName", "reviewedBy", "userName")
	status := event.String("status")
	card := eventCard{
		Title:   "Livrable évalué",
		Summary: reviewer + " a évalué le livrable « " + name + " ».",
		Fields: []field{
			{Label: "Livrable", Value: name, Inline: true},
			{Label: "Évalué par", Value: reviewer, Inline: true},
			{Label: "Statut", Value: reviewStatusLabel(status), Inline: true},
		},
		Link:  deepLink(baseURL, "deliverables", event.String("deliverableId")),
		Color: colorDeliverable,
	}
	switch status {
	case "approved":
		card.Color = colorApproved
	case "rejected", "changes_requested":
		card.Color = colorRejected
	}
	if feedback := event.StringOr("", "feedback", "comment"); feedback != "" {
		card.Quote = truncateComment(feedback)
	}
	return card
}

func reviewStatusLabel(status string) string {
	switch status {
	case "approved":
		return "Approuvé"
	case "rejected":
		return "Refusé"
	case "changes_requested":
		return "Modifications demandées"
	case "":
		return fallbackNA
	default:
		return status
	}
}

func commentAddedCard(event entity.IntegrationEvent, baseURL string) eventCard {
	author := event.StringOr(fallbackUser, "authorName", "userName")
	target := event.StringOr(fallbackName, "resourceName", "deliverableName", "projectName")
	link := deepLink(baseURL, "deliverables", event.String("deliverableId"))
	if link == "" {
		link = deepLink(baseURL, "projects", event.String("projectId"))
	}
	return eventCard{
		Title:   "Nouveau commentaire",
		Summary: author + " a commenté « " + target + " ».",
		Fields: []field{
			{Label: "Auteur", Value: author, Inline: true},
			{Label: "Sur", Value: target, Inline: true},
		},
		Quote: truncateComment(event.StringOr(fallbackNA, "comment", "content")),
		Link:  link,
		Color: colorComment,
	}
}

func memberJoinedCard(event entity.IntegrationEvent, baseURL string) eventCard {
	member := event.StringOr(fallbackUser, "memberName", "userName")
	return eventCard{
		Title:   "Nouveau membre",
		Summary: member + " a rejoint l'équipe.",
		Fields: []field{
			{Label: "Membre", Value: member, Inline: true},
			{Label: "E-mail", Value: event.StringOr(fallbackNA, "email"), Inline: true},
			{Label: "Rôle", Value: event.StringOr(fallbackNA, "role"), Inline: true},
		},
		Link:  deepLink(baseURL, "members", event.String("memberId")),
		Color: colorMember,
	}
}

func eventCreatedCard(event entity.IntegrationEvent, baseURL string) eventCard {
	title := event.StringOr(fallbackName, "title", "eventName")
	return eventCard{
		Title:   "Nouvel événement",
		Summary: "L'événement « " + title + " » a été planifié.",
		Fields: []field{
			{Label: "Événement", Value: title, Inline: true},
			{Label: "Début", Value: event.StringOr(fallbackNA, "startDate", "start"), Inline: true},
			{Label: "Fin", Value: event.StringOr(fallbackNA, "endDate", "end"), Inline: true},
			{Label: "Lieu", Value: event.StringOr(fallbackNA, "location"), Inline: true},
		},
		Link:  deepLink(baseURL, "events", event.String("eventId")),
		Color: colorEvent,
	}
}

func genericCard(event entity.IntegrationEvent) eventCard {
	eventType := string(event.Type)
	if eventType == "" {
		eventType = fallbackNA
	}
	return eventCard{
		Title:   "Notification",
		Summary: "Événement : " + eventType,
		Color:   colorGeneric,
	}
}
