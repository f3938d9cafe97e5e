package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"integration-hub/internal/domain/entity"
)

// Drive mime types.
const (
	DriveFolderMimeType   = "application/vnd.google-apps.folder"
	DriveDocumentMimeType = "application/vnd.google-apps.document"
)

// DriveFile is the Drive files.create metadata body.
type DriveFile struct {
	Name        string   `json:"name"`
	MimeType    string   `json:"mimeType"`
	Parents     []string `json:"parents,omitempty"`
	Description string   `json:"description,omitempty"`
}

// IsFolder reports whether f describes a folder.
func (f DriveFile) IsFolder() bool {
	return f.MimeType == DriveFolderMimeType
}

// FormatDriveFile maps event to a Drive item: a folder per new project and
// a document per submitted deliverable. Other types return nil.
func FormatDriveFile(event entity.IntegrationEvent, settings *entity.Settings, baseURL string) *DriveFile {
	if !subscribed(event, settings) {
		return nil
	}
	var parents []string
	if settings != nil && settings.FolderID != "" {
		parents = []string{settings.FolderID}
	}

	switch event.Type {
	case entity.EventProjectCreated:
		description := event.String("description")
		if link := deepLink(baseURL, "projects", event.String("projectId")); link != "" {
			description = joinLines(description, link)
		}
		return &DriveFile{
			Name:        event.StringOr(fallbackName, "projectName", "name"),
			MimeType:    DriveFolderMimeType,
			Parents:     parents,
			Description: description,
		}
	case entity.EventDeliverableSubmitted:
		description := "Soumis par " + event.StringOr(fallbackUser, "submittedBy", "userName") +
			" pour le projet " + event.StringOr(fallbackName, "projectName") + "."
		if link := deepLink(baseURL, "deliverables", event.String("deliverableId")); link != "" {
			description = joinLines(description, link)
		}
		return &DriveFile{
			Name:        "Livrable - " + event.StringOr(fallbackName, "deliverableName", "title"),
			MimeType:    DriveDocumentMimeType,
			Parents:     parents,
			Description: description,
		}
	case entity.EventDeliverableReviewed, entity.EventCommentAdded,
		entity.EventMemberJoined, entity.EventEventCreated:
		return nil
	default:
		return nil
	}
}

func joinLines(first, second string) string {
	if first == "" {
		return second
	}
	return first + "\n" + second
}

// DriveNotifier creates Drive folders and documents.
type DriveNotifier struct {
	config    GoogleConfig
	client    restClient
	refresher tokenRefresher
}

// NewDriveNotifier creates a DriveNotifier. A failed token refresh aborts
// the call.
func NewDriveNotifier(config GoogleConfig) *DriveNotifier {
	config = config.withDefaults()
	return &DriveNotifier{
		config:    config,
		client:    newRESTClient("Google Drive", config.Timeout, config.RateLimit),
		refresher: newTokenRefresher("Google Drive", config, RefreshStrict),
	}
}

// Type implements the provider contract.
func (d *DriveNotifier) Type() entity.IntegrationType {
	return entity.TypeGoogleDrive
}

// Send creates the folder or document produced by the formatter.
func (d *DriveNotifier) Send(ctx context.Context, creds entity.Credentials, event entity.IntegrationEvent, settings *entity.Settings) (entity.SendResult, error) {
	file := FormatDriveFile(event, settings, d.config.AppBaseURL)
	if file == nil {
		return entity.Skipped(), nil
	}

	started := time.Now()
	creds, refreshed, err := d.refresher.ensureValidToken(ctx, creds)
	if err != nil {
		return entity.SendResult{}, err
	}

	status, err := d.client.do(ctx, limitKey(creds), http.MethodPost, d.config.DriveAPIURL+"/files?fields=id,name,mimeType", creds.AccessToken, file, nil)
	var result entity.SendResult
	if err != nil {
		result = failedResult(err, started)
	} else {
		result = succeededResult(status, started)
	}
	result.RefreshedCredentials = refreshedPtr(creds, refreshed)
	return result, nil
}

// TestConnection lists a single file to confirm the token works.
func (d *DriveNotifier) TestConnection(ctx context.Context, creds entity.Credentials) (entity.TestResult, error) {
	creds, refreshed, err := d.refresher.ensureValidToken(ctx, creds)
	if err != nil {
		return entity.TestResult{}, err
	}

	var list struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	_, err = d.client.do(ctx, limitKey(creds), http.MethodGet, d.config.DriveAPIURL+"/files?pageSize=1&fields=files(id,name)", creds.AccessToken, nil, &list)
	if err != nil {
		result := oauthTestFailure("Google Drive", err)
		result.RefreshedCredentials = refreshedPtr(creds, refreshed)
		return result, nil
	}

	return entity.TestResult{
		Success:              true,
		Message:              "Connexion à Google Drive réussie.",
		Details:              fmt.Sprintf("%d fichier(s) accessible(s) dans l'échantillon.", len(list.Files)),
		RefreshedCredentials: refreshedPtr(creds, refreshed),
	}, nil
}
