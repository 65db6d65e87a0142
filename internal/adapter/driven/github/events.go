package github

import (
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// Webhook event types that can change the installation's repository set.
const (
	EventInstallation             = "installation"
	EventInstallationRepositories = "installation_repositories"
	EventRepository               = "repository"
	EventPing                     = "ping"
)

// WebhookTranslation is a parsed webhook payload. Event is nil when the
// delivery carries nothing the repository cache needs to act on.
type WebhookTranslation struct {
	Action         string
	InstallationID int64
	Event          *model.RepositoryEvent
}

// TranslateWebhook parses a verified webhook payload and maps it onto a
// RepositoryEvent. Event types outside the repository lifecycle are returned
// with a nil Event and no error.
func TranslateWebhook(eventType string, payload []byte) (WebhookTranslation, error) {
	switch eventType {
	case EventInstallation, EventInstallationRepositories, EventRepository:
	default:
		return WebhookTranslation{}, nil
	}

	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return WebhookTranslation{}, fmt.Errorf("parsing %s payload: %w", eventType, err)
	}

	switch e := parsed.(type) {
	case *gh.InstallationRepositoriesEvent:
		return translateInstallationRepositories(e), nil
	case *gh.InstallationEvent:
		return WebhookTranslation{
			Action:         e.GetAction(),
			InstallationID: e.GetInstallation().GetID(),
			Event: &model.RepositoryEvent{
				Kind:   model.EventMembershipChanged,
				Reason: reason(eventType, e.GetAction()),
			},
		}, nil
	case *gh.RepositoryEvent:
		return translateRepository(e), nil
	default:
		return WebhookTranslation{}, fmt.Errorf("unexpected payload type %T for %s", parsed, eventType)
	}
}

func translateInstallationRepositories(e *gh.InstallationRepositoriesEvent) WebhookTranslation {
	t := WebhookTranslation{
		Action:         e.GetAction(),
		InstallationID: e.GetInstallation().GetID(),
	}

	switch e.GetAction() {
	case "added":
		t.Event = &model.RepositoryEvent{
			Kind:         model.EventRepositoriesAdded,
			Repositories: mapRepositories(e.RepositoriesAdded),
		}
	case "removed":
		t.Event = &model.RepositoryEvent{
			Kind:         model.EventRepositoriesRemoved,
			Repositories: mapRepositories(e.RepositoriesRemoved),
		}
	default:
		return t
	}

	t.Event.Reason = reason(EventInstallationRepositories, e.GetAction())
	return t
}

func translateRepository(e *gh.RepositoryEvent) WebhookTranslation {
	t := WebhookTranslation{
		Action:         e.GetAction(),
		InstallationID: e.GetInstallation().GetID(),
	}

	repos := mapRepositories([]*gh.Repository{e.GetRepo()})

	switch e.GetAction() {
	case "archived", "deleted":
		t.Event = &model.RepositoryEvent{Kind: model.EventRepositoriesRemoved, Repositories: repos}
	case "unarchived", "created", "renamed", "edited", "privatized", "publicized":
		t.Event = &model.RepositoryEvent{Kind: model.EventRepositoriesAdded, Repositories: repos}
	case "transferred":
		t.Event = &model.RepositoryEvent{Kind: model.EventMembershipChanged}
	default:
		return t
	}

	t.Event.Reason = reason(EventRepository, e.GetAction())
	return t
}

func mapRepositories(in []*gh.Repository) []model.Repository {
	out := make([]model.Repository, 0, len(in))
	for _, r := range in {
		if repo := mapRepository(r); repo != nil && repo.ID != 0 {
			out = append(out, *repo)
		}
	}
	return out
}

func reason(eventType, action string) string {
	if action == "" {
		return eventType
	}
	return eventType + "." + action
}
