package web

import (
	vm "github.com/ericfisherdev/tako/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/tako/internal/domain/model"
)

// toRepositoryViewModel converts a cached repository for display. The
// description is rendered as markdown and sanitized.
func toRepositoryViewModel(repo model.Repository) vm.RepositoryViewModel {
	url := repo.HTMLURL
	if url == "" && repo.FullName != "" {
		url = "https://github.com/" + repo.FullName
	}

	topics := []string{}
	if repo.TopicsKnown && len(repo.Topics) > 0 {
		topics = repo.Topics
	}

	return vm.RepositoryViewModel{
		ID:              repo.ID,
		FullName:        repo.FullName,
		Owner:           repo.Owner,
		Name:            repo.Name,
		URL:             url,
		Private:         repo.Private,
		Topics:          topics,
		TopicsKnown:     repo.TopicsKnown,
		DescriptionHTML: RenderMarkdown(repo.Description),
	}
}

// toDashboardViewModel assembles the dashboard from a cache snapshot.
func toDashboardViewModel(phase model.CachePhase, repos []model.Repository) vm.DashboardViewModel {
	rows := make([]vm.RepositoryViewModel, 0, len(repos))
	for _, repo := range repos {
		rows = append(rows, toRepositoryViewModel(repo))
	}

	return vm.DashboardViewModel{
		Phase:        phase.String(),
		Count:        len(rows),
		Repositories: rows,
	}
}

// noticeFor maps the redirect query left by a resync onto a banner message.
func noticeFor(status string) (notice, errMsg string) {
	switch status {
	case "ok":
		return "Repository cache resynced from GitHub.", ""
	case "failed":
		return "", "Resync failed. The cache will be rebuilt on the next read."
	default:
		return "", ""
	}
}
