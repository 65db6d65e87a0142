// Package viewmodel defines presentation-ready structs for templ components.
// View models decouple template rendering from domain model types.
package viewmodel

// RepositoryViewModel holds presentation-ready data for one repository row.
type RepositoryViewModel struct {
	ID       int64
	FullName string
	Owner    string
	Name     string
	URL      string
	Private  bool

	// Topics is empty and TopicsKnown false for records learned from a
	// webhook that carried no topics.
	Topics      []string
	TopicsKnown bool

	// DescriptionHTML is sanitized markdown, safe to emit unescaped.
	DescriptionHTML string
}

// DashboardViewModel holds everything the dashboard page renders.
type DashboardViewModel struct {
	Phase        string
	Count        int
	Repositories []RepositoryViewModel

	// CanResync is false when no maintenance service is wired.
	CanResync bool
	CSRFToken string

	Notice string
	Error  string
}
