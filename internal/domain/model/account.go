package model

// AccountTypeOrganization is the account type GitHub reports for organizations.
const AccountTypeOrganization = "Organization"

// Account is a GitHub user or organization.
type Account struct {
	Login string
	Type  string
}

// IsOrganization reports whether the account is an organization.
func (a Account) IsOrganization() bool {
	return a.Type == AccountTypeOrganization
}

// App is the authenticated GitHub App.
type App struct {
	ID         int64
	Slug       string
	OwnerLogin string
}

// Installation binds the App to one account's set of accessible repositories.
type Installation struct {
	ID                  int64
	Account             Account
	RepositorySelection string // "all" or "selected"
}
