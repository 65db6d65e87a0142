package driven

import (
	"context"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// CredentialProvider defines the driven port for App-level GitHub calls,
// authenticated as the App itself rather than an installation.
type CredentialProvider interface {
	// App returns the authenticated App and its owning account.
	App(ctx context.Context) (model.App, error)

	// Installations lists every installation of the App.
	Installations(ctx context.Context) ([]model.Installation, error)

	// Installation returns a single installation by id.
	Installation(ctx context.Context, installationID int64) (model.Installation, error)

	// InstallationClient exchanges the installation id for a client scoped to
	// that installation. The exchange happens eagerly so credential problems
	// surface here rather than on the first API call.
	InstallationClient(ctx context.Context, installationID int64) (InstallationClient, error)
}
