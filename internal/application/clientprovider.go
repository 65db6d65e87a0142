package application

import (
	"context"
	"sync"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// ClientProvider hands out the installation-scoped GitHub client. The first
// call to Get exchanges the installation id for a client via the
// CredentialProvider; later calls reuse it. The client rotates its own token,
// so one exchange lasts the life of the process unless Reset is called.
type ClientProvider struct {
	credentials    driven.CredentialProvider
	installationID int64

	// mu is held across the exchange so concurrent first callers share one
	// exchange instead of racing.
	mu     sync.Mutex
	client driven.InstallationClient
}

// NewClientProvider creates a provider for the given installation.
func NewClientProvider(credentials driven.CredentialProvider, installationID int64) *ClientProvider {
	return &ClientProvider{
		credentials:    credentials,
		installationID: installationID,
	}
}

// Get returns the installation client, exchanging credentials on first use.
// A failed exchange returns *model.AuthError and is retried on the next call.
func (p *ClientProvider) Get(ctx context.Context) (driven.InstallationClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := p.credentials.InstallationClient(ctx, p.installationID)
	if err != nil {
		return nil, &model.AuthError{Op: "exchange installation credentials", Err: err}
	}

	p.client = client
	return client, nil
}

// Reset drops the memoized client so the next Get performs a fresh exchange.
func (p *ClientProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = nil
}
