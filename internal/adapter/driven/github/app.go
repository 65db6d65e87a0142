package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/tako/internal/domain/model"
	"github.com/ericfisherdev/tako/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialProvider = (*AppClient)(nil)

const (
	// GitHub rejects App JWTs valid for longer than ten minutes. Backdating
	// iat absorbs clock drift between this host and GitHub.
	appTokenLifetime = 9 * time.Minute
	appTokenBackdate = 60 * time.Second

	// tokenRefreshMargin is how long before expiry a cached token is replaced.
	tokenRefreshMargin = 5 * time.Minute
)

// AppConfig describes a GitHub App and how to reach the API.
type AppConfig struct {
	AppID         int64
	PrivateKeyPEM []byte

	// BaseURL is the REST API root. Empty means https://api.github.com/.
	BaseURL string

	// Transport carries requests beneath each client's in-memory ETag cache.
	// Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// AppClient implements driven.CredentialProvider. It authenticates as the App
// with a short-lived RS256 JWT and exchanges installation ids for
// installation-scoped Clients.
type AppClient struct {
	gh      *gh.Client
	cfg     AppConfig
	signer  *appTokenSigner
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewAppClient creates an App-authenticated client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. revalidation (every GET asks httpcache to check its entry with GitHub)
//  3. App JWT authentication
//  4. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  5. go-github (GitHub REST API client)
func NewAppClient(cfg AppConfig, logger *slog.Logger) (*AppClient, error) {
	if cfg.AppID <= 0 {
		return nil, errors.New("app id must be positive")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing app private key: %w", err)
	}

	a := &AppClient{
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}
	a.signer = &appTokenSigner{appID: cfg.AppID, key: key, now: a.now}

	httpClient := newTransportStack(cfg.Transport, func(ctx context.Context) (string, error) {
		return a.signer.Token()
	})

	client, err := withBaseURL(gh.NewClient(httpClient), cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	a.gh = client

	return a, nil
}

// SetClock overrides the clock used for JWT claims and token expiry. Tests
// use it to exercise token rotation.
func (a *AppClient) SetClock(now func() time.Time) {
	a.nowFunc = now
}

func (a *AppClient) now() time.Time {
	return a.nowFunc()
}

// App returns the authenticated App (GET /app).
func (a *AppClient) App(ctx context.Context) (model.App, error) {
	app, resp, err := a.gh.Apps.Get(ctx, "")
	if err != nil {
		return model.App{}, fmt.Errorf("getting authenticated app: %w", err)
	}
	logRateLimit(a.logger, resp, "app", 0, 1)

	return model.App{
		ID:         app.GetID(),
		Slug:       app.GetSlug(),
		OwnerLogin: app.GetOwner().GetLogin(),
	}, nil
}

// Installations lists every installation of the App, walking all pages.
func (a *AppClient) Installations(ctx context.Context) ([]model.Installation, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var all []model.Installation

	for {
		installations, resp, err := a.gh.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing app installations (page %d): %w", opts.Page, err)
		}

		logRateLimit(a.logger, resp, "app/installations", opts.Page, len(installations))

		for _, inst := range installations {
			all = append(all, mapInstallation(inst))
		}

		if resp.NextPage == 0 || resp.NextPage <= opts.Page {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// Installation returns a single installation (GET /app/installations/{id}).
func (a *AppClient) Installation(ctx context.Context, installationID int64) (model.Installation, error) {
	inst, resp, err := a.gh.Apps.GetInstallation(ctx, installationID)
	if err != nil {
		return model.Installation{}, fmt.Errorf("getting installation %d: %w", installationID, err)
	}
	logRateLimit(a.logger, resp, "app/installations/{id}", 0, 1)

	return mapInstallation(inst), nil
}

// InstallationClient exchanges installationID for an access token and returns
// a Client that uses it. The token is re-exchanged automatically before it
// expires.
func (a *AppClient) InstallationClient(ctx context.Context, installationID int64) (driven.InstallationClient, error) {
	source := &installationTokenSource{
		apps:           a.gh.Apps,
		installationID: installationID,
		now:            a.now,
		logger:         a.logger,
	}

	if _, err := source.Token(ctx); err != nil {
		return nil, err
	}

	httpClient := newTransportStack(a.cfg.Transport, source.Token)
	client, err := withBaseURL(gh.NewClient(httpClient), a.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Client{gh: client, logger: a.logger}, nil
}

func mapInstallation(inst *gh.Installation) model.Installation {
	return model.Installation{
		ID: inst.GetID(),
		Account: model.Account{
			Login: inst.GetAccount().GetLogin(),
			Type:  inst.GetAccount().GetType(),
		},
		RepositorySelection: inst.GetRepositorySelection(),
	}
}

// newTransportStack layers bearer authentication and secondary rate limit
// handling over a private ETag cache on base. A nil base is
// http.DefaultTransport.
func newTransportStack(base http.RoundTripper, token func(ctx context.Context) (string, error)) *http.Client {
	cache := httpcache.NewMemoryCacheTransport()
	if base != nil {
		cache.Transport = base
	}
	return github_ratelimit.NewClient(&bearerTransport{
		base:  &revalidateTransport{base: cache},
		token: token,
	})
}

// revalidateTransport marks every GET with max-age=0. GitHub sends
// "private, max-age=60" on listings and searches, which httpcache would
// otherwise replay without asking; a purge must observe upstream changes, so
// the cached entry is always revalidated with If-None-Match. An unchanged
// listing still comes back as a 304 that does not count against the quota.
type revalidateTransport struct {
	base http.RoundTripper
}

func (t *revalidateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("Cache-Control", "max-age=0")
	return t.base.RoundTrip(req)
}

// bearerTransport sets the Authorization header on every request.
type bearerTransport struct {
	base  http.RoundTripper
	token func(ctx context.Context) (string, error)
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.token(req.Context())
	if err != nil {
		return nil, err
	}

	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(req)
}

// appTokenSigner mints App JWTs and reuses each one until it is close to
// expiring.
type appTokenSigner struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Token returns a signed App JWT.
func (s *appTokenSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(time.Minute).Before(s.expiresAt) {
		return s.token, nil
	}

	expiresAt := now.Add(appTokenLifetime)
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-appTokenBackdate)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing app token: %w", err)
	}

	s.token = signed
	s.expiresAt = expiresAt
	return signed, nil
}

// installationTokenSource caches an installation access token and exchanges
// a new one when the cached token is within tokenRefreshMargin of expiry.
type installationTokenSource struct {
	apps           *gh.AppsService
	installationID int64
	now            func() time.Time
	logger         *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Token returns a valid installation access token.
func (s *installationTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(tokenRefreshMargin).Before(s.expiresAt) {
		return s.token, nil
	}

	token, _, err := s.apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("creating installation token for %d: %w", s.installationID, err)
	}
	if token.GetToken() == "" {
		return "", fmt.Errorf("creating installation token for %d: empty token in response", s.installationID)
	}

	s.token = token.GetToken()
	s.expiresAt = token.GetExpiresAt().Time

	s.logger.Debug("installation token issued",
		"installation_id", s.installationID,
		"expires_at", s.expiresAt,
	)

	return s.token, nil
}
