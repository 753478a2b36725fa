// Package vertextoken exchanges a Vertex service account for a short-lived
// OAuth2 bearer token, caching it per credential and refreshing on expiry.
//
// Service-account signing is CPU work followed by blocking network I/O, so
// refreshes are dispatched onto a bounded worker pool distinct from the
// request-serving goroutines, and concurrent callers for the same
// credential coalesce into a single refresh via singleflight.
package vertextoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// expiryLeeway re-fetches a token slightly before its real expiry so a
// request in flight never races a token that expires mid-call.
const expiryLeeway = 60 * time.Second

type cachedToken struct {
	accessToken string
	expiry      time.Time
}

// Cacher exchanges service-account JSON for bearer tokens and caches the
// result per project id.
type Cacher struct {
	mu     sync.Mutex
	tokens map[string]cachedToken

	group singleflight.Group
	pool  *workerPool

	// exchange performs the actual credential exchange; overridable in
	// tests to avoid real network calls.
	exchange func(ctx context.Context, serviceAccountJSON []byte) (*cachedToken, error)
}

// NewCacher constructs a Cacher whose refreshes run on a worker pool with
// the given concurrency; workers <= 0 defaults to 4.
func NewCacher(workers int) *Cacher {
	if workers <= 0 {
		workers = 4
	}
	return &Cacher{
		tokens:   make(map[string]cachedToken),
		pool:     newWorkerPool(workers),
		exchange: googleExchange,
	}
}

func googleExchange(ctx context.Context, serviceAccountJSON []byte) (*cachedToken, error) {
	creds, err := google.CredentialsFromJSON(ctx, serviceAccountJSON, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("vertextoken: parse service account json: %w", err)
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("vertextoken: refresh failed: %w", err)
	}
	return &cachedToken{accessToken: tok.AccessToken, expiry: tok.Expiry}, nil
}

// GetToken returns a currently-valid bearer token for the given project id
// and service-account JSON. A refresh failure is propagated to the caller;
// the cached (expired) token is never served as a fallback.
func (c *Cacher) GetToken(ctx context.Context, projectID string, serviceAccountJSON []byte) (string, error) {
	c.mu.Lock()
	cached, ok := c.tokens[projectID]
	c.mu.Unlock()
	if ok && time.Now().Before(cached.expiry.Add(-expiryLeeway)) {
		return cached.accessToken, nil
	}

	result, err, _ := c.group.Do(projectID, func() (any, error) {
		return c.refresh(ctx, projectID, serviceAccountJSON)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Cacher) refresh(ctx context.Context, projectID string, serviceAccountJSON []byte) (string, error) {
	type outcome struct {
		token  *cachedToken
		err    error
	}
	resultCh := make(chan outcome, 1)

	submitErr := c.pool.Submit(ctx, func() {
		token, err := c.exchange(ctx, serviceAccountJSON)
		if err != nil {
			resultCh <- outcome{err: err}
			return
		}
		resultCh <- outcome{token: token}
	})
	if submitErr != nil {
		return "", submitErr
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", res.err
		}
		c.mu.Lock()
		c.tokens[projectID] = *res.token
		c.mu.Unlock()
		return res.token.accessToken, nil
	}
}

// Forget drops the cached token for a project id, e.g. after the
// credential is removed from the pool on reload.
func (c *Cacher) Forget(projectID string) {
	c.mu.Lock()
	delete(c.tokens, projectID)
	c.mu.Unlock()
}
