package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrTokenInvalid is returned when the configured core-service token fails
// the validity probe. The pipeline aborts the run rather than spending its
// batches on calls that will all be rejected.
var ErrTokenInvalid = errors.New("upstream: core token rejected by validity probe")

// TokenManager guards the core-service bearer token. The token is issued
// out of band and configured statically; the manager probes it against a
// cheap authenticated endpoint before each run and caches the verdict so
// concurrent categories do not re-probe.
type TokenManager struct {
	client   *Client
	probeURL string
	token    string
	ttl      time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	validated time.Time
}

// NewTokenManager builds a manager probing probeURL with the given token.
func NewTokenManager(client *Client, probeURL, token string, log zerolog.Logger) *TokenManager {
	return &TokenManager{
		client:   client,
		probeURL: probeURL,
		token:    token,
		ttl:      15 * time.Minute,
		log:      log.With().Str("component", "token").Logger(),
	}
}

// Token returns the bearer token after a successful validity probe. A probe
// verdict is cached for a short window; an expired cache triggers a fresh
// probe. When no probe URL is configured the token is trusted as-is.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.probeURL == "" || time.Since(m.validated) < m.ttl {
		return m.token, nil
	}

	headers := map[string]string{"Authorization": "Bearer " + m.token}
	err := m.client.DoJSON(ctx, http.MethodGet, m.probeURL, headers, nil, nil)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && (serr.Status == http.StatusUnauthorized || serr.Status == http.StatusForbidden) {
			m.log.Error().Int("status", serr.Status).Msg("token probe rejected")
			return "", ErrTokenInvalid
		}
		return "", err
	}

	m.validated = time.Now()
	m.log.Debug().Msg("token probe passed")
	return m.token, nil
}

// Invalidate drops the cached probe verdict, forcing the next Token call to
// re-probe. Called when a core-service call comes back 401 mid-run.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.validated = time.Time{}
	m.mu.Unlock()
}
