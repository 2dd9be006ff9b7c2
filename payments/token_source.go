package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenSource fetches and caches an OAuth client-credentials access token.
// The token is refreshed five minutes before the provider says it expires.
type tokenSource struct {
	url    string
	key    string
	secret string
	client *http.Client
	log    *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

func newTokenSource(url, key, secret string, client *http.Client, log *zap.Logger) *tokenSource {
	return &tokenSource{url: url, key: key, secret: secret, client: client, log: log, now: time.Now}
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.token != "" && s.now().Before(s.expiry) {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", errors.Wrap(err, "build token request")
	}
	req.SetBasicAuth(s.key, s.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "request access token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("token endpoint returned %s", resp.Status)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decode access token")
	}
	if body.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty token")
	}

	s.token = body.AccessToken
	s.expiry = s.now().Add(time.Duration(body.ExpiresIn-300) * time.Second)
	s.log.Debug("fetched new access token", zap.Time("expires", s.expiry))
	return s.token, nil
}
