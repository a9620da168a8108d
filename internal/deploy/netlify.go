package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"previewd/internal/domain"
	"previewd/pkg/zip"
)

// NetlifyTarget publishes artifacts as Netlify sites via the zip-deploy API.
type NetlifyTarget struct {
	authToken  string
	apiBase    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Options configures a NetlifyTarget. HTTPClient defaults to one with a
// 60 second timeout; APIBase to the public Netlify API.
type Options struct {
	AuthToken  string
	APIBase    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewNetlifyTarget constructs the deployment target. A missing token is not
// an error here: the credential is only checked when a deploy is attempted,
// so the service runs degraded rather than refusing to start.
func NewNetlifyTarget(opts Options) *NetlifyTarget {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	base := opts.APIBase
	if base == "" {
		base = "https://api.netlify.com/api/v1"
	}
	return &NetlifyTarget{
		authToken:  opts.AuthToken,
		apiBase:    base,
		httpClient: client,
		logger:     opts.Logger,
	}
}

type netlifySite struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	SSLURL string `json:"ssl_url"`
}

// Deploy archives the artifact directory and creates a site from it,
// returning the live URL. An empty URL in the provider response is a failure;
// a deploy that cannot be verified reachable is no deploy at all.
func (t *NetlifyTarget) Deploy(ctx context.Context, siteName, artifactDir string) (string, error) {
	if t.authToken == "" {
		return "", domain.ErrDeployNotConfigured
	}

	archive, err := zip.ArchiveDir(artifactDir)
	if err != nil {
		return "", fmt.Errorf("deploy: archive artifact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/sites", bytes.NewReader(archive))
	if err != nil {
		return "", fmt.Errorf("deploy: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.authToken)
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("X-Site-Name", siteName)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deploy: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("deploy: netlify returned %d: %s", resp.StatusCode, string(body))
	}

	var site netlifySite
	if err := json.NewDecoder(resp.Body).Decode(&site); err != nil {
		return "", fmt.Errorf("deploy: decode response: %w", err)
	}

	liveURL := site.SSLURL
	if liveURL == "" {
		liveURL = site.URL
	}
	if liveURL == "" {
		return "", fmt.Errorf("deploy: netlify returned no site url for %s", siteName)
	}

	t.logger.Info().Str("site", siteName).Str("url", liveURL).Msg("deploy: site published")
	return liveURL, nil
}
