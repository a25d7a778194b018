package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// openaiUpstream posts to <base>/chat/completions with bearer authentication.
type openaiUpstream struct {
	name     string
	endpoint string
	client   *http.Client
}

func newOpenAIUpstream(name, baseURL string, keys oauth2.TokenSource, base http.RoundTripper) *openaiUpstream {
	return &openaiUpstream{
		name:     name,
		endpoint: baseURL + "/chat/completions",
		client: &http.Client{
			// oauth2.Transport sets "Authorization: Bearer <key>" from the rotating key source.
			Transport: &oauth2.Transport{Source: keys, Base: base},
			// Client.Timeout = 0 allows long-running SSE streams; callers bound requests via context.
		},
	}
}

func (u *openaiUpstream) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", u.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", u.name, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Provider: u.name, StatusCode: resp.StatusCode, Body: data}
	}
	return resp, nil
}
