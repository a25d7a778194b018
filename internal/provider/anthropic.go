package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/oauth2"
)

// anthropicUpstream posts to <base>/v1/messages through the Anthropic SDK client, which
// supplies the SDK's standard headers and decodes error responses.
type anthropicUpstream struct {
	name    string
	version string
	keys    oauth2.TokenSource
	client  anthropic.Client
}

func newAnthropicUpstream(name, baseURL, version string, keys oauth2.TokenSource, transport http.RoundTripper) *anthropicUpstream {
	// Accept base URLs with or without the API version path.
	baseURL = strings.TrimSuffix(baseURL, "/v1") + "/"

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{
			Transport: transport,
			// Client.Timeout = 0 allows long-running SSE streams; callers bound requests via context.
		}),
		option.WithMaxRetries(0),
		// Generous RequestTimeout keeps the SDK from imposing its own limit; callers bound requests via context.
		option.WithRequestTimeout(1*time.Hour),
	)

	return &anthropicUpstream{name: name, version: version, keys: keys, client: client}
}

func (u *anthropicUpstream) post(ctx context.Context, body []byte) (*http.Response, error) {
	token, err := u.keys.Token()
	if err != nil {
		return nil, fmt.Errorf("%s api key: %w", u.name, err)
	}

	var resp *http.Response
	err = u.client.Post(ctx, "v1/messages", json.RawMessage(body), nil,
		option.WithResponseInto(&resp),
		option.WithAPIKey(token.AccessToken),
		option.WithHeader("anthropic-version", u.version),
	)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{Provider: u.name, StatusCode: apiErr.StatusCode, Body: []byte(apiErr.RawJSON())}
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%s request failed: %w", u.name, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%s request failed: empty response", u.name)
	}
	return resp, nil
}
