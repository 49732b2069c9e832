// Package httpclient implements the layered, typed, retrying,
// reauthenticating request pipeline described as component A: content
// extraction, JSON codec, status check, auth injection, retry, and service
// binding, composed around a single *http.Client.
//
// The composition is grounded on the host codebase's pkg/mattermost.Client,
// which already does "marshal body, set headers, Do, check status, decode
// result" as one private `do` helper — this package splits that helper into
// independently testable layers and adds the reauth/retry/service-binding
// behavior the mattermost client does not need.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// rawResponse is the result of the innermost effectful request: status,
// headers, and the fully-read response body. Content extraction (layer 1)
// is folded into this call, since Go's http.Response already requires an
// explicit body read/close — there is no separate "response object" to
// strip the way there is in the original Twisted implementation.
type rawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// transport performs one raw HTTP round trip. It is the base of the
// decorator chain that every other layer in this package wraps.
type transport struct {
	client *http.Client
}

func newTransport(client *http.Client) *transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &transport{client: client}
}

func (t *transport) do(ctx context.Context, method, url string, headers http.Header, body []byte) (*rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &rawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}
