package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wisbric/otter/pkg/model"
)

// client performs the raw POST /tokens exchange against the identity
// endpoint. It does not go through pkg/httpclient's authenticated pipeline
// — this is the bootstrap call that produces the auth the rest of the
// system uses — but it is built in the same "marshal, Do, check status,
// decode" shape as the host codebase's pkg/mattermost.Client.do helper.
type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string, httpClient *http.Client) *client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &client{baseURL: baseURL, httpClient: httpClient}
}

type tokenRequest struct {
	Auth authBlock `json:"auth"`
}

type authBlock struct {
	PasswordCredentials *passwordCredentials `json:"passwordCredentials,omitempty"`
	APIKeyCredentials   *apiKeyCredentials   `json:"RAX-KSKEY:apiKeyCredentials,omitempty"`
}

type passwordCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type apiKeyCredentials struct {
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
}

type tokenResponse struct {
	Access struct {
		Token struct {
			ID     string `json:"id"`
			Tenant struct {
				ID string `json:"id"`
			} `json:"tenant"`
		} `json:"token"`
		ServiceCatalog []struct {
			Name      string `json:"name"`
			Type      string `json:"type"`
			Endpoints []struct {
				Region    string `json:"region"`
				PublicURL string `json:"publicURL"`
			} `json:"endpoints"`
		} `json:"serviceCatalog"`
	} `json:"access"`
}

// authenticate performs the POST /tokens exchange per §6.
func (c *client) authenticate(ctx context.Context, creds Credentials) (Token, error) {
	reqBody := tokenRequest{}
	switch creds.Strategy {
	case StrategyPassword:
		reqBody.Auth.PasswordCredentials = &passwordCredentials{
			Username: creds.Username,
			Password: creds.Password,
		}
	case StrategyAPIKey:
		reqBody.Auth.APIKeyCredentials = &apiKeyCredentials{
			Username: creds.Username,
			APIKey:   creds.APIKey,
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Token{}, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tokens", bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, &model.AuthenticationUnavailableError{TenantID: creds.Username, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &model.AuthenticationUnavailableError{TenantID: creds.Username, Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Token{}, &model.AuthenticationFailedError{TenantID: creds.Username, Reason: string(respBody)}
	}
	if resp.StatusCode >= 500 {
		return Token{}, &model.AuthenticationUnavailableError{
			TenantID: creds.Username,
			Cause:    fmt.Errorf("identity returned %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 400 {
		return Token{}, &model.AuthenticationFailedError{TenantID: creds.Username, Reason: string(respBody)}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Token{}, &model.AuthenticationUnavailableError{TenantID: creds.Username, Cause: err}
	}

	catalog := Catalog{}
	for _, svc := range parsed.Access.ServiceCatalog {
		for _, ep := range svc.Endpoints {
			catalog.Endpoints = append(catalog.Endpoints, Endpoint{
				ServiceName: svc.Name,
				Region:      ep.Region,
				PublicURL:   ep.PublicURL,
			})
		}
	}

	return Token{
		ID:       parsed.Access.Token.ID,
		TenantID: parsed.Access.Token.Tenant.ID,
		Catalog:  catalog,
		Expiry:   time.Now().Add(24 * time.Hour),
	}, nil
}
