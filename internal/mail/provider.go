package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

const providerName = "mail provider"

// Provider is the hosted mail API the engine reads from and sends through.
type Provider interface {
	// List returns message ids received after cursor and the next cursor.
	List(ctx context.Context, cursor string) (ids []string, next string, err error)
	Fetch(ctx context.Context, id string) (*Payload, error)
	// Send submits an RFC 5322 message and returns the provider's id for it.
	Send(ctx context.Context, raw []byte) (string, error)
}

// HTTPProvider talks to the provider's JSON API. Every call is bounded by
// the configured timeout; transport failures, timeouts and non-2xx answers
// surface as UPSTREAM errors.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPProvider builds the client. When an OAuth2 token URL is configured
// the client-credentials flow replaces the static API key.
func NewHTTPProvider(cfg config.MailConfig) *HTTPProvider {
	client := &http.Client{}
	apiKey := cfg.APIKey
	if cfg.OAuthTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
			Scopes:       cfg.OAuthScopes,
		}
		client = cc.Client(context.Background())
		apiKey = ""
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.ProviderURL, "/"),
		apiKey:  apiKey,
		timeout: cfg.RequestTimeout,
		client:  client,
	}
}

type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Next string `json:"next"`
}

func (p *HTTPProvider) List(ctx context.Context, cursor string) ([]string, string, error) {
	path := "/messages"
	if cursor != "" {
		path += "?after=" + url.QueryEscape(cursor)
	}
	var resp listResponse
	if err := p.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.ID)
	}
	next := resp.Next
	if next == "" {
		next = cursor
	}
	return ids, next, nil
}

func (p *HTTPProvider) Fetch(ctx context.Context, id string) (*Payload, error) {
	var payload Payload
	if err := p.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		payload.ID = id
	}
	return &payload, nil
}

type sendRequest struct {
	Raw string `json:"raw"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (p *HTTPProvider) Send(ctx context.Context, raw []byte) (string, error) {
	var resp sendResponse
	body := sendRequest{Raw: base64.RawURLEncoding.EncodeToString(raw)}
	if err := p.do(ctx, http.MethodPost, "/send", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, in, out any) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errorutil.NewUpstream(providerName, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errorutil.NewUpstream(providerName,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorutil.NewUpstream(providerName, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
