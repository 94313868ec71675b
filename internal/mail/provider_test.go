package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPProvider(config.MailConfig{ProviderURL: srv.URL + "/", APIKey: "secret", RequestTimeout: timeout})
}

func TestHTTPProvider_List(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "c-1", r.URL.Query().Get("after"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"messages":[{"id":"m-1"},{"id":"m-2"}],"next":"c-2"}`))
	}, time.Second)

	ids, next, err := p.List(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1", "m-2"}, ids)
	assert.Equal(t, "c-2", next)
}

func TestHTTPProvider_FetchAndSend(t *testing.T) {
	var sent []byte
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/messages/m-1":
			_, _ = w.Write([]byte(`{"headers":{"From":"a@b.example","Subject":"hi"},"text":"body"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/send":
			var req sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			raw, err := base64.RawURLEncoding.DecodeString(req.Raw)
			require.NoError(t, err)
			sent = raw
			_, _ = w.Write([]byte(`{"id":"out-9"}`))
		default:
			http.NotFound(w, r)
		}
	}, time.Second)

	payload, err := p.Fetch(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", payload.ID)
	assert.Equal(t, "body", payload.Text)

	id, err := p.Send(context.Background(), []byte("Subject: [#1] hi\r\n\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "out-9", id)
	assert.Equal(t, "Subject: [#1] hi\r\n\r\nbody", string(sent))
}

func TestHTTPProvider_UpstreamErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}, time.Second)

		_, err := p.Fetch(context.Background(), "m-1")
		require.Error(t, err)
		assert.True(t, errorutil.IsUpstream(err))
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}, 50*time.Millisecond)
		defer close(release)

		_, err := p.Send(context.Background(), []byte("x"))
		require.Error(t, err)
		assert.True(t, errorutil.IsUpstream(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
