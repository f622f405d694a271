package drivex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeClientFile(t *testing.T, dir, tokenURL string) string {
	t.Helper()
	content := fmt.Sprintf(`{"installed":{
		"client_id":"client-id",
		"client_secret":"client-secret",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":%q,
		"redirect_uris":["http://localhost"]}}`, tokenURL)
	p := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func writeTokenFile(t *testing.T, p string, tok *oauth2.Token) {
	t.Helper()
	data, err := json.Marshal(tok)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, data, 0o600))
}

func TestTokenSource_RefreshesAndPersists(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	credentials := writeClientFile(t, dir, srv.URL)
	writeTokenFile(t, filepath.Join(dir, "token.json"), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	})

	ts, err := TokenSource(context.Background(), credentials, "")
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, int32(1), refreshes.Load())

	saved, err := readToken(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh-me", saved.RefreshToken)

	// a valid token is reused without another refresh
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestTokenSource_MissingToken(t *testing.T) {
	dir := t.TempDir()
	credentials := writeClientFile(t, dir, "http://127.0.0.1:1/token")

	_, err := TokenSource(context.Background(), credentials, filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	_, err := TokenSource(context.Background(), filepath.Join(t.TempDir(), "nope.json"), "")
	assert.Error(t, err)
}
