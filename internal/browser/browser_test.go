// File: internal/browser/browser_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/authflow-cli/internal/identity"
)

func TestAuthURL(t *testing.T) {
	got := AuthURL("https://backend.example.com", "tok/with+specials")
	assert.Equal(t, "https://backend.example.com/auth/google?token=tok%2Fwith%2Bspecials", got)
}

func TestResolveLoginURLFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/google", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "solved-token", r.URL.Query().Get("token"))
		http.Redirect(w, r, "/signin/identifier?flow=abc", http.StatusFound)
	})
	mux.HandleFunc("/signin/identifier", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "login page")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	// An http proxy endpoint pointing straight at the test server keeps the
	// request local while still exercising the proxied transport path.
	ep, err := identity.ParseEndpoint(srv.Listener.Addr().String())
	require.NoError(t, err)

	final, err := ResolveLoginURL(context.Background(), AuthURL(srv.URL, "solved-token"), ep)
	require.NoError(t, err)
	assert.Contains(t, final, "/signin/identifier")
	assert.Contains(t, final, "flow=abc")
}

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states", "alice.json")

	data, err := readStateFile(path)
	require.NoError(t, err)
	assert.Nil(t, data, "a missing state file reads as empty, not as an error")

	require.NoError(t, writeStateFile(path, []byte(`[{"name":"j"}]`)))

	data, err = readStateFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"j"}]`, string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must not survive a write")
}

func TestJSEncode(t *testing.T) {
	assert.Equal(t, `"probe"`, jsEncode("probe"))
	assert.Equal(t,
		`{"css":"input[type=\"email\"]"}`,
		jsEncode(map[string]string{"css": `input[type="email"]`}))
}
