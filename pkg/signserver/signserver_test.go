package signserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := tok.SignedString([]byte("unused"))
	require.NoError(t, err)
	return s
}

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rest, err := remote.New(remote.SigningServiceTarget{URL: srv.URL}, time.Second, logging.Discard())
	require.NoError(t, err)
	return New(rest, "bot@example.org", "pw", logging.Discard())
}

func TestTokenAndSign(t *testing.T) {
	token := signedToken(t, time.Now().Add(time.Hour))
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]string{"email": "bot@example.org", "password": "pw"}, body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
		case "/sign":
			assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
			assert.Equal(t, "abcd", r.URL.Query().Get("keyid"))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			_, _ = w.Write([]byte("sig(" + string(data) + ")"))
		}
	}))

	got, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)

	sig, err := c.Sign(context.Background(), got, "abcd", "repomd.xml", []byte("md"))
	require.NoError(t, err)
	assert.Equal(t, "sig(md)", string(sig))
}

func TestTokenRejected(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	_, err := c.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, faults.KindTransient, faults.KindOf(err))
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	got, ok := Expiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = Expiry("not-a-jwt")
	assert.False(t, ok)
}
