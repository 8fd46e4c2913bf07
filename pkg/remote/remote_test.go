package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
)

func TestTargetsAuthorize(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	for _, target := range []Target{
		ArtifactStoreTarget{URL: srv.URL, Username: "admin", Password: "secret"},
		BuildSystemTarget{URL: srv.URL + "/api/v1", Token: "jwt"},
		SigningServiceTarget{URL: srv.URL},
	} {
		c, err := New(target, time.Second, logging.Discard())
		require.NoError(t, err)
		_, err = c.Do(context.Background(), Request{Path: "ping"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"Basic YWRtaW46c2VjcmV0", "Bearer jwt", ""}, got)
}

func TestCredentialsStayOnTargetHost(t *testing.T) {
	var own, foreign string
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		own = r.Header.Get("Authorization")
	}))
	defer store.Close()
	content := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreign = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, "<repomd/>")
	}))
	defer content.Close()

	c, err := New(ArtifactStoreTarget{URL: store.URL, Username: "admin", Password: "secret"}, time.Second, logging.Discard())
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "pulp/api/v3/status/")
	require.NoError(t, err)
	body, err := c.Get(context.Background(), content.URL+"/repodata/repomd.xml")
	require.NoError(t, err)

	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", own)
	assert.Empty(t, foreign)
	assert.Equal(t, "<repomd/>", string(body))
}

func TestResolveKeepsBasePath(t *testing.T) {
	c, err := New(BuildSystemTarget{URL: "https://build.example.org/api/v1"}, time.Second, logging.Discard())
	require.NoError(t, err)

	u, err := c.Resolve("sign-keys/")
	require.NoError(t, err)
	assert.Equal(t, "https://build.example.org/api/v1/sign-keys/", u)

	u, err = c.Resolve("/pulp/api/v3/tasks/1/")
	require.NoError(t, err)
	assert.Equal(t, "https://build.example.org/pulp/api/v3/tasks/1/", u)

	u, err = c.Resolve("https://repo.example.org/repodata/")
	require.NoError(t, err)
	assert.Equal(t, "https://repo.example.org/repodata/", u)
}

func TestNewRejectsRelativeBase(t *testing.T) {
	_, err := New(SigningServiceTarget{URL: "sign.example.org"}, time.Second, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, faults.KindConfiguration, faults.KindOf(err))
}

func TestStatusErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(SigningServiceTarget{URL: srv.URL}, time.Second, logging.Discard())
	require.NoError(t, err)
	_, err = c.Do(context.Background(), Request{Path: "token"})
	require.Error(t, err)
	assert.Equal(t, faults.KindTransient, faults.KindOf(err))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(SigningServiceTarget{URL: addr}, time.Second, logging.Discard())
	require.NoError(t, err)
	_, err = c.Do(context.Background(), Request{Path: "token"})
	require.Error(t, err)
	assert.Equal(t, faults.KindTransient, faults.KindOf(err))
}

func TestJSONAndMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"token":"abc"}`)
		case "/sign":
			assert.Equal(t, "k1", r.URL.Query().Get("keyid"))
			assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
			f, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			assert.Equal(t, "repomd.xml", hdr.Filename)
			_, _ = w.Write(append([]byte("signed:"), data...))
		}
	}))
	defer srv.Close()

	c, err := New(SigningServiceTarget{URL: srv.URL}, time.Second, logging.Discard())
	require.NoError(t, err)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, c.JSON(context.Background(), http.MethodPost, "token", nil, map[string]string{"email": "e"}, &out))
	assert.Equal(t, "abc", out.Token)

	resp, err := c.Multipart(context.Background(), "sign", url.Values{"keyid": {"k1"}},
		http.Header{"Authorization": {Bearer("abc")}}, "file", "repomd.xml", []byte("<repomd/>"))
	require.NoError(t, err)
	assert.False(t, resp.IsJSON())
	assert.Equal(t, "signed:<repomd/>", string(resp.Body))
}
