package buildsys

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/rpmrepo-export/pkg/catalog"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rest, err := remote.New(remote.BuildSystemTarget{URL: srv.URL + "/api/v1/", Token: "jwt"}, time.Second, logging.Discard())
	require.NoError(t, err)
	return New(rest)
}

func TestSignKeys(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sign-keys/", r.URL.Path)
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"keyid":"aa","platform_ids":[1,2]},{"keyid":"bb","platform_ids":[3]}]`))
	})
	keys, err := c.SignKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []catalog.SignKey{{KeyID: "aa", PlatformIDs: []int64{1, 2}}, {KeyID: "bb", PlatformIDs: []int64{3}}}, keys)
}

func TestOVAL(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/errata/get_new_oval_xml/", r.URL.Path)
		assert.Equal(t, "AlmaLinux-9", r.URL.Query().Get("platform_name"))
		assert.Equal(t, "true", r.URL.Query().Get("only_released"))
		_, _ = w.Write([]byte(`<oval_definitions/>`))
	})
	doc, err := c.OVAL(context.Background(), "AlmaLinux-9", true)
	require.NoError(t, err)
	assert.Equal(t, "<oval_definitions/>", string(doc))
}

func TestOVALJSONString(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`"<oval_definitions/>"`))
	})
	doc, err := c.OVAL(context.Background(), "AlmaLinux-8", true)
	require.NoError(t, err)
	assert.Equal(t, "<oval_definitions/>", string(doc))
}
