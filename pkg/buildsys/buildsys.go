// Package buildsys is a client for the build system web API.
package buildsys

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/e2llm/rpmrepo-export/pkg/catalog"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
)

type Client struct {
	rest *remote.Client
}

func New(rest *remote.Client) *Client {
	return &Client{rest: rest}
}

// SignKeys lists the signing keys and the platforms each may sign.
func (c *Client) SignKeys(ctx context.Context) ([]catalog.SignKey, error) {
	var keys []catalog.SignKey
	if err := c.rest.JSON(ctx, http.MethodGet, "sign-keys/", nil, nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// OVAL returns the OVAL document of a platform.
func (c *Client) OVAL(ctx context.Context, platform string, onlyReleased bool) ([]byte, error) {
	q := url.Values{
		"platform_name": {platform},
		"only_released": {strconv.FormatBool(onlyReleased)},
	}
	resp, err := c.rest.Do(ctx, remote.Request{Path: "errata/get_new_oval_xml/", Query: q})
	if err != nil {
		return nil, err
	}
	if resp.IsJSON() {
		// The API wraps the document in a JSON string.
		var doc string
		if err := resp.Decode(&doc); err == nil {
			return []byte(doc), nil
		}
	}
	return resp.Body, nil
}
