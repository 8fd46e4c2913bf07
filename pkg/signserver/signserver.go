// Package signserver is a client for the remote signing service.
package signserver

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
)

// Client authenticates against the sign server and requests detached
// signatures.
type Client struct {
	rest     *remote.Client
	email    string
	password string
	logger   *log.Entry
}

func New(rest *remote.Client, email, password string, logger *log.Entry) *Client {
	return &Client{rest: rest, email: email, password: password, logger: logger}
}

// Token obtains a bearer token for this run.
func (c *Client) Token(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": c.email, "password": c.password}
	if err := c.rest.JSON(ctx, http.MethodPost, "token", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", faults.Transient(errors.New("empty token in response"), "sign server token")
	}
	if exp, ok := Expiry(resp.Token); ok {
		c.logger.WithField("expires_in", time.Until(exp).Round(time.Second).String()).Debug("sign server token issued")
	}
	return resp.Token, nil
}

// Expiry returns the exp claim of a JWT without verifying its signature; the
// token is opaque to the exporter and only inspected for logging.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Sign sends content for signing with keyID and returns the response body,
// expected to be an armored detached signature.
func (c *Client) Sign(ctx context.Context, token, keyID, filename string, content []byte) ([]byte, error) {
	resp, err := c.rest.Multipart(ctx, "sign", url.Values{"keyid": {keyID}},
		http.Header{"Authorization": {remote.Bearer(token)}}, "file", filename, content)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
