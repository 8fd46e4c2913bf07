// Package remote is the HTTP transport shared by the artifact store, signing
// service and build system clients.
package remote

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Target is one of the remote services the exporter talks to. The set is
// closed: ArtifactStoreTarget, SigningServiceTarget and BuildSystemTarget.
type Target interface {
	Name() string
	// BaseURL is the address relative paths are resolved against.
	BaseURL() string
	authorize(h http.Header)
}

// ArtifactStoreTarget is the Pulp REST API, authenticated with basic auth.
type ArtifactStoreTarget struct {
	URL      string
	Username string
	Password string
}

func (t ArtifactStoreTarget) Name() string    { return "artifact_store" }
func (t ArtifactStoreTarget) BaseURL() string { return t.URL }

func (t ArtifactStoreTarget) authorize(h http.Header) {
	if t.Username == "" {
		return
	}
	cred := base64.StdEncoding.EncodeToString([]byte(t.Username + ":" + t.Password))
	h.Set("Authorization", "Basic "+cred)
}

// SigningServiceTarget is the sign server. Requests carry a per-run bearer
// token supplied by the caller.
type SigningServiceTarget struct {
	URL string
}

func (t SigningServiceTarget) Name() string           { return "signing_service" }
func (t SigningServiceTarget) BaseURL() string        { return t.URL }
func (t SigningServiceTarget) authorize(http.Header) {}

// BuildSystemTarget is the build system web API, authenticated with a
// static JWT.
type BuildSystemTarget struct {
	URL   string
	Token string
}

func (t BuildSystemTarget) Name() string    { return "build_system" }
func (t BuildSystemTarget) BaseURL() string { return t.URL }

func (t BuildSystemTarget) authorize(h http.Header) {
	if t.Token != "" {
		h.Set("Authorization", "Bearer "+t.Token)
	}
}

// Bearer returns the Authorization header value for token.
func Bearer(token string) string {
	return "Bearer " + token
}

// parseBase parses a base URL and makes sure it ends with a slash so that
// relative references resolve beneath it.
func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}
