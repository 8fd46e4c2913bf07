// Package pulp is a client for the subset of the Pulp REST API used to
// export repositories to the filesystem.
package pulp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/remote"
)

const (
	exportersPath    = "pulp/api/v3/exporters/core/filesystem/"
	publicationsPath = "pulp/api/v3/publications/rpm/rpm/"
)

// Task states reported by Pulp.
const (
	TaskWaiting   = "waiting"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCanceled  = "canceled"
)

// Task is a Pulp asynchronous task.
type Task struct {
	Href             string   `json:"pulp_href"`
	State            string   `json:"state"`
	CreatedResources []string `json:"created_resources"`
	Error            struct {
		Description string `json:"description"`
	} `json:"error"`
}

// Exporter is a filesystem exporter resource.
type Exporter struct {
	Href   string `json:"pulp_href"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Method string `json:"method"`
}

// asyncResponse is returned by operations Pulp runs as a task.
type asyncResponse struct {
	Task string `json:"task"`
}

type page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

// Client talks to one Pulp instance. It is safe for concurrent use.
type Client struct {
	rest        *remote.Client
	taskTimeout time.Duration
	interval    time.Duration
	logger      *log.Entry
}

// New returns a client. taskTimeout bounds how long a task is polled.
func New(rest *remote.Client, taskTimeout time.Duration, logger *log.Entry) *Client {
	return &Client{rest: rest, taskTimeout: taskTimeout, interval: time.Second, logger: logger}
}

// EnsureExporter returns the href of the filesystem exporter called name,
// creating it or updating its path and method as needed.
func (c *Client) EnsureExporter(ctx context.Context, name, path, method string) (string, error) {
	var existing page[Exporter]
	if err := c.rest.JSON(ctx, http.MethodGet, exportersPath, url.Values{"name": {name}}, nil, &existing); err != nil {
		return "", err
	}
	body := Exporter{Name: name, Path: path, Method: method}
	if len(existing.Results) == 0 {
		var created Exporter
		if err := c.rest.JSON(ctx, http.MethodPost, exportersPath, nil, body, &created); err != nil {
			return "", err
		}
		return created.Href, nil
	}

	cur := existing.Results[0]
	if cur.Path == path && cur.Method == method {
		return cur.Href, nil
	}
	var task asyncResponse
	if err := c.rest.JSON(ctx, http.MethodPatch, cur.Href, nil, body, &task); err != nil {
		return "", err
	}
	if task.Task != "" {
		if _, err := c.WaitTask(ctx, task.Task); err != nil {
			return "", err
		}
	}
	return cur.Href, nil
}

// LatestVersion returns the repository's latest version href.
func (c *Client) LatestVersion(ctx context.Context, repoHref string) (string, error) {
	var repo struct {
		LatestVersionHref string `json:"latest_version_href"`
	}
	if err := c.rest.JSON(ctx, http.MethodGet, repoHref, nil, nil, &repo); err != nil {
		return "", err
	}
	return repo.LatestVersionHref, nil
}

// Publications returns the publication hrefs of a repository version.
func (c *Client) Publications(ctx context.Context, versionHref string) ([]string, error) {
	var res page[struct {
		Href string `json:"pulp_href"`
	}]
	q := url.Values{"repository_version": {versionHref}, "fields": {"pulp_href"}}
	if err := c.rest.JSON(ctx, http.MethodGet, publicationsPath, q, nil, &res); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Results))
	for _, p := range res.Results {
		out = append(out, p.Href)
	}
	return out, nil
}

// Export exports a repository version through an exporter and waits for the
// task to finish.
func (c *Client) Export(ctx context.Context, exporterHref, versionHref string) error {
	var task asyncResponse
	body := map[string]string{"repository_version": versionHref}
	if err := c.rest.JSON(ctx, http.MethodPost, exporterHref+"exports/", nil, body, &task); err != nil {
		return err
	}
	if task.Task == "" {
		return faults.Transient(errors.New("no task returned"), "export "+versionHref)
	}
	_, err := c.WaitTask(ctx, task.Task)
	return err
}

var errTaskPending = errors.New("task pending")

// WaitTask polls a task until it reaches a final state. Polling backs off
// exponentially and gives up after the configured task timeout.
func (c *Client) WaitTask(ctx context.Context, href string) (Task, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.interval,
		RandomizationFactor: 0.2,
		Multiplier:          1.5,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      c.taskTimeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}

	var task Task
	poll := func() error {
		if err := c.rest.JSON(ctx, http.MethodGet, href, nil, nil, &task); err != nil {
			return backoff.Permanent(err)
		}
		switch task.State {
		case TaskCompleted:
			return nil
		case TaskFailed, TaskCanceled:
			return backoff.Permanent(faults.Transient(
				fmt.Errorf("task %s %s: %s", href, task.State, task.Error.Description), "pulp task"))
		default:
			return errTaskPending
		}
	}
	err := backoff.RetryNotify(poll, backoff.WithContext(b, ctx), func(_ error, wait time.Duration) {
		c.logger.WithFields(log.Fields{"task": href, "state": task.State}).Debugf("task not finished, next poll in %s", wait)
	})
	if errors.Is(err, errTaskPending) {
		return task, faults.Transient(fmt.Errorf("task %s still %s after %s", href, task.State, c.taskTimeout), "pulp task")
	}
	return task, err
}
