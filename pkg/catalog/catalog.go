// Package catalog reads platforms, repositories and releases from the build
// system database.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
)

// Repository is one exportable artifact-store repository.
type Repository struct {
	ID         int64
	Name       string
	Arch       string
	Debug      bool
	ExportPath string
	URL        string
	PulpHref   string
	PlatformID int64
	Production bool
}

// Platform groups repositories sharing signing keys.
type Platform struct {
	ID           int64
	Name         string
	SignKeys     []string
	Repositories []Repository
}

// SignKey authorizes a key for a set of platforms.
type SignKey struct {
	KeyID       string  `json:"keyid"`
	PlatformIDs []int64 `json:"platform_ids"`
}

// Release is a release plan and the platform it targets.
type Release struct {
	ID         int64
	PlatformID int64
	Plan       any
}

// releaseRepoQuery selects every repository referenced by a release plan.
var releaseRepoQuery = jmespath.MustCompile("packages[].repositories[].id")

// RepositoryIDs returns the distinct repository ids named by the plan, in
// first-seen order.
func (r Release) RepositoryIDs() ([]int64, error) {
	found, err := releaseRepoQuery.Search(r.Plan)
	if err != nil {
		return nil, faults.Parse(err, fmt.Sprintf("release %d plan", r.ID))
	}
	values, _ := found.([]any)
	seen := make(map[int64]bool)
	var ids []int64
	for _, v := range values {
		id, ok := toInt(v)
		if !ok {
			return nil, faults.Parse(fmt.Errorf("repository id %v", v), fmt.Sprintf("release %d plan", r.ID))
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Filter narrows the repositories selected from platforms. Nil fields do
// not filter.
type Filter struct {
	RepoIDs []int64
	Arches  []string
}

// Select returns the production repositories of platforms matching f.
func Select(platforms []Platform, f Filter) []Repository {
	ids := make(map[int64]bool, len(f.RepoIDs))
	for _, id := range f.RepoIDs {
		ids[id] = true
	}
	arches := make(map[string]bool, len(f.Arches))
	for _, a := range f.Arches {
		arches[a] = true
	}
	seen := make(map[int64]bool)
	var out []Repository
	for _, p := range platforms {
		for _, r := range p.Repositories {
			if !r.Production || seen[r.ID] {
				continue
			}
			if f.RepoIDs != nil && !ids[r.ID] {
				continue
			}
			if f.Arches != nil && !arches[r.Arch] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

// Catalog is a read-only view of the build system database.
type Catalog struct {
	db     *sql.DB
	driver string
}

// Open connects to the database. driver is "sqlite3" or "pgx".
func Open(ctx context.Context, driver, dsn string) (*Catalog, error) {
	switch driver {
	case "sqlite3", "pgx":
	default:
		return nil, faults.Configuration("unsupported catalog driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, faults.Configuration("open catalog: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, faults.Transient(err, "connect to catalog")
	}
	return &Catalog{db: db, driver: driver}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// placeholders returns n bind markers starting at position from.
func (c *Catalog) placeholders(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		if c.driver == "pgx" {
			marks[i] = "$" + strconv.Itoa(from+i)
		} else {
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ", ")
}

const repoColumns = "id, name, arch, debug, export_path, url, pulp_href, platform_id, production"

func scanRepositories(rows *sql.Rows) ([]Repository, error) {
	defer rows.Close()
	var out []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.ID, &r.Name, &r.Arch, &r.Debug, &r.ExportPath, &r.URL, &r.PulpHref, &r.PlatformID, &r.Production); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Platforms returns the non-reference platforms with their repositories and
// signing keys. A nil names slice selects every platform.
func (c *Catalog) Platforms(ctx context.Context, names []string) ([]Platform, error) {
	query := "SELECT id, name FROM platforms WHERE is_reference = " + c.falseLiteral()
	args := make([]any, 0, len(names))
	if names != nil {
		if len(names) == 0 {
			return nil, nil
		}
		query += " AND name IN (" + c.placeholders(1, len(names)) + ")"
		for _, n := range names {
			args = append(args, n)
		}
	}
	query += " ORDER BY id"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query platforms: %w", err)
	}
	var platforms []Platform
	for rows.Next() {
		var p Platform
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			rows.Close()
			return nil, err
		}
		platforms = append(platforms, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range platforms {
		p := &platforms[i]
		rows, err := c.db.QueryContext(ctx,
			"SELECT "+repoColumns+" FROM repositories WHERE platform_id = "+c.placeholders(1, 1)+" ORDER BY id", p.ID)
		if err != nil {
			return nil, fmt.Errorf("query repositories of %s: %w", p.Name, err)
		}
		if p.Repositories, err = scanRepositories(rows); err != nil {
			return nil, fmt.Errorf("scan repositories of %s: %w", p.Name, err)
		}
		if p.SignKeys, err = c.signKeys(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("query sign keys of %s: %w", p.Name, err)
		}
	}
	return platforms, nil
}

func (c *Catalog) falseLiteral() string {
	if c.driver == "pgx" {
		return "false"
	}
	return "0"
}

func (c *Catalog) signKeys(ctx context.Context, platformID int64) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT keyid FROM platform_sign_keys WHERE platform_id = "+c.placeholders(1, 1)+" ORDER BY keyid", platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, strings.ToLower(k))
	}
	return keys, rows.Err()
}

// Repositories returns the repositories with the given ids ordered by id.
// Unknown ids are ignored.
func (c *Catalog) Repositories(ctx context.Context, ids []int64) ([]Repository, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+repoColumns+" FROM repositories WHERE id IN ("+c.placeholders(1, len(ids))+") ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	return scanRepositories(rows)
}

// Release loads a release and decodes its JSON plan.
func (c *Catalog) Release(ctx context.Context, id int64) (Release, error) {
	var (
		r    = Release{ID: id}
		plan string
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT platform_id, plan FROM releases WHERE id = "+c.placeholders(1, 1), id).Scan(&r.PlatformID, &plan)
	if errors.Is(err, sql.ErrNoRows) {
		return Release{}, faults.Configuration("release %d not found", id)
	}
	if err != nil {
		return Release{}, fmt.Errorf("query release %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(plan), &r.Plan); err != nil {
		return Release{}, faults.Parse(err, fmt.Sprintf("release %d plan", id))
	}
	return r, nil
}
