package catalog

import (
	"context"
	"fmt"
)

// Schema is the subset of the build system schema the exporter reads. It is
// applied by Migrate for standalone sqlite catalogs.
const Schema = `
CREATE TABLE IF NOT EXISTS platforms (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	is_reference BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	arch TEXT NOT NULL,
	debug BOOLEAN NOT NULL DEFAULT FALSE,
	export_path TEXT NOT NULL,
	url TEXT NOT NULL,
	pulp_href TEXT NOT NULL,
	platform_id INTEGER NOT NULL REFERENCES platforms(id),
	production BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS platform_sign_keys (
	platform_id INTEGER NOT NULL REFERENCES platforms(id),
	keyid TEXT NOT NULL,
	PRIMARY KEY (platform_id, keyid)
);

CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY,
	platform_id INTEGER NOT NULL REFERENCES platforms(id),
	plan TEXT NOT NULL
);
`

// Migrate applies Schema.
func (c *Catalog) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	return nil
}
