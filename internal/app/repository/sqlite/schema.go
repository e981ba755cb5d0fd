package sqlite

import (
	"context"
	"database/sql"
)

// Timestamps are kept as fixed-width UTC text so that lexical order matches
// time order in comparisons and ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS shortened_links (
  id            TEXT    PRIMARY KEY,
  original_url  TEXT    NOT NULL,
  short_code    TEXT    NOT NULL UNIQUE,
  is_active     INTEGER NOT NULL DEFAULT 1,
  expires_at    TEXT    NULL,
  max_clicks    INTEGER NOT NULL DEFAULT 0,
  total_clicks  INTEGER NOT NULL DEFAULT 0,
  unique_clicks INTEGER NOT NULL DEFAULT 0,
  qr_code       TEXT    NOT NULL DEFAULT '',
  created_at    TEXT    NOT NULL,
  updated_at    TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shortened_links_is_active  ON shortened_links(is_active);
CREATE INDEX IF NOT EXISTS idx_shortened_links_expires_at ON shortened_links(expires_at);
CREATE INDEX IF NOT EXISTS idx_shortened_links_created_at ON shortened_links(created_at);

CREATE TABLE IF NOT EXISTS click_events (
  id         TEXT PRIMARY KEY,
  link_id    TEXT NOT NULL REFERENCES shortened_links(id) ON DELETE CASCADE,
  ip_address TEXT NOT NULL,
  user_agent TEXT NOT NULL DEFAULT '',
  referer    TEXT NOT NULL DEFAULT '',
  clicked_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_click_events_link_ip    ON click_events(link_id, ip_address);
CREATE INDEX IF NOT EXISTS idx_click_events_clicked_at ON click_events(clicked_at);
`

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}
