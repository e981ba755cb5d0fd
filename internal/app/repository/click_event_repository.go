package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/ClickURL/internal/app/model"
	"gorm.io/gorm"
)

// ClickEventRepository defines the data access contract for click events.
type ClickEventRepository interface {
	// RecordVisit atomically re-checks the access policy of the owning link,
	// stores the event and bumps the link counters. Concurrent calls for the
	// same link are serialized. A refused visit returns *model.AccessDeniedError
	// and stores nothing.
	RecordVisit(ctx context.Context, event *model.ClickEvent, now time.Time) (model.VisitOutcome, error)
	ListRecent(ctx context.Context, linkID string, limit int) ([]model.ClickEvent, error)
}

type clickEventRepository struct {
	db   *gorm.DB
	pool *pgxpool.Pool
}

// NewClickEventRepository returns a Postgres ClickEventRepository. Reads go
// through GORM; the visit transaction runs on the pgx pool.
func NewClickEventRepository(db *gorm.DB, pool *pgxpool.Pool) ClickEventRepository {
	return &clickEventRepository{db: db, pool: pool}
}

const (
	lockLinkSQL = `
SELECT short_code, is_active, expires_at, max_clicks, unique_clicks
FROM shortened_links
WHERE id = $1
FOR UPDATE`

	seenVisitorSQL = `
SELECT EXISTS (SELECT 1 FROM click_events WHERE link_id = $1 AND ip_address = $2)`

	insertClickSQL = `
INSERT INTO click_events (id, link_id, ip_address, user_agent, referer, clicked_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	bumpCountersSQL = `
UPDATE shortened_links
SET total_clicks = total_clicks + 1,
    unique_clicks = unique_clicks + $2
WHERE id = $1
RETURNING total_clicks, unique_clicks`
)

func (r *clickEventRepository) RecordVisit(ctx context.Context, event *model.ClickEvent, now time.Time) (model.VisitOutcome, error) {
	var outcome model.VisitOutcome

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var link model.Link
		if err := tx.QueryRow(ctx, lockLinkSQL, event.LinkID).Scan(
			&link.ShortCode, &link.IsActive, &link.ExpiresAt, &link.MaxClicks, &link.UniqueClicks,
		); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLinkNotFound
			}
			return fmt.Errorf("lock link: %w", err)
		}

		if ok, reason := model.CheckAccess(&link, now); !ok {
			return &model.AccessDeniedError{ShortCode: link.ShortCode, Reason: reason}
		}

		var seen bool
		if err := tx.QueryRow(ctx, seenVisitorSQL, event.LinkID, event.IPAddress).Scan(&seen); err != nil {
			return fmt.Errorf("check visitor: %w", err)
		}

		if _, err := tx.Exec(ctx, insertClickSQL,
			event.ID, event.LinkID, event.IPAddress, event.UserAgent, event.Referer, event.ClickedAt,
		); err != nil {
			return fmt.Errorf("insert click: %w", err)
		}

		uniqueDelta := 0
		if !seen {
			uniqueDelta = 1
		}
		if err := tx.QueryRow(ctx, bumpCountersSQL, event.LinkID, uniqueDelta).Scan(
			&outcome.TotalClicks, &outcome.UniqueClicks,
		); err != nil {
			return fmt.Errorf("bump counters: %w", err)
		}
		outcome.Unique = !seen
		return nil
	})
	if err != nil {
		return model.VisitOutcome{}, err
	}
	return outcome, nil
}

func (r *clickEventRepository) ListRecent(ctx context.Context, linkID string, limit int) ([]model.ClickEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	var events []model.ClickEvent
	if err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("clicked_at DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
