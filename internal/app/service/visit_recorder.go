package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/sifan077/ClickURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

var newID = uuid.NewString

// maxRefererLength matches the width of the stored referer column.
const maxRefererLength = 2048

// Visitor describes who followed a short link.
type Visitor struct {
	IP        string
	UserAgent string
	Referer   string
}

// ClickNotifier receives committed visits. Delivery is best effort.
type ClickNotifier interface {
	Publish(ctx context.Context, n model.ClickNotification) error
}

// VisitRecorder persists visits and keeps link counters exact.
type VisitRecorder struct {
	clicks   repository.ClickEventRepository
	notifier ClickNotifier
	logger   *zap.Logger
}

// NewVisitRecorder returns a recorder writing through clicks. notifier may be nil.
func NewVisitRecorder(clicks repository.ClickEventRepository, notifier ClickNotifier, logger *zap.Logger) *VisitRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisitRecorder{clicks: clicks, notifier: notifier, logger: logger}
}

// Record stores one visit to link and bumps its counters. The access policy is
// evaluated again under the storage lock, so a refused visit can still
// surface here as *model.AccessDeniedError.
func (r *VisitRecorder) Record(ctx context.Context, link *model.Link, visitor Visitor, now time.Time) (*model.ClickEvent, model.VisitOutcome, error) {
	event := &model.ClickEvent{
		ID:        newID(),
		LinkID:    link.ID,
		IPAddress: visitor.IP,
		UserAgent: visitor.UserAgent,
		Referer:   truncateRunes(visitor.Referer, maxRefererLength),
		ClickedAt: now.UTC(),
	}

	start := time.Now()
	outcome, err := r.clicks.RecordVisit(ctx, event, now)
	prometheus.VisitRecordDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, model.VisitOutcome{}, fmt.Errorf("record visit: %w", err)
	}
	prometheus.VisitsRecordedTotal.WithLabelValues(prometheus.BoolLabel(outcome.Unique)).Inc()

	r.notify(ctx, link, event, outcome)
	return event, outcome, nil
}

func (r *VisitRecorder) notify(ctx context.Context, link *model.Link, event *model.ClickEvent, outcome model.VisitOutcome) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Publish(ctx, model.ClickNotification{
		ID:        event.ID,
		LinkID:    event.LinkID,
		ShortCode: link.ShortCode,
		IP:        event.IPAddress,
		UserAgent: event.UserAgent,
		Referer:   event.Referer,
		Unique:    outcome.Unique,
		ClickedAt: event.ClickedAt,
	})
	if err != nil {
		r.logger.Warn("click notification dropped",
			zap.String("code", link.ShortCode),
			zap.String("click_id", event.ID),
			zap.Error(err),
		)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
