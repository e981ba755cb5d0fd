package service

import (
	"context"
	"time"

	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
)

type mockLinkRepository struct {
	createFn        func(ctx context.Context, link *model.Link) error
	getFn           func(ctx context.Context, code string) (*model.Link, error)
	existsFn        func(ctx context.Context, code string) (bool, error)
	listCodesFn     func(ctx context.Context) ([]string, error)
	listFn          func(ctx context.Context, filter repository.ListFilter) ([]model.Link, int64, error)
	updateFn        func(ctx context.Context, link *model.Link) error
	deleteFn        func(ctx context.Context, code string) error
	deleteExpiredFn func(ctx context.Context, now time.Time) ([]string, error)
}

func (m *mockLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if m.createFn != nil {
		return m.createFn(ctx, link)
	}
	return nil
}

func (m *mockLinkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	if m.getFn != nil {
		return m.getFn(ctx, code)
	}
	return nil, repository.ErrLinkNotFound
}

func (m *mockLinkRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, code)
	}
	return false, nil
}

func (m *mockLinkRepository) ListCodes(ctx context.Context) ([]string, error) {
	if m.listCodesFn != nil {
		return m.listCodesFn(ctx)
	}
	return nil, nil
}

func (m *mockLinkRepository) List(ctx context.Context, filter repository.ListFilter) ([]model.Link, int64, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockLinkRepository) Update(ctx context.Context, link *model.Link) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, link)
	}
	return nil
}

func (m *mockLinkRepository) Delete(ctx context.Context, code string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, code)
	}
	return nil
}

func (m *mockLinkRepository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return nil, nil
}

type mockClickRepository struct {
	recordFn func(ctx context.Context, event *model.ClickEvent, now time.Time) (model.VisitOutcome, error)
	recentFn func(ctx context.Context, linkID string, limit int) ([]model.ClickEvent, error)
}

func (m *mockClickRepository) RecordVisit(ctx context.Context, event *model.ClickEvent, now time.Time) (model.VisitOutcome, error) {
	if m.recordFn != nil {
		return m.recordFn(ctx, event, now)
	}
	return model.VisitOutcome{Unique: true, TotalClicks: 1, UniqueClicks: 1}, nil
}

func (m *mockClickRepository) ListRecent(ctx context.Context, linkID string, limit int) ([]model.ClickEvent, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, linkID, limit)
	}
	return nil, nil
}

type stubRenderer struct {
	err     error
	content []string
}

func (r *stubRenderer) Render(content string) ([]byte, error) {
	r.content = append(r.content, content)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("png:" + content), nil
}

type recordingNotifier struct {
	err  error
	sent []model.ClickNotification
}

func (n *recordingNotifier) Publish(_ context.Context, msg model.ClickNotification) error {
	n.sent = append(n.sent, msg)
	return n.err
}
