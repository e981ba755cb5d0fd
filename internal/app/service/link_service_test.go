package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sifan077/ClickURL/internal/app/media"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLinkService(links *mockLinkRepository, clicks *mockClickRepository, renderer QRRenderer, store media.Store) LinkService {
	if clicks == nil {
		clicks = &mockClickRepository{}
	}
	return NewLinkService(LinkServiceDeps{
		Links:    links,
		Clicks:   clicks,
		Renderer: renderer,
		Media:    store,
		Now:      func() time.Time { return fixedNow },
	})
}

func int64Ptr(v int64) *int64 { return &v }

func TestLinkService_CreateLink_CustomCode(t *testing.T) {
	var created *model.Link
	repo := &mockLinkRepository{
		createFn: func(ctx context.Context, link *model.Link) error {
			created = link
			return nil
		},
	}
	renderer := &stubRenderer{}
	store := media.NewMemoryStore()
	svc := newTestLinkService(repo, nil, renderer, store)

	link, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "  https://example.com  ",
		ShortCode:   "github",
		BaseURL:     "https://sho.rt",
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, "github", link.ShortCode)
	assert.Equal(t, "https://example.com", link.OriginalURL)
	assert.True(t, link.IsActive)
	assert.NotEmpty(t, link.ID)
	assert.Zero(t, link.MaxClicks)
	assert.Equal(t, "qrcodes/github.png", link.QRCode)
	assert.Equal(t, []string{"https://sho.rt/r/github"}, renderer.content)

	png, err := store.Get(context.Background(), "qrcodes/github.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png:https://sho.rt/r/github"), png)
}

func TestLinkService_CreateLink_GeneratedCode(t *testing.T) {
	repo := &mockLinkRepository{}
	svc := newTestLinkService(repo, nil, nil, nil)

	link, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "https://example.com/a/very/long/path",
		MaxClicks:   int64Ptr(5),
	})
	require.NoError(t, err)
	assert.Len(t, link.ShortCode, 6)
	assert.Equal(t, int64(5), link.MaxClicks)
	assert.False(t, link.HasQRCode())
}

func TestLinkService_CreateLink_RetriesLostRace(t *testing.T) {
	attempts := 0
	repo := &mockLinkRepository{
		createFn: func(ctx context.Context, link *model.Link) error {
			attempts++
			if attempts == 1 {
				return repository.ErrShortCodeTaken
			}
			return nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	link, err := svc.CreateLink(context.Background(), CreateLinkInput{OriginalURL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Len(t, link.ShortCode, 6)
}

func TestLinkService_CreateLink_DuplicateCustomCode(t *testing.T) {
	repo := &mockLinkRepository{
		existsFn: func(ctx context.Context, code string) (bool, error) { return code == "github", nil },
		createFn: func(ctx context.Context, link *model.Link) error {
			t.Fatal("Create must not be called for a taken code")
			return nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	_, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "https://example.com",
		ShortCode:   "github",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, msgCodeTaken, verr.Fields["short_code"])
	assert.ErrorIs(t, err, repository.ErrShortCodeTaken)
}

func TestLinkService_CreateLink_CustomCodeLosesInsertRace(t *testing.T) {
	repo := &mockLinkRepository{
		createFn: func(ctx context.Context, link *model.Link) error { return repository.ErrShortCodeTaken },
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	_, err := svc.CreateLink(context.Background(), CreateLinkInput{
		OriginalURL: "https://example.com",
		ShortCode:   "racer",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, msgCodeTaken, verr.Fields["short_code"])
}

func TestLinkService_CreateLink_Validation(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	tests := []struct {
		name  string
		input CreateLinkInput
		field string
		msg   string
	}{
		{"missing url", CreateLinkInput{}, "original_url", msgRequired},
		{"bad scheme", CreateLinkInput{OriginalURL: "javascript:alert(1)"}, "original_url", msgInvalidURL},
		{"no host", CreateLinkInput{OriginalURL: "http://"}, "original_url", msgInvalidURL},
		{"code charset", CreateLinkInput{OriginalURL: "https://e.com", ShortCode: "ab-cd"}, "short_code", msgCodeCharset},
		{"code too short", CreateLinkInput{OriginalURL: "https://e.com", ShortCode: "ab"}, "short_code", msgCodeTooShort},
		{"code too long", CreateLinkInput{OriginalURL: "https://e.com", ShortCode: "abcdefghijk"}, "short_code", msgCodeTooLong},
		{"expiry in past", CreateLinkInput{OriginalURL: "https://e.com", ExpiresAt: &past}, "expires_at", msgExpiryInPast},
		{"expiry now", CreateLinkInput{OriginalURL: "https://e.com", ExpiresAt: &fixedNow}, "expires_at", msgExpiryInPast},
		{"zero max clicks", CreateLinkInput{OriginalURL: "https://e.com", MaxClicks: int64Ptr(0)}, "max_clicks", msgMaxClicksTooLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockLinkRepository{
				createFn: func(ctx context.Context, link *model.Link) error {
					t.Fatal("Create must not be called on invalid input")
					return nil
				},
			}
			_, err := newTestLinkService(repo, nil, nil, nil).CreateLink(context.Background(), tt.input)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.msg, verr.Fields[tt.field])
		})
	}
}

func TestLinkService_CreateLink_QRFailureIsNotFatal(t *testing.T) {
	svc := newTestLinkService(&mockLinkRepository{}, nil, &stubRenderer{err: errors.New("encoder broke")}, media.NewMemoryStore())

	link, err := svc.CreateLink(context.Background(), CreateLinkInput{OriginalURL: "https://example.com"})
	require.NoError(t, err)
	assert.False(t, link.HasQRCode())
}

func TestLinkService_GetLink_NotFound(t *testing.T) {
	svc := newTestLinkService(&mockLinkRepository{}, nil, nil, nil)

	_, err := svc.GetLink(context.Background(), "missing")
	if !errors.Is(err, repository.ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestLinkService_ListLinks(t *testing.T) {
	var got repository.ListFilter
	active := true
	repo := &mockLinkRepository{
		listFn: func(ctx context.Context, filter repository.ListFilter) ([]model.Link, int64, error) {
			got = filter
			return []model.Link{{ShortCode: "a"}, {ShortCode: "b"}}, 7, nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	page, err := svc.ListLinks(context.Background(), ListLinksInput{IsActive: &active, Search: "exa", Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Len(t, page.Links, 2)
	assert.Equal(t, int64(7), page.Total)
	assert.Equal(t, 100, got.Limit)
	assert.Equal(t, 0, got.Offset)
	assert.Equal(t, "exa", got.Search)
	require.NotNil(t, got.IsActive)
	assert.True(t, *got.IsActive)
}

func TestLinkService_UpdateLink(t *testing.T) {
	expires := fixedNow.Add(time.Hour)
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) {
			return &model.Link{ShortCode: code, OriginalURL: "https://old.example", IsActive: true, MaxClicks: 3}, nil
		},
		updateFn: func(ctx context.Context, link *model.Link) error {
			if link.OriginalURL != "https://new.example.com" {
				t.Fatalf("expected updated URL, got %s", link.OriginalURL)
			}
			if link.ExpiresAt == nil || !link.ExpiresAt.Equal(expires) {
				t.Fatalf("expected expiresAt to be set")
			}
			if link.MaxClicks != 0 {
				t.Fatalf("expected max clicks cleared, got %d", link.MaxClicks)
			}
			return nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	url := "https://new.example.com"
	_, err := svc.UpdateLink(context.Background(), "abc", UpdateLinkInput{
		OriginalURL:    &url,
		ExpiresAt:      &expires,
		ClearMaxClicks: true,
	})
	if err != nil {
		t.Fatalf("UpdateLink error: %v", err)
	}
}

func TestLinkService_UpdateLink_RejectsPastExpiry(t *testing.T) {
	past := fixedNow.Add(-time.Hour)
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) {
			return &model.Link{ShortCode: code}, nil
		},
		updateFn: func(ctx context.Context, link *model.Link) error {
			t.Fatal("Update must not be called on invalid input")
			return nil
		},
	}
	_, err := newTestLinkService(repo, nil, nil, nil).UpdateLink(context.Background(), "abc", UpdateLinkInput{ExpiresAt: &past})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "expires_at")
}

func TestLinkService_SetActive(t *testing.T) {
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) {
			return &model.Link{ShortCode: code, IsActive: true, TotalClicks: 4}, nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	link, err := svc.SetActive(context.Background(), "abc", false)
	require.NoError(t, err)
	assert.False(t, link.IsActive)
	assert.Equal(t, int64(4), link.TotalClicks)
}

func TestLinkService_DeleteLink_RemovesQRCode(t *testing.T) {
	store := media.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "qrcodes/abc.png", []byte("png")))

	deleted := ""
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) {
			return &model.Link{ShortCode: code, QRCode: "qrcodes/abc.png"}, nil
		},
		deleteFn: func(ctx context.Context, code string) error {
			deleted = code
			return nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, store)

	require.NoError(t, svc.DeleteLink(context.Background(), "abc"))
	assert.Equal(t, "abc", deleted)
	_, err := store.Get(context.Background(), "qrcodes/abc.png")
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestLinkService_Statistics(t *testing.T) {
	clicks := &mockClickRepository{
		recentFn: func(ctx context.Context, linkID string, limit int) ([]model.ClickEvent, error) {
			assert.Equal(t, "link-1", linkID)
			assert.Equal(t, StatisticsRecentClicks, limit)
			return []model.ClickEvent{{ID: "c1"}, {ID: "c2"}}, nil
		},
	}
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) {
			return &model.Link{ID: "link-1", ShortCode: code}, nil
		},
	}
	stats, err := newTestLinkService(repo, clicks, nil, nil).Statistics(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", stats.Link.ShortCode)
	assert.Len(t, stats.RecentClicks, 2)
	assert.Equal(t, fixedNow, stats.Now)
}

func TestLinkService_QRCode(t *testing.T) {
	repo := &mockLinkRepository{
		getFn: func(ctx context.Context, code string) (*model.Link, error) {
			if code == "withqr" {
				return &model.Link{ShortCode: code, QRCode: "qrcodes/withqr.png"}, nil
			}
			return &model.Link{ShortCode: code}, nil
		},
	}
	svc := newTestLinkService(repo, nil, nil, nil)

	ref, err := svc.QRCode(context.Background(), "withqr")
	require.NoError(t, err)
	assert.Equal(t, "qrcodes/withqr.png", ref)

	_, err = svc.QRCode(context.Background(), "noqr")
	assert.ErrorIs(t, err, ErrQRCodeUnavailable)
}

func TestLinkService_PurgeExpired(t *testing.T) {
	store := media.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "qrcodes/old1.png", []byte("png")))

	var cutoff time.Time
	repo := &mockLinkRepository{
		deleteExpiredFn: func(ctx context.Context, now time.Time) ([]string, error) {
			cutoff = now
			return []string{"old1", "old2"}, nil
		},
	}
	n, err := newTestLinkService(repo, nil, nil, store).PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, fixedNow, cutoff)

	_, err = store.Get(context.Background(), "qrcodes/old1.png")
	assert.ErrorIs(t, err, media.ErrNotFound)
}
