package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/ClickURL/internal/app/media"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/sifan077/ClickURL/internal/infra/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DetailRecentClicks is how many clicks the detail view embeds.
	DetailRecentClicks = 10
	// StatisticsRecentClicks is how many clicks the statistics view embeds.
	StatisticsRecentClicks = 20

	maxListLimit = 100
)

const tracerName = "github.com/sifan077/ClickURL/internal/app/service"

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error)
	GetLink(ctx context.Context, code string) (*model.Link, error)
	ListLinks(ctx context.Context, input ListLinksInput) (*LinkPage, error)
	UpdateLink(ctx context.Context, code string, input UpdateLinkInput) (*model.Link, error)
	DeleteLink(ctx context.Context, code string) error
	SetActive(ctx context.Context, code string, active bool) (*model.Link, error)
	Statistics(ctx context.Context, code string) (*LinkStatistics, error)
	RecentClicks(ctx context.Context, link *model.Link, limit int) ([]model.ClickEvent, error)
	// QRCode returns the media name of the link's QR image.
	QRCode(ctx context.Context, code string) (string, error)
	// PurgeExpired deletes every expired link and returns how many went.
	PurgeExpired(ctx context.Context) (int, error)
}

// QRRenderer turns content into PNG bytes.
type QRRenderer interface {
	Render(content string) ([]byte, error)
}

// LinkServiceDeps wires the collaborators of the link service.
type LinkServiceDeps struct {
	Links     repository.LinkRepository
	Clicks    repository.ClickEventRepository
	Allocator *CodeAllocator
	// Renderer and Media are optional; without them links get no QR image.
	Renderer QRRenderer
	Media    media.Store
	Logger   *zap.Logger
	Now      func() time.Time
}

type linkService struct {
	links     repository.LinkRepository
	clicks    repository.ClickEventRepository
	allocator *CodeAllocator
	renderer  QRRenderer
	media     media.Store
	logger    *zap.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

// NewLinkService returns a service implementation backed by the given repositories.
func NewLinkService(deps LinkServiceDeps) LinkService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Allocator == nil {
		deps.Allocator = NewCodeAllocator(deps.Links, 0, deps.Logger)
	}
	return &linkService{
		links:     deps.Links,
		clicks:    deps.Clicks,
		allocator: deps.Allocator,
		renderer:  deps.Renderer,
		media:     deps.Media,
		logger:    deps.Logger,
		now:       deps.Now,
		tracer:    otel.Tracer(tracerName),
	}
}

// CreateLinkInput captures data required to create a link.
type CreateLinkInput struct {
	OriginalURL string
	// ShortCode is optional; empty means generate one.
	ShortCode string
	ExpiresAt *time.Time
	MaxClicks *int64
	// BaseURL prefixes the short URL encoded into the QR image.
	BaseURL string
}

// UpdateLinkInput captures fields that can be changed on an existing link.
// Nil pointers leave a field untouched; the Clear flags reset it.
type UpdateLinkInput struct {
	OriginalURL    *string
	IsActive       *bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	MaxClicks      *int64
	ClearMaxClicks bool
}

// ListLinksInput filters and pages a listing.
type ListLinksInput struct {
	IsActive *bool
	Search   string
	Limit    int
	Offset   int
}

// LinkPage is one page of a listing.
type LinkPage struct {
	Links  []model.Link
	Total  int64
	Limit  int
	Offset int
}

// LinkStatistics bundles a link with its latest clicks.
type LinkStatistics struct {
	Link         *model.Link
	RecentClicks []model.ClickEvent
	Now          time.Time
}

func (s *linkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	ctx, span := s.tracer.Start(ctx, "LinkService.CreateLink")
	defer span.End()

	now := s.now().UTC()
	errs := newValidationError()
	originalURL := validateOriginalURL(errs, input.OriginalURL)
	if input.ShortCode != "" {
		validateShortCodeFormat(errs, input.ShortCode)
	}
	validateExpiry(errs, input.ExpiresAt, now)
	validateMaxClicks(errs, input.MaxClicks)

	if input.ShortCode != "" && errs.Fields["short_code"] == "" {
		exists, err := s.links.CodeExists(ctx, input.ShortCode)
		if err != nil {
			return nil, fmt.Errorf("check short code: %w", err)
		}
		if exists {
			errs.add("short_code", msgCodeTaken)
			errs.err = repository.ErrShortCodeTaken
		}
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}

	link := &model.Link{
		OriginalURL: originalURL,
		IsActive:    true,
	}
	if input.ExpiresAt != nil {
		expires := input.ExpiresAt.UTC()
		link.ExpiresAt = &expires
	}
	if input.MaxClicks != nil {
		link.MaxClicks = *input.MaxClicks
	}

	source := "custom"
	if input.ShortCode == "" {
		source = "generated"
	}
	if err := s.insert(ctx, link, input.ShortCode); err != nil {
		return nil, err
	}
	s.allocator.Remember(link.ShortCode)
	prometheus.LinksCreatedTotal.WithLabelValues(source).Inc()
	span.SetAttributes(attribute.String("short_code", link.ShortCode))

	s.attachQRCode(ctx, link, input.BaseURL)

	s.logger.Info("link created",
		zap.String("code", link.ShortCode),
		zap.String("source", source),
	)
	return link, nil
}

// insert stores link under custom, or under freshly allocated codes until
// one survives the unique index.
func (s *linkService) insert(ctx context.Context, link *model.Link, custom string) error {
	for {
		link.ID = newID()
		if custom != "" {
			link.ShortCode = custom
		} else {
			code, err := s.allocator.Next(ctx)
			if err != nil {
				return fmt.Errorf("allocate code: %w", err)
			}
			link.ShortCode = code
		}

		err := s.links.Create(ctx, link)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, repository.ErrShortCodeTaken):
			return fmt.Errorf("create link: %w", err)
		case custom != "":
			errs := newValidationError()
			errs.add("short_code", msgCodeTaken)
			errs.err = err
			return errs
		default:
			s.allocator.Remember(link.ShortCode)
			s.logger.Debug("generated code lost insert race", zap.String("code", link.ShortCode))
		}
	}
}

func (s *linkService) attachQRCode(ctx context.Context, link *model.Link, baseURL string) {
	if s.renderer == nil || s.media == nil {
		return
	}

	png, err := s.renderer.Render(ShortURL(baseURL, link.ShortCode))
	if err != nil {
		s.logger.Warn("qr code render failed", zap.String("code", link.ShortCode), zap.Error(err))
		return
	}

	name := media.QRName(link.ShortCode)
	if err := s.media.Put(ctx, name, png); err != nil {
		s.logger.Warn("qr code store failed", zap.String("code", link.ShortCode), zap.Error(err))
		return
	}

	link.QRCode = name
	if err := s.links.Update(ctx, link); err != nil {
		link.QRCode = ""
		s.logger.Warn("qr code reference not saved", zap.String("code", link.ShortCode), zap.Error(err))
		_ = s.media.Delete(ctx, name)
	}
}

func (s *linkService) GetLink(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

func (s *linkService) ListLinks(ctx context.Context, input ListLinksInput) (*LinkPage, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > maxListLimit {
		input.Limit = maxListLimit
	}
	if input.Offset < 0 {
		input.Offset = 0
	}

	links, total, err := s.links.List(ctx, repository.ListFilter{
		IsActive: input.IsActive,
		Search:   input.Search,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return &LinkPage{Links: links, Total: total, Limit: input.Limit, Offset: input.Offset}, nil
}

func (s *linkService) UpdateLink(ctx context.Context, code string, input UpdateLinkInput) (*model.Link, error) {
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}

	errs := newValidationError()
	if input.OriginalURL != nil {
		link.OriginalURL = validateOriginalURL(errs, *input.OriginalURL)
	}
	if input.IsActive != nil {
		link.IsActive = *input.IsActive
	}
	switch {
	case input.ClearExpiresAt:
		link.ExpiresAt = nil
	case input.ExpiresAt != nil:
		validateExpiry(errs, input.ExpiresAt, s.now())
		expires := input.ExpiresAt.UTC()
		link.ExpiresAt = &expires
	}
	switch {
	case input.ClearMaxClicks:
		link.MaxClicks = 0
	case input.MaxClicks != nil:
		validateMaxClicks(errs, input.MaxClicks)
		link.MaxClicks = *input.MaxClicks
	}
	if err := errs.orNil(); err != nil {
		return nil, err
	}

	if err := s.links.Update(ctx, link); err != nil {
		return nil, fmt.Errorf("update link: %w", err)
	}
	return link, nil
}

func (s *linkService) DeleteLink(ctx context.Context, code string) error {
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if err := s.links.Delete(ctx, code); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if link.HasQRCode() {
		s.dropMedia(ctx, link.QRCode)
	}

	s.logger.Info("link deleted", zap.String("code", code))
	return nil
}

func (s *linkService) SetActive(ctx context.Context, code string, active bool) (*model.Link, error) {
	return s.UpdateLink(ctx, code, UpdateLinkInput{IsActive: &active})
}

func (s *linkService) Statistics(ctx context.Context, code string) (*LinkStatistics, error) {
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	recent, err := s.RecentClicks(ctx, link, StatisticsRecentClicks)
	if err != nil {
		return nil, err
	}
	return &LinkStatistics{Link: link, RecentClicks: recent, Now: s.now()}, nil
}

func (s *linkService) RecentClicks(ctx context.Context, link *model.Link, limit int) ([]model.ClickEvent, error) {
	events, err := s.clicks.ListRecent(ctx, link.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent clicks: %w", err)
	}
	return events, nil
}

func (s *linkService) QRCode(ctx context.Context, code string) (string, error) {
	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("get link: %w", err)
	}
	if !link.HasQRCode() {
		return "", ErrQRCodeUnavailable
	}
	return link.QRCode, nil
}

func (s *linkService) PurgeExpired(ctx context.Context) (int, error) {
	codes, err := s.links.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired links: %w", err)
	}
	for _, code := range codes {
		s.dropMedia(ctx, media.QRName(code))
	}

	prometheus.ExpiredLinksPurgedTotal.Add(float64(len(codes)))
	if len(codes) > 0 {
		s.logger.Info("expired links purged", zap.Int("count", len(codes)))
	}
	return len(codes), nil
}

func (s *linkService) dropMedia(ctx context.Context, name string) {
	if s.media == nil {
		return
	}
	if err := s.media.Delete(ctx, name); err != nil {
		s.logger.Warn("media delete failed", zap.String("name", name), zap.Error(err))
	}
}

// ShortURL joins base and code into the public redirect URL.
func ShortURL(baseURL, code string) string {
	return baseURL + "/r/" + code
}
