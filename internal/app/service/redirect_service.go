package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/repository"
	"github.com/sifan077/ClickURL/internal/infra/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Redirect is the result of an accepted visit.
type Redirect struct {
	Target  string
	Link    *model.Link
	Click   *model.ClickEvent
	Outcome model.VisitOutcome
}

// RedirectService resolves a short code, applies the access policy and
// records the visit before handing back the redirect target.
type RedirectService struct {
	links    repository.LinkRepository
	recorder *VisitRecorder
	logger   *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

// NewRedirectService wires the redirect path.
func NewRedirectService(links repository.LinkRepository, recorder *VisitRecorder, logger *zap.Logger) *RedirectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectService{
		links:    links,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
}

// Visit runs lookup, policy check and recording for code. It never returns a
// target for a visit that was not recorded.
func (s *RedirectService) Visit(ctx context.Context, code string, visitor Visitor) (*Redirect, error) {
	ctx, span := s.tracer.Start(ctx, "RedirectService.Visit",
		trace.WithAttributes(attribute.String("short_code", code)))
	defer span.End()

	link, err := s.links.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			prometheus.RedirectsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("lookup %q: %w", code, err)
		}
		return nil, s.fail(span, code, fmt.Errorf("lookup %q: %w", code, err))
	}

	now := s.now()
	if ok, reason := model.CheckAccess(link, now); !ok {
		return nil, s.deny(span, code, reason)
	}

	click, outcome, err := s.recorder.Record(ctx, link, visitor, now)
	if err != nil {
		var denied *model.AccessDeniedError
		if errors.As(err, &denied) {
			return nil, s.deny(span, code, denied.Reason)
		}
		if errors.Is(err, repository.ErrLinkNotFound) {
			prometheus.RedirectsTotal.WithLabelValues("not_found").Inc()
			return nil, err
		}
		return nil, s.fail(span, code, err)
	}

	prometheus.RedirectsTotal.WithLabelValues("redirected").Inc()
	span.SetAttributes(
		attribute.Bool("unique", outcome.Unique),
		attribute.Int64("total_clicks", outcome.TotalClicks),
	)
	return &Redirect{Target: link.OriginalURL, Link: link, Click: click, Outcome: outcome}, nil
}

func (s *RedirectService) deny(span trace.Span, code string, reason model.AccessReason) error {
	prometheus.RedirectsTotal.WithLabelValues(string(reason)).Inc()
	span.SetAttributes(attribute.String("denied", string(reason)))
	s.logger.Debug("redirect denied", zap.String("code", code), zap.String("reason", string(reason)))
	return &model.AccessDeniedError{ShortCode: code, Reason: reason}
}

func (s *RedirectService) fail(span trace.Span, code string, err error) error {
	prometheus.RedirectsTotal.WithLabelValues("error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "visit failed")
	s.logger.Error("redirect failed", zap.String("code", code), zap.Error(err))
	return err
}
