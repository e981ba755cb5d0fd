package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ClickURL/internal/app/service"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	// BaseURL is the public origin of the service; empty derives it from
	// the request.
	BaseURL string
	Now     func() time.Time
}

// APIHandler implements the management API endpoints.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
	baseURL     string
	now         func() time.Time
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &APIHandler{
		logger:      logger,
		linkService: deps.LinkService,
		baseURL:     strings.TrimRight(deps.BaseURL, "/"),
		now:         now,
	}
}

func (h *APIHandler) base(c *fiber.Ctx) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	return c.BaseURL()
}

// CreateLink handles POST /api/urls
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := userContext(c)
	link, err := h.linkService.CreateLink(ctx, service.CreateLinkInput{
		OriginalURL: req.OriginalURL,
		ShortCode:   strings.TrimSpace(req.ShortCode),
		ExpiresAt:   req.ExpiresAt,
		MaxClicks:   req.MaxClicks,
		BaseURL:     h.base(c),
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.Status(fiber.StatusCreated).JSON(detailOf(link, nil, h.base(c), h.now()))
}

// ListLinks handles GET /api/urls
func (h *APIHandler) ListLinks(c *fiber.Ctx) error {
	input := service.ListLinksInput{
		Search: c.Query("search"),
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return fieldError(c, "is_active", "Must be a valid boolean.")
		}
		input.IsActive = &active
	}

	page, err := h.linkService.ListLinks(userContext(c), input)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	base, now := h.base(c), h.now()
	resp := LinkListResponse{
		Results: make([]LinkListItem, len(page.Links)),
		Count:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	for i := range page.Links {
		resp.Results[i] = listItemOf(&page.Links[i], base, now)
	}
	return c.JSON(resp)
}

// GetLink handles GET /api/urls/:code
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	ctx := userContext(c)
	link, err := h.linkService.GetLink(ctx, c.Params("code"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	recent, err := h.linkService.RecentClicks(ctx, link, service.DetailRecentClicks)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(detailOf(link, recent, h.base(c), h.now()))
}

// UpdateLink handles PATCH /api/urls/:code
func (h *APIHandler) UpdateLink(c *fiber.Ctx) error {
	var req UpdateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	ctx := userContext(c)
	link, err := h.linkService.UpdateLink(ctx, c.Params("code"), req.toInput())
	if err != nil {
		return respondError(c, h.logger, err)
	}
	recent, err := h.linkService.RecentClicks(ctx, link, service.DetailRecentClicks)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(detailOf(link, recent, h.base(c), h.now()))
}

// DeleteLink handles DELETE /api/urls/:code
func (h *APIHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.linkService.DeleteLink(userContext(c), c.Params("code")); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Activate handles POST /api/urls/:code/activate
func (h *APIHandler) Activate(c *fiber.Ctx) error {
	return h.setActive(c, true, "URL activated successfully")
}

// Deactivate handles POST /api/urls/:code/deactivate
func (h *APIHandler) Deactivate(c *fiber.Ctx) error {
	return h.setActive(c, false, "URL deactivated successfully")
}

func (h *APIHandler) setActive(c *fiber.Ctx, active bool, message string) error {
	ctx := userContext(c)
	link, err := h.linkService.SetActive(ctx, c.Params("code"), active)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	recent, err := h.linkService.RecentClicks(ctx, link, service.DetailRecentClicks)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{
		"message": message,
		"data":    detailOf(link, recent, h.base(c), h.now()),
	})
}

// Statistics handles GET /api/urls/:code/statistics
func (h *APIHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.linkService.Statistics(userContext(c), c.Params("code"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(statisticsOf(stats))
}

// QRCode handles GET /api/urls/:code/qrcode
func (h *APIHandler) QRCode(c *fiber.Ctx) error {
	code := c.Params("code")
	ref, err := h.linkService.QRCode(userContext(c), code)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(QRCodeResponse{ShortCode: code, QRCodeURL: mediaURL(h.base(c), ref)})
}

// PurgeExpired handles POST /api/maintenance/purge-expired
func (h *APIHandler) PurgeExpired(c *fiber.Ctx) error {
	n, err := h.linkService.PurgeExpired(userContext(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}
