package handler

import (
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ClickURL/internal/app/service"
	"go.uber.org/zap"
)

// RedirectDeps groups dependencies required by the redirect handler.
type RedirectDeps struct {
	Logger    *zap.Logger
	Redirects *service.RedirectService
}

// RedirectHandler serves GET /r/:code.
type RedirectHandler struct {
	logger    *zap.Logger
	redirects *service.RedirectService
}

// NewRedirectHandler creates a redirect handler with the provided dependencies.
func NewRedirectHandler(deps RedirectDeps) *RedirectHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		logger:    logger,
		redirects: deps.Redirects,
	}
}

// Resolve records the visit and redirects to the original URL.
func (h *RedirectHandler) Resolve(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return badRequest(c, "missing link code")
	}

	res, err := h.redirects.Visit(userContext(c), code, service.Visitor{
		IP:        ClientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Referer:   c.Get(fiber.HeaderReferer),
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}

	h.logger.Debug("redirecting short link",
		zap.String("code", code),
		zap.String("target", res.Target),
		zap.Bool("unique", res.Outcome.Unique),
	)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect(res.Target, fiber.StatusFound)
}

// ClientIP prefers the first X-Forwarded-For entry over the peer address.
// Entries that are not a plain IPv4 or IPv6 address are ignored.
func ClientIP(c *fiber.Ctx) string {
	if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.WithZone("").Unmap().String()
		}
	}
	return c.IP()
}
