package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/ClickURL/internal/app/media"
	"go.uber.org/zap"
)

// MediaHandler serves stored QR images.
type MediaHandler struct {
	logger *zap.Logger
	store  media.Store
}

// NewMediaHandler creates a media handler reading from store.
func NewMediaHandler(store media.Store, logger *zap.Logger) *MediaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHandler{logger: logger, store: store}
}

// QRCode handles GET /media/qrcodes/:file
func (h *MediaHandler) QRCode(c *fiber.Ctx) error {
	name := media.QRDir + "/" + c.Params("file")
	if !media.ValidName(name) {
		return respondError(c, h.logger, media.ErrNotFound)
	}

	data, err := h.store.Get(userContext(c), name)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	c.Set(fiber.HeaderCacheControl, "public, max-age=86400")
	c.Set(fiber.HeaderLastModified, time.Now().UTC().Format(time.RFC1123))
	c.Type("png")
	return c.Send(data)
}
