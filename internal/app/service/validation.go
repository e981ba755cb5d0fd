package service

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sifan077/ClickURL/internal/app/shortcode"
)

const maxURLLength = 2048

const (
	msgRequired        = "This field is required."
	msgInvalidURL      = "Enter a valid URL."
	msgURLTooLong      = "Ensure this field has no more than 2048 characters."
	msgCodeCharset     = "Short code must contain only alphanumeric characters."
	msgCodeTooShort    = "Short code must be at least 3 characters long."
	msgCodeTooLong     = "Ensure this field has no more than 10 characters."
	msgCodeTaken       = "This short code is already in use."
	msgExpiryInPast    = "Expiration date must be in the future."
	msgMaxClicksTooLow = "Max clicks must be at least 1."
)

var allowedSchemes = map[string]bool{"http": true, "https": true, "ftp": true, "ftps": true}

func validateOriginalURL(errs *ValidationError, raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		errs.add("original_url", msgRequired)
	case utf8.RuneCountInString(raw) > maxURLLength:
		errs.add("original_url", msgURLTooLong)
	default:
		u, err := url.Parse(raw)
		if err != nil || !allowedSchemes[strings.ToLower(u.Scheme)] || u.Hostname() == "" {
			errs.add("original_url", msgInvalidURL)
		}
	}
	return raw
}

func validateShortCodeFormat(errs *ValidationError, code string) {
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(shortcode.Alphabet, rune(code[i])) {
			errs.add("short_code", msgCodeCharset)
			return
		}
	}
	switch {
	case len(code) < shortcode.MinLength:
		errs.add("short_code", msgCodeTooShort)
	case len(code) > shortcode.MaxLength:
		errs.add("short_code", msgCodeTooLong)
	}
}

func validateExpiry(errs *ValidationError, expiresAt *time.Time, now time.Time) {
	if expiresAt != nil && !expiresAt.After(now) {
		errs.add("expires_at", msgExpiryInPast)
	}
}

func validateMaxClicks(errs *ValidationError, maxClicks *int64) {
	if maxClicks != nil && *maxClicks < 1 {
		errs.add("max_clicks", msgMaxClicksTooLow)
	}
}
