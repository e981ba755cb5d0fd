package handler

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/app/service"
)

// CreateLinkRequest is the body of POST /api/urls.
type CreateLinkRequest struct {
	OriginalURL string     `json:"original_url"`
	ShortCode   string     `json:"short_code,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxClicks   *int64     `json:"max_clicks,omitempty"`
}

// UpdateLinkRequest is the body of PATCH /api/urls/{code}. For expires_at and
// max_clicks an explicit null clears the value.
type UpdateLinkRequest struct {
	OriginalURL *string       `json:"original_url"`
	IsActive    *bool         `json:"is_active"`
	ExpiresAt   optionalTime  `json:"expires_at"`
	MaxClicks   optionalInt64 `json:"max_clicks"`
}

var jsonNull = []byte("null")

type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, jsonNull) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

type optionalInt64 struct {
	Set   bool
	Value *int64
}

func (o *optionalInt64) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, jsonNull) {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (r UpdateLinkRequest) toInput() service.UpdateLinkInput {
	return service.UpdateLinkInput{
		OriginalURL:    r.OriginalURL,
		IsActive:       r.IsActive,
		ExpiresAt:      r.ExpiresAt.Value,
		ClearExpiresAt: r.ExpiresAt.Set && r.ExpiresAt.Value == nil,
		MaxClicks:      r.MaxClicks.Value,
		ClearMaxClicks: r.MaxClicks.Set && r.MaxClicks.Value == nil,
	}
}

// LinkStatus reports whether a link can be followed right now.
type LinkStatus struct {
	CanAccess bool   `json:"can_access"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// LinkCounters summarises the accounting state of a link.
type LinkCounters struct {
	TotalClicks         int64 `json:"total_clicks"`
	UniqueClicks        int64 `json:"unique_clicks"`
	IsExpired           bool  `json:"is_expired"`
	HasReachedMaxClicks bool  `json:"has_reached_max_clicks"`
}

// ClickResponse is one recorded visit.
type ClickResponse struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer"`
	ClickedAt time.Time `json:"clicked_at"`
}

// LinkDetailResponse is the full representation of a link.
type LinkDetailResponse struct {
	ID           string          `json:"id"`
	OriginalURL  string          `json:"original_url"`
	ShortCode    string          `json:"short_code"`
	ShortURL     string          `json:"short_url"`
	IsActive     bool            `json:"is_active"`
	ExpiresAt    *time.Time      `json:"expires_at"`
	MaxClicks    int64           `json:"max_clicks"`
	TotalClicks  int64           `json:"total_clicks"`
	UniqueClicks int64           `json:"unique_clicks"`
	QRCode       *string         `json:"qr_code"`
	Statistics   LinkCounters    `json:"statistics"`
	Status       LinkStatus      `json:"status"`
	RecentClicks []ClickResponse `json:"recent_clicks"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LinkListItem is the compact representation used in listings.
type LinkListItem struct {
	ID           string     `json:"id"`
	ShortCode    string     `json:"short_code"`
	OriginalURL  string     `json:"original_url"`
	ShortURL     string     `json:"short_url"`
	IsActive     bool       `json:"is_active"`
	TotalClicks  int64      `json:"total_clicks"`
	UniqueClicks int64      `json:"unique_clicks"`
	Status       LinkStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LinkListResponse is one page of links.
type LinkListResponse struct {
	Results []LinkListItem `json:"results"`
	Count   int64          `json:"count"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// StatisticsResponse is the body of GET /api/urls/{code}/statistics.
type StatisticsResponse struct {
	ShortCode           string          `json:"short_code"`
	OriginalURL         string          `json:"original_url"`
	IsActive            bool            `json:"is_active"`
	TotalClicks         int64           `json:"total_clicks"`
	UniqueClicks        int64           `json:"unique_clicks"`
	IsExpired           bool            `json:"is_expired"`
	HasReachedMaxClicks bool            `json:"has_reached_max_clicks"`
	ExpiresAt           *time.Time      `json:"expires_at"`
	MaxClicks           int64           `json:"max_clicks"`
	CreatedAt           time.Time       `json:"created_at"`
	RecentClicks        []ClickResponse `json:"recent_clicks"`
}

// QRCodeResponse is the body of GET /api/urls/{code}/qrcode.
type QRCodeResponse struct {
	ShortCode string `json:"short_code"`
	QRCodeURL string `json:"qr_code_url"`
}

func statusOf(link *model.Link, now time.Time) LinkStatus {
	ok, reason := model.CheckAccess(link, now)
	return LinkStatus{CanAccess: ok, Reason: string(reason), Message: reason.Message()}
}

func clicksOf(events []model.ClickEvent) []ClickResponse {
	out := make([]ClickResponse, len(events))
	for i, ev := range events {
		out[i] = ClickResponse{
			ID:        ev.ID,
			IPAddress: ev.IPAddress,
			UserAgent: ev.UserAgent,
			Referer:   ev.Referer,
			ClickedAt: ev.ClickedAt,
		}
	}
	return out
}

func mediaURL(baseURL, name string) string {
	return baseURL + "/media/" + name
}

func detailOf(link *model.Link, recent []model.ClickEvent, baseURL string, now time.Time) LinkDetailResponse {
	var qr *string
	if link.HasQRCode() {
		u := mediaURL(baseURL, link.QRCode)
		qr = &u
	}
	return LinkDetailResponse{
		ID:           link.ID,
		OriginalURL:  link.OriginalURL,
		ShortCode:    link.ShortCode,
		ShortURL:     service.ShortURL(baseURL, link.ShortCode),
		IsActive:     link.IsActive,
		ExpiresAt:    link.ExpiresAt,
		MaxClicks:    link.MaxClicks,
		TotalClicks:  link.TotalClicks,
		UniqueClicks: link.UniqueClicks,
		QRCode:       qr,
		Statistics: LinkCounters{
			TotalClicks:         link.TotalClicks,
			UniqueClicks:        link.UniqueClicks,
			IsExpired:           link.IsExpired(now),
			HasReachedMaxClicks: link.HasReachedMaxClicks(),
		},
		Status:       statusOf(link, now),
		RecentClicks: clicksOf(recent),
		CreatedAt:    link.CreatedAt,
		UpdatedAt:    link.UpdatedAt,
	}
}

func listItemOf(link *model.Link, baseURL string, now time.Time) LinkListItem {
	return LinkListItem{
		ID:           link.ID,
		ShortCode:    link.ShortCode,
		OriginalURL:  link.OriginalURL,
		ShortURL:     service.ShortURL(baseURL, link.ShortCode),
		IsActive:     link.IsActive,
		TotalClicks:  link.TotalClicks,
		UniqueClicks: link.UniqueClicks,
		Status:       statusOf(link, now),
		CreatedAt:    link.CreatedAt,
	}
}

func statisticsOf(stats *service.LinkStatistics) StatisticsResponse {
	link := stats.Link
	return StatisticsResponse{
		ShortCode:           link.ShortCode,
		OriginalURL:         link.OriginalURL,
		IsActive:            link.IsActive,
		TotalClicks:         link.TotalClicks,
		UniqueClicks:        link.UniqueClicks,
		IsExpired:           link.IsExpired(stats.Now),
		HasReachedMaxClicks: link.HasReachedMaxClicks(),
		ExpiresAt:           link.ExpiresAt,
		MaxClicks:           link.MaxClicks,
		CreatedAt:           link.CreatedAt,
		RecentClicks:        clicksOf(stats.RecentClicks),
	}
}
