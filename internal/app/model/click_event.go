package model

import "time"

// ClickEvent is one recorded visit to a short link.
type ClickEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	LinkID    string    `json:"link_id" gorm:"type:uuid;not null;index:idx_click_events_link_ip,priority:1"`
	IPAddress string    `json:"ip_address" gorm:"size:45;not null;index:idx_click_events_link_ip,priority:2"`
	UserAgent string    `json:"user_agent" gorm:"type:text;not null;default:''"`
	Referer   string    `json:"referer" gorm:"size:2048;not null;default:''"`
	ClickedAt time.Time `json:"clicked_at" gorm:"not null;index"`
}

func (ClickEvent) TableName() string { return "click_events" }

// VisitOutcome reports the counters of a link right after a visit was recorded.
type VisitOutcome struct {
	Unique       bool
	TotalClicks  int64
	UniqueClicks int64
}

// ClickNotification is the payload published after a visit commits.
type ClickNotification struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"link_id"`
	ShortCode string    `json:"short_code"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer,omitempty"`
	Unique    bool      `json:"unique"`
	ClickedAt time.Time `json:"clicked_at"`
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.recorded"
	ClickConsumerName   = "click-auditor"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
