package model

import "time"

// Link describes one shortened URL and its click counters.
type Link struct {
	ID           string     `gorm:"primaryKey;type:uuid"`
	OriginalURL  string     `gorm:"size:2048;not null"`
	ShortCode    string     `gorm:"size:10;not null;uniqueIndex"`
	IsActive     bool       `gorm:"not null;default:true;index"`
	ExpiresAt    *time.Time `gorm:"index"`
	MaxClicks    int64      `gorm:"not null;default:0"`
	TotalClicks  int64      `gorm:"not null;default:0"`
	UniqueClicks int64      `gorm:"not null;default:0"`
	QRCode       string     `gorm:"size:255;not null;default:''"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`

	Clicks []ClickEvent `gorm:"foreignKey:LinkID;constraint:OnDelete:CASCADE"`
}

func (Link) TableName() string { return "shortened_links" }

// IsExpired reports whether the link's expiry has been reached. A link whose
// expiry equals now is already expired.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// HasReachedMaxClicks reports whether the unique-click cap is exhausted.
// A zero cap means unlimited.
func (l *Link) HasReachedMaxClicks() bool {
	return l.MaxClicks > 0 && l.UniqueClicks >= l.MaxClicks
}

// HasQRCode reports whether a QR image has been stored for the link.
func (l *Link) HasQRCode() bool {
	return l.QRCode != ""
}
