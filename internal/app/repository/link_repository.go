package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sifan077/ClickURL/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrShortCodeTaken signals a unique index violation on short_code.
	ErrShortCodeTaken = errors.New("short code already in use")
)

const pgUniqueViolation = "23505"

// ListFilter narrows and pages a link listing.
type ListFilter struct {
	IsActive *bool
	Search   string
	Limit    int
	Offset   int
}

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByCode(ctx context.Context, code string) (*model.Link, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListCodes(ctx context.Context) ([]string, error)
	List(ctx context.Context, filter ListFilter) ([]model.Link, int64, error)
	// Update persists the owner-editable fields and the QR reference.
	// Click counters are never written here.
	Update(ctx context.Context, link *model.Link) error
	// Delete removes the link and its click events.
	Delete(ctx context.Context, code string) error
	// DeleteExpired removes every link expired at now and returns their codes.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrShortCodeTaken
		}
		return err
	}
	return nil
}

func (r *linkRepository) GetByCode(ctx context.Context, code string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("short_code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *linkRepository) ListCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Pluck("short_code", &codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *linkRepository) List(ctx context.Context, filter ListFilter) ([]model.Link, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := r.db.WithContext(ctx).Model(&model.Link{})
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		query = query.Where("short_code ILIKE ? OR original_url ILIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var result []model.Link
	if err := query.
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&result).Error; err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

func (r *linkRepository) Update(ctx context.Context, link *model.Link) error {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("short_code = ?", link.ShortCode).
		Updates(map[string]interface{}{
			"original_url": link.OriginalURL,
			"is_active":    link.IsActive,
			"expires_at":   link.ExpiresAt,
			"max_clicks":   link.MaxClicks,
			"qr_code":      link.QRCode,
			"updated_at":   time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}

	return r.db.WithContext(ctx).Where("short_code = ?", link.ShortCode).First(link).Error
}

func (r *linkRepository) Delete(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link model.Link
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("short_code = ?", code).
			First(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLinkNotFound
			}
			return err
		}
		if err := tx.Where("link_id = ?", link.ID).Delete(&model.ClickEvent{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Link{}, "id = ?", link.ID).Error
	})
}

func (r *linkRepository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	var expired []model.Link
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "short_code").
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := make([]string, len(expired))
		for i, link := range expired {
			ids[i] = link.ID
		}
		if err := tx.Where("link_id IN ?", ids).Delete(&model.ClickEvent{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&model.Link{}).Error
	})
	if err != nil {
		return nil, err
	}

	codes := make([]string, len(expired))
	for i, link := range expired {
		codes[i] = link.ShortCode
	}
	return codes, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
