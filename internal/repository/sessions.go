package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
)

// ErrSessionNotFound is returned when a user has no session for a phone.
var ErrSessionNotFound = errors.New("telegram session not found")

// SessionStore persists Telegram credentials per (user, phone).
type SessionStore interface {
	Upsert(ctx context.Context, userID string, sess *models.PersistedSession) error
	ListByUser(ctx context.Context, userID string) ([]models.PersistedSession, error)
	GetByPhone(ctx context.Context, userID, phone string) (*models.PersistedSession, error)
	DeleteByPhone(ctx context.Context, userID, phone string) error
	DeleteAllForPhone(ctx context.Context, phone string) (int64, error)
}

// telegramSession is the row behind a PersistedSession.
type telegramSession struct {
	ID        uint                                           `gorm:"primaryKey"`
	UserID    string                                         `gorm:"size:64;not null;uniqueIndex:idx_telegram_sessions_user_phone"`
	Phone     string                                         `gorm:"size:32;not null;uniqueIndex:idx_telegram_sessions_user_phone;index"`
	Session   string                                         `gorm:"type:text;not null"`
	UserInfo  datatypes.JSONType[*models.UserProfileSnapshot] `gorm:"column:user_info"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (telegramSession) TableName() string { return "telegram_sessions" }

func (r *telegramSession) toModel() models.PersistedSession {
	return models.PersistedSession{
		Phone:    r.Phone,
		Session:  r.Session,
		Created:  r.CreatedAt.UTC(),
		UserInfo: r.UserInfo.Data(),
	}
}

// GormSessionStore is the SessionStore over gorm (postgres in production,
// sqlite for local runs and tests).
type GormSessionStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSessionStore creates a gorm-backed session store.
func NewSessionStore(db *gorm.DB, log *logger.Logger) *GormSessionStore {
	return &GormSessionStore{
		db:  db,
		log: log,
	}
}

// AutoMigrate creates the sessions table. Postgres deployments use the SQL
// migrations instead; this is for sqlite.
func (s *GormSessionStore) AutoMigrate() error {
	return s.db.AutoMigrate(&telegramSession{})
}

// Upsert creates the session or replaces the one stored for the same phone.
func (s *GormSessionStore) Upsert(ctx context.Context, userID string, sess *models.PersistedSession) error {
	if userID == "" {
		return errors.New("upsert session: empty user id")
	}
	phone := models.NormalizePhone(sess.Phone)
	if phone == "" {
		return errors.New("upsert session: empty phone")
	}

	created := sess.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	row := telegramSession{
		UserID:    userID,
		Phone:     phone,
		Session:   sess.Session,
		UserInfo:  datatypes.NewJSONType(sess.UserInfo),
		CreatedAt: created,
		UpdatedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"session", "user_info", "created_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	s.log.Info().
		Str("user_id", userID).
		Str("phone", logger.MaskPhone(phone)).
		Msg("stored telegram session")
	return nil
}

// ListByUser returns a user's sessions, newest first.
func (s *GormSessionStore) ListByUser(ctx context.Context, userID string) ([]models.PersistedSession, error) {
	var rows []telegramSession
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]models.PersistedSession, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// GetByPhone returns ErrSessionNotFound when the user has no session for phone.
func (s *GormSessionStore) GetByPhone(ctx context.Context, userID, phone string) (*models.PersistedSession, error) {
	var row telegramSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND phone = ?", userID, models.NormalizePhone(phone)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess := row.toModel()
	return &sess, nil
}

// DeleteByPhone removes one session; ErrSessionNotFound if there was none.
func (s *GormSessionStore) DeleteByPhone(ctx context.Context, userID, phone string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND phone = ?", userID, models.NormalizePhone(phone)).
		Delete(&telegramSession{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteAllForPhone removes a phone's sessions across all users.
func (s *GormSessionStore) DeleteAllForPhone(ctx context.Context, phone string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("phone = ?", models.NormalizePhone(phone)).
		Delete(&telegramSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete sessions for phone: %w", res.Error)
	}
	s.log.Warn().
		Str("phone", logger.MaskPhone(phone)).
		Int64("deleted", res.RowsAffected).
		Msg("removed telegram sessions for phone")
	return res.RowsAffected, nil
}
