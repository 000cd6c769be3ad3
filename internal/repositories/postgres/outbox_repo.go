package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/yoocall/internal/models"
)

type OutboxRepository interface {
	Save(ctx context.Context, e *models.OutboxEntry) error
	ListPending(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	MarkDelivered(ctx context.Context, sessionID string) error
	RecordFailure(ctx context.Context, sessionID, reason string) error
	CountPending(ctx context.Context) (int64, error)
}

type outboxRepo struct {
	db *gorm.DB
}

func NewOutboxRepo(db *gorm.DB) OutboxRepository {
	return &outboxRepo{db: db}
}

// Migrate creates the outbox table when missing.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.OutboxEntry{})
}

func (r *outboxRepo) Save(ctx context.Context, e *models.OutboxEntry) error {
	now := time.Now().UTC()
	e.Status = models.OutboxPending
	e.CreatedAt = now
	e.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"payload":    e.Payload,
				"status":     models.OutboxPending,
				"attempts":   gorm.Expr("submission_outbox.attempts + ?", e.Attempts),
				"last_error": e.LastError,
				"updated_at": now,
			}),
		}).
		Create(e).Error
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", models.OutboxPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *outboxRepo) MarkDelivered(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"status": models.OutboxDelivered, "updated_at": time.Now().UTC()}).Error
}

func (r *outboxRepo) RecordFailure(ctx context.Context, sessionID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *outboxRepo) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("status = ?", models.OutboxPending).
		Count(&n).Error
	return n, err
}
