package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

const CallLogCollection = "call_sessions"

type CallLogRepository interface {
	Create(ctx context.Context, l *models.CallLog) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.CallLog, error)
	SetStatus(ctx context.Context, sessionID, status string, questionIndex int) error
	Finish(ctx context.Context, rec models.SubmissionRecord, endedAt time.Time) error
	ListRecent(ctx context.Context, limit int64) ([]models.CallLog, error)
}

type callLogRepo struct {
	col *mongo.Collection
}

func NewCallLogRepo(db *mongo.Database) CallLogRepository {
	return &callLogRepo{col: db.Collection(CallLogCollection)}
}

func (r *callLogRepo) Create(ctx context.Context, l *models.CallLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, l)
	return err
}

func (r *callLogRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.CallLog, error) {
	var l models.CallLog
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&l)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &l, err
}

func (r *callLogRepo) SetStatus(ctx context.Context, sessionID, status string, questionIndex int) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"status": status, "question_index": questionIndex}},
	)
	return err
}

func (r *callLogRepo) Finish(ctx context.Context, rec models.SubmissionRecord, endedAt time.Time) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": rec.SessionID},
		bson.M{"$set": bson.M{
			"status":           string(rec.Status),
			"outcome":          string(rec.Outcome),
			"failure_reason":   rec.FailureReason,
			"answer_count":     len(rec.Answers),
			"ended_at":         endedAt.UTC(),
			"duration_seconds": rec.DurationSeconds,
		}},
	)
	return err
}

func (r *callLogRepo) ListRecent(ctx context.Context, limit int64) ([]models.CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.CallLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
