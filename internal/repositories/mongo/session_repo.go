package mongo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/carma-ai/carma/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

const (
	sessionCollection = "chatbot_sessions"
	messageCollection = "chatbot_messages"
)

type sessionDoc struct {
	SessionID      string         `bson:"session_id"`
	UserID         *string        `bson:"user_id,omitempty"`
	Title          *string        `bson:"title,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	LastAccessedAt time.Time      `bson:"last_accessed_at"`
	IsActive       bool           `bson:"is_active"`
	Metadata       map[string]any `bson:"metadata"`
}

func (d *sessionDoc) toModel() *models.Session {
	md := d.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return &models.Session{
		SessionID:      d.SessionID,
		UserID:         d.UserID,
		Title:          d.Title,
		CreatedAt:      d.CreatedAt.UTC(),
		LastAccessedAt: d.LastAccessedAt.UTC(),
		IsActive:       d.IsActive,
		Metadata:       datatypes.JSONMap(md),
	}
}

type sessionRepo struct {
	sessions *mongo.Collection
	messages *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) repositories.SessionRepository {
	return &sessionRepo{
		sessions: db.Collection(sessionCollection),
		messages: db.Collection(messageCollection),
	}
}

func (r *sessionRepo) Create(ctx context.Context, sessionID string, userID, title *string, metadata map[string]any) (*models.Session, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()
	doc := &sessionDoc{
		SessionID:      sessionID,
		UserID:         userID,
		Title:          title,
		CreatedAt:      now,
		LastAccessedAt: now,
		IsActive:       true,
		Metadata:       metadata,
	}
	_, err := r.sessions.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil, utils.E(utils.CodeConflict, "SessionRepo.Create", "session already exists", err)
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var doc sessionDoc
	err := r.sessions.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (r *sessionRepo) Touch(ctx context.Context, sessionID string) error {
	res, err := r.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "is_active": true},
		bson.M{"$set": bson.M{"last_accessed_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) List(ctx context.Context, userID string, activeOnly bool, page, perPage int) ([]models.Session, repositories.PageInfo, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}

	filter := bson.M{"user_id": userID}
	if activeOnly {
		filter["is_active"] = true
	}

	total, err := r.sessions.CountDocuments(ctx, filter)
	if err != nil {
		return nil, repositories.PageInfo{}, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_accessed_at", Value: -1}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))

	cur, err := r.sessions.Find(ctx, filter, opts)
	if err != nil {
		return nil, repositories.PageInfo{}, err
	}
	defer cur.Close(ctx)

	var out []models.Session
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, repositories.PageInfo{}, err
		}
		out = append(out, *doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, repositories.PageInfo{}, err
	}
	return out, repositories.NewPageInfo(page, perPage, total), nil
}

func (r *sessionRepo) Deactivate(ctx context.Context, sessionID string) (bool, error) {
	res, err := r.sessions.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"is_active":        false,
			"last_accessed_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// DeletePermanently removes messages before the session document so a crash
// in between never leaves messages that outlive their session.
func (r *sessionRepo) DeletePermanently(ctx context.Context, sessionID string) (bool, error) {
	if _, err := r.messages.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return false, err
	}
	res, err := r.sessions.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *sessionRepo) DeleteOld(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{"is_active": false, "last_accessed_at": bson.M{"$lt": cutoff}}

	ids, err := r.sessions.Distinct(ctx, "session_id", filter)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := r.messages.DeleteMany(ctx, bson.M{"session_id": bson.M{"$in": ids}}); err != nil {
		return 0, err
	}
	res, err := r.sessions.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *sessionRepo) MergeMetadata(ctx context.Context, sessionID string, md map[string]any) error {
	if len(md) == 0 {
		return nil
	}
	set := bson.M{}
	for k, v := range md {
		set["metadata."+k] = v
	}
	res, err := r.sessions.UpdateOne(ctx, bson.M{"session_id": sessionID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) Stats(ctx context.Context) (*repositories.SessionStats, error) {
	var out repositories.SessionStats
	var err error

	if out.Sessions.Total, err = r.sessions.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if out.Sessions.Active, err = r.sessions.CountDocuments(ctx, bson.M{"is_active": true}); err != nil {
		return nil, err
	}
	out.Sessions.Inactive = out.Sessions.Total - out.Sessions.Active

	users, err := r.sessions.Distinct(ctx, "user_id", bson.M{"user_id": bson.M{"$ne": nil}})
	if err != nil {
		return nil, err
	}
	out.Sessions.UniqueUsers = int64(len(users))

	if out.Messages.Total, err = r.messages.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if out.Messages.Human, err = r.messages.CountDocuments(ctx, bson.M{"role": models.RoleHuman}); err != nil {
		return nil, err
	}
	if out.Messages.AI, err = r.messages.CountDocuments(ctx, bson.M{"role": models.RoleAI}); err != nil {
		return nil, err
	}

	populated, err := r.messages.Distinct(ctx, "session_id", bson.M{})
	if err != nil {
		return nil, err
	}
	if n := int64(len(populated)); n > 0 {
		avg := float64(out.Messages.Total) / float64(n)
		out.Messages.AvgPerSession = math.Round(avg*100) / 100
	}
	return &out, nil
}
