package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/carma-ai/carma/internal/models"
	"github.com/carma-ai/carma/internal/repositories"
	"github.com/carma-ai/carma/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

type messageDoc struct {
	ID           string         `bson:"id"`
	SessionID    string         `bson:"session_id"`
	Role         string         `bson:"role"`
	Content      string         `bson:"content"`
	CreatedAt    time.Time      `bson:"created_at"`
	Reaction     *string        `bson:"reaction,omitempty"`
	InputTokens  int            `bson:"input_tokens"`
	OutputTokens int            `bson:"output_tokens"`
	TotalTokens  int            `bson:"total_tokens"`
	Metadata     map[string]any `bson:"metadata"`
}

func (d *messageDoc) toModel() *models.Message {
	md := d.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return &models.Message{
		ID:           d.ID,
		SessionID:    d.SessionID,
		Role:         d.Role,
		Content:      d.Content,
		CreatedAt:    d.CreatedAt.UTC(),
		Reaction:     d.Reaction,
		InputTokens:  d.InputTokens,
		OutputTokens: d.OutputTokens,
		TotalTokens:  d.TotalTokens,
		Metadata:     datatypes.JSONMap(md),
	}
}

type messageRepo struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) repositories.MessageRepository {
	return &messageRepo{col: db.Collection(messageCollection)}
}

func (r *messageRepo) Insert(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	md := map[string]any(msg.Metadata)
	if md == nil {
		md = map[string]any{}
		msg.Metadata = datatypes.JSONMap(md)
	}
	doc := &messageDoc{
		ID:           msg.ID,
		SessionID:    msg.SessionID,
		Role:         msg.Role,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
		Reaction:     msg.Reaction,
		InputTokens:  msg.InputTokens,
		OutputTokens: msg.OutputTokens,
		TotalTokens:  msg.TotalTokens,
		Metadata:     md,
	}
	_, err := r.col.InsertOne(ctx, doc)
	return err
}

func (r *messageRepo) ListBySession(ctx context.Context, sessionID string, page, perPage int, ascending bool) ([]models.Message, repositories.PageInfo, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}

	filter := bson.M{"session_id": sessionID}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, repositories.PageInfo{}, err
	}

	dir := -1
	if ascending {
		dir = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: dir}, {Key: "id", Value: dir}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, repositories.PageInfo{}, err
	}
	defer cur.Close(ctx)

	var out []models.Message
	for cur.Next(ctx) {
		var doc messageDoc
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

func (r *messageRepo) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"session_id": sessionID})
}

func (r *messageRepo) GetByID(ctx context.Context, messageID, sessionID string) (*models.Message, error) {
	var doc messageDoc
	err := r.col.FindOne(ctx, bson.M{"id": messageID, "session_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (r *messageRepo) SetReaction(ctx context.Context, messageID, sessionID, reaction string) (*models.Message, error) {
	update := bson.M{"$set": bson.M{
		"reaction":                     reaction,
		"metadata.reaction_updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc messageDoc
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"id": messageID, "session_id": sessionID},
		update, opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}
