package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}
	db := MongoDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions := db.Collection("chatbot_sessions")
	_, err := sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_session_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "last_accessed_at", Value: -1}},
			Options: options.Index().SetName("by_user_accessed"),
		},
		// retention worker scans by activity cutoff
		{
			Keys:    bson.D{{Key: "last_accessed_at", Value: 1}},
			Options: options.Index().SetName("by_accessed"),
		},
	})
	if err != nil {
		return err
	}

	messages := db.Collection("chatbot_messages")
	_, err = messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "id", Value: 1}},
			Options: options.Index().
				SetName("uniq_message_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_session_created"),
		},
	})
	return err
}
