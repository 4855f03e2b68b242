package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureRuleIndexes creates the indexes the engine and the management API
// query automation rules by. Re-running it is a no-op.
func EnsureRuleIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	collection := db.Collection(collectionName)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "triggerEvent", Value: 1}, {Key: "isActive", Value: 1}},
			Options: options.Index().SetName("idx_automationrules_trigger_active"),
		},
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_automationrules_name").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "coachId", Value: 1}, {Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("idx_automationrules_coach_updated"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
