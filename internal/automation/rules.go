package automation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"coachflow/internal/logger"
	"coachflow/pkg/metrics"
)

type RuleRepository interface {
	// FindActiveByTrigger returns the active rules for eventName in the
	// collection's natural order.
	FindActiveByTrigger(ctx context.Context, eventName string) ([]Rule, error)
}

type MongoRuleRepository struct {
	collection *mongo.Collection
	service    string
	logger     logger.Logger
}

func NewMongoRuleRepository(db *mongo.Database, collection, service string, log logger.Logger) *MongoRuleRepository {
	return &MongoRuleRepository{
		collection: db.Collection(collection),
		service:    service,
		logger:     log,
	}
}

func (r *MongoRuleRepository) FindActiveByTrigger(ctx context.Context, eventName string) ([]Rule, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveDatabaseQueryDuration(r.service, "mongodb", "find_rules", time.Since(start))
	}()

	cursor, err := r.collection.Find(ctx, bson.M{"triggerEvent": eventName, "isActive": true})
	if err != nil {
		metrics.IncDatabaseQuery(r.service, "mongodb", "find_rules", "error")
		return nil, fmt.Errorf("failed to find rules: %w", err)
	}
	defer cursor.Close(ctx)

	rules, err := decodeRules(ctx, cursor, r.logger)
	if err != nil {
		metrics.IncDatabaseQuery(r.service, "mongodb", "find_rules", "error")
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	metrics.IncDatabaseQuery(r.service, "mongodb", "find_rules", "success")
	return rules, nil
}

// decodeRules reads the cursor one document at a time. A document that does
// not decode is logged and skipped so it cannot block the other rules for
// the same trigger.
func decodeRules(ctx context.Context, cursor *mongo.Cursor, log logger.Logger) ([]Rule, error) {
	var rules []Rule
	for cursor.Next(ctx) {
		var rule Rule
		if err := cursor.Decode(&rule); err != nil {
			log.ErrorwCtx(ctx, "Skipping undecodable automation rule",
				"error", err,
				"rule_id", cursor.Current.Lookup("_id").String(),
			)
			continue
		}
		rule.normalize()
		rules = append(rules, rule)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
