package management

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coachflow/internal/automation"
	"coachflow/internal/constants"
	pkgerrors "coachflow/pkg/errors"
	"coachflow/pkg/metrics"
)

// MongoRepository stores rules in the same collection the rule engine
// reads from.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database, collection string) *MongoRepository {
	return &MongoRepository{collection: db.Collection(collection)}
}

func (r *MongoRepository) Create(ctx context.Context, rule *automation.Rule) error {
	defer observe("create_rule", time.Now())

	if rule.ID.IsZero() {
		rule.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, rule); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateName(rule.Name, err)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *MongoRepository) List(ctx context.Context, filter ListFilter) ([]automation.Rule, error) {
	defer observe("list_rules", time.Now())

	query := bson.M{}
	if filter.CoachID != "" {
		query["coachId"] = filter.CoachID
	}
	if filter.TriggerEvent != "" {
		query["triggerEvent"] = filter.TriggerEvent
	}
	if filter.IsActive != nil {
		query["isActive"] = *filter.IsActive
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(filter.Offset))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer cursor.Close(ctx)

	rules := []automation.Rule{}
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return rules, nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*automation.Rule, error) {
	defer observe("get_rule", time.Now())

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var rule automation.Rule
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&rule); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (r *MongoRepository) Update(ctx context.Context, rule *automation.Rule) error {
	defer observe("update_rule", time.Now())

	rule.UpdatedAt = time.Now().UTC()
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": rule.ID}, rule)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateName(rule.Name, err)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if result.MatchedCount == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", "rule not found")
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	defer observe("delete_rule", time.Now())

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return pkgerrors.ErrNotFound.WithDetail("message", "rule not found")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if result.DeletedCount == 0 {
		return pkgerrors.ErrNotFound.WithDetail("message", "rule not found")
	}
	return nil
}

func duplicateName(name string, err error) error {
	return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists", name))
}

func observe(operation string, start time.Time) {
	metrics.ObserveDatabaseQueryDuration(constants.ServiceManagement, "mongodb", operation, time.Since(start))
}
