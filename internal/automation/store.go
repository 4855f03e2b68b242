package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"coachflow/internal/config"
	"coachflow/pkg/circuitbreaker"
	"coachflow/pkg/metrics"
)

type MongoEntityStore struct {
	collections map[EntityKind]*mongo.Collection
	service     string
}

func NewMongoEntityStore(db *mongo.Database, cfg config.CollectionsConfig, service string) *MongoEntityStore {
	return &MongoEntityStore{
		collections: map[EntityKind]*mongo.Collection{
			EntityLead:        db.Collection(cfg.Leads),
			EntityAppointment: db.Collection(cfg.Appointments),
			EntityPayment:     db.Collection(cfg.Payments),
			EntityCoach:       db.Collection(cfg.Coaches),
		},
		service: service,
	}
}

func (s *MongoEntityStore) FindByID(ctx context.Context, kind EntityKind, id string) (map[string]interface{}, error) {
	collection, ok := s.collections[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}

	start := time.Now()
	var doc bson.M
	err := collection.FindOne(ctx, bson.M{"_id": bson.M{"$in": idCandidates(id)}}).Decode(&doc)
	metrics.ObserveDatabaseQueryDuration(s.service, "mongodb", "find_"+string(kind), time.Since(start))

	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.IncDatabaseQuery(s.service, "mongodb", "find_"+string(kind), "not_found")
		return nil, nil
	}
	if err != nil {
		metrics.IncDatabaseQuery(s.service, "mongodb", "find_"+string(kind), "error")
		return nil, fmt.Errorf("failed to find %s: %w", kind, err)
	}

	metrics.IncDatabaseQuery(s.service, "mongodb", "find_"+string(kind), "success")
	return NormalizeDocument(doc), nil
}

// idCandidates matches documents keyed by ObjectID as well as by a plain
// string id.
func idCandidates(id string) bson.A {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.A{oid, id}
	}
	return bson.A{id}
}

// CircuitBreakerEntityStore trips after repeated store failures so a
// struggling database fails events fast.
type CircuitBreakerEntityStore struct {
	store EntityStore
	cb    *circuitbreaker.Breaker
}

func NewCircuitBreakerEntityStore(store EntityStore, cfg config.CircuitBreakerConfig) EntityStore {
	if !cfg.Enabled {
		return store
	}
	return &CircuitBreakerEntityStore{
		store: store,
		cb:    circuitbreaker.New("mongo-entities", cfg),
	}
}

func (s *CircuitBreakerEntityStore) FindByID(ctx context.Context, kind EntityKind, id string) (map[string]interface{}, error) {
	return circuitbreaker.Call(ctx, s.cb, func() (map[string]interface{}, error) {
		return s.store.FindByID(ctx, kind, id)
	})
}
