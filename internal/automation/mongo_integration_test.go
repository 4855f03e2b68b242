//go:build integration

package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/testinfra"
	"coachflow/pkg/models"
)

func testCollections() config.CollectionsConfig {
	return config.CollectionsConfig{
		Rules:        constants.CollectionAutomationRules,
		Leads:        constants.CollectionLeads,
		Appointments: constants.CollectionAppointments,
		Payments:     constants.CollectionPayments,
		Coaches:      constants.CollectionCoaches,
	}
}

func TestMongoEntityStore_FindByID(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Mongo: true})
	ctx := context.Background()
	cols := testCollections()

	oid := primitive.NewObjectID()
	_, err := infra.MongoDB.Collection(cols.Leads).InsertOne(ctx, bson.M{"_id": oid, "name": "Jane", "score": int32(12)})
	require.NoError(t, err)
	_, err = infra.MongoDB.Collection(cols.Payments).InsertOne(ctx, bson.M{"_id": "pay_1", "amount": 99.5})
	require.NoError(t, err)

	store := NewMongoEntityStore(infra.MongoDB, cols, constants.ServiceRuleEngine)

	lead, err := store.FindByID(ctx, EntityLead, oid.Hex())
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, oid.Hex(), lead["_id"])
	assert.Equal(t, "Jane", lead["name"])
	assert.Equal(t, int64(12), lead["score"])

	payment, err := store.FindByID(ctx, EntityPayment, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 99.5, payment["amount"])

	missing, err := store.FindByID(ctx, EntityCoach, primitive.NewObjectID().Hex())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMongoRuleRepository_FindActiveByTrigger(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Mongo: true})
	ctx := context.Background()
	cols := testCollections()

	docs := []interface{}{
		Rule{Name: "a", CoachID: "c1", TriggerEvent: "lead_created", IsActive: true, Actions: []Action{
			{Type: "send_email", Config: map[string]interface{}{"delayMinutes": int32(60)}},
		}},
		Rule{Name: "b", CoachID: "c1", TriggerEvent: "lead_created", IsActive: false},
		Rule{Name: "c", CoachID: "c2", TriggerEvent: "payment_failed", IsActive: true},
	}
	_, err := infra.MongoDB.Collection(cols.Rules).InsertMany(ctx, docs)
	require.NoError(t, err)

	repo := NewMongoRuleRepository(infra.MongoDB, cols.Rules, constants.ServiceRuleEngine, logger.NopLogger())

	rules, err := repo.FindActiveByTrigger(ctx, "lead_created")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "a", rules[0].Name)
	assert.Equal(t, int64(60), rules[0].Actions[0].Config["delayMinutes"])
	assert.Equal(t, time.Hour, ActionDelay(rules[0].Actions[0], false))

	rules, err = repo.FindActiveByTrigger(ctx, "task_overdue")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestEngine_EndToEndWithMongo(t *testing.T) {
	infra := testinfra.Setup(t, testinfra.Options{Mongo: true, Postgres: true})
	ctx := context.Background()
	cols := testCollections()

	leadID := primitive.NewObjectID()
	_, err := infra.MongoDB.Collection(cols.Leads).InsertOne(ctx, bson.M{"_id": leadID, "email": "jane@example.com"})
	require.NoError(t, err)
	_, err = infra.MongoDB.Collection(cols.Rules).InsertOne(ctx, Rule{
		Name: "welcome", CoachID: "c1", TriggerEvent: "lead_created", IsActive: true,
		Actions: []Action{
			{Type: "add_lead_tag"},
			{Type: "send_email", Config: map[string]interface{}{"delayMinutes": 10}},
		},
	})
	require.NoError(t, err)

	pub := &fakePublisher{}
	engine := NewEngine(
		NewResolver(NewMongoEntityStore(infra.MongoDB, cols, constants.ServiceRuleEngine)),
		NewMatcher(NewMongoRuleRepository(infra.MongoDB, cols.Rules, constants.ServiceRuleEngine, logger.NopLogger()), nil, logger.NopLogger()),
		NewDispatcher(pub, logger.NopLogger(), WithRecorder(NewPostgresDispatchLog(infra.PostgresDB))),
		logger.NopLogger(),
	)

	require.NoError(t, engine.Handle(ctx, eventDelivery(t, "lead_created", models.RawEvent{"leadId": leadID.Hex()})))

	require.Len(t, pub.published, 2)
	assert.False(t, pub.published[0].delayed)
	assert.True(t, pub.published[1].delayed)
	assert.Equal(t, 10*time.Minute, pub.published[1].delay)
	relatedDoc, ok := pub.published[0].message.Payload["relatedDoc"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", relatedDoc["email"])

	var (
		count   int
		delayMs int64
	)
	require.NoError(t, infra.PostgresDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(delay_ms), 0) FROM automation_runs WHERE entity_id = $1`, leadID.Hex(),
	).Scan(&count, &delayMs))
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(600000), delayMs)
}
