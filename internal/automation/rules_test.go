package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"coachflow/internal/logger"
)

func TestDecodeRules_SkipsUndecodableRule(t *testing.T) {
	fractional := primitive.NewObjectID()
	broken := primitive.NewObjectID()
	plain := primitive.NewObjectID()

	cursor, err := mongo.NewCursorFromDocuments([]interface{}{
		bson.M{
			"_id":          fractional,
			"name":         "fractional delay",
			"triggerEvent": "lead_created",
			"isActive":     true,
			"actions": bson.A{
				bson.M{"type": "send_email", "delay": 1.5, "order": 2.5},
			},
		},
		bson.M{
			"_id":          broken,
			"name":         "broken",
			"triggerEvent": "lead_created",
			"isActive":     true,
			"actions":      "not-a-list",
		},
		bson.M{
			"_id":          plain,
			"name":         "plain",
			"triggerEvent": "lead_created",
			"isActive":     true,
			"actions": bson.A{
				bson.M{"type": "add_lead_tag", "delay": int32(3), "config": bson.M{"delayMinutes": int32(5)}},
			},
		},
	}, nil, nil)
	require.NoError(t, err)

	rules, err := decodeRules(context.Background(), cursor, logger.NopLogger())
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, fractional, rules[0].ID)
	assert.Equal(t, 1.5, rules[0].Actions[0].Delay)
	assert.Equal(t, 2.5, rules[0].Actions[0].Order)

	assert.Equal(t, plain, rules[1].ID)
	assert.Equal(t, 3.0, rules[1].Actions[0].Delay)
	assert.Equal(t, int64(5), rules[1].Actions[0].Config["delayMinutes"])
}

func TestDecodeRules_Empty(t *testing.T) {
	cursor, err := mongo.NewCursorFromDocuments(nil, nil, nil)
	require.NoError(t, err)

	rules, err := decodeRules(context.Background(), cursor, logger.NopLogger())
	require.NoError(t, err)
	assert.Empty(t, rules)
}
