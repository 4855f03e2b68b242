package automation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNormalizeDocument(t *testing.T) {
	oid := primitive.NewObjectID()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	doc := bson.M{
		"_id":       oid,
		"createdAt": primitive.NewDateTimeFromTime(created),
		"score":     int32(7),
		"tags":      bson.A{"vip", int32(1)},
		"address":   bson.D{{Key: "city", Value: "Lisbon"}, {Key: "owner", Value: oid}},
		"meta":      bson.M{"nested": bson.A{bson.M{"k": int32(2)}}},
		"name":      "Jane",
	}

	got := NormalizeDocument(doc)

	assert.Equal(t, oid.Hex(), got["_id"])
	assert.Equal(t, created, got["createdAt"])
	assert.Equal(t, int64(7), got["score"])
	assert.Equal(t, []interface{}{"vip", int64(1)}, got["tags"])
	assert.Equal(t, map[string]interface{}{"city": "Lisbon", "owner": oid.Hex()}, got["address"])
	assert.Equal(t, map[string]interface{}{
		"nested": []interface{}{map[string]interface{}{"k": int64(2)}},
	}, got["meta"])
	assert.Equal(t, "Jane", got["name"])
}

func TestNormalizeDocument_Nil(t *testing.T) {
	assert.Nil(t, NormalizeDocument(nil))
}

func TestNormalizeDocument_EncodesAsPlainJSON(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("65f0c0ffee0000000000abcd")
	require.NoError(t, err)

	raw, err := json.Marshal(NormalizeDocument(bson.M{
		"_id":  oid,
		"when": primitive.NewDateTimeFromTime(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"65f0c0ffee0000000000abcd","when":"2026-05-01T00:00:00Z"}`, string(raw))
}

func TestRuleNormalize(t *testing.T) {
	r := Rule{
		TriggerConditions: []Condition{{Field: "score", Operator: "greater_than", Value: int32(10)}},
		Actions:           []Action{{Type: "send_email", Config: map[string]interface{}{"delayMinutes": int32(5)}}},
	}
	r.normalize()

	assert.Equal(t, int64(10), r.TriggerConditions[0].Value)
	assert.Equal(t, int64(5), r.Actions[0].Config["delayMinutes"])
	assert.Equal(t, 5*time.Minute, ActionDelay(r.Actions[0], false))
}

func TestCatalog(t *testing.T) {
	assert.True(t, IsTriggerEvent("lead_created"))
	assert.True(t, IsTriggerEvent("coach.inactive"))
	assert.False(t, IsTriggerEvent("lead_exploded"))

	assert.True(t, IsActionType("send_whatsapp_message"))
	assert.False(t, IsActionType("launch_rocket"))

	for _, name := range TriggerEvents {
		_, ok := RouteFor(name)
		assert.True(t, ok, name)
	}
}
