package automation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/pkg/models"
	"coachflow/pkg/retry"
)

func TestActionDelay(t *testing.T) {
	tests := []struct {
		name         string
		action       Action
		honorSeconds bool
		want         time.Duration
	}{
		{"no config", Action{Type: "send_email"}, false, 0},
		{"float minutes", Action{Config: map[string]interface{}{"delayMinutes": 60.0}}, false, 3600000 * time.Millisecond},
		{"int minutes", Action{Config: map[string]interface{}{"delayMinutes": 5}}, false, 5 * time.Minute},
		{"int64 minutes", Action{Config: map[string]interface{}{"delayMinutes": int64(2)}}, false, 2 * time.Minute},
		{"string minutes", Action{Config: map[string]interface{}{"delayMinutes": " 1.5 "}}, false, 90 * time.Second},
		{"json number", Action{Config: map[string]interface{}{"delayMinutes": json.Number("10")}}, false, 10 * time.Minute},
		{"fractional rounds to ms", Action{Config: map[string]interface{}{"delayMinutes": 0.00001}}, false, time.Millisecond},
		{"zero is immediate", Action{Config: map[string]interface{}{"delayMinutes": 0}}, false, 0},
		{"negative is immediate", Action{Config: map[string]interface{}{"delayMinutes": -3.0}}, false, 0},
		{"garbage string is immediate", Action{Config: map[string]interface{}{"delayMinutes": "soon"}}, false, 0},
		{"bool is immediate", Action{Config: map[string]interface{}{"delayMinutes": true}}, false, 0},
		{"seconds ignored by default", Action{Delay: 30}, false, 0},
		{"seconds honored when enabled", Action{Delay: 30}, true, 30 * time.Second},
		{"fractional seconds", Action{Delay: 1.5}, true, 1500 * time.Millisecond},
		{"minutes win over seconds", Action{Delay: 30, Config: map[string]interface{}{"delayMinutes": 1}}, true, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActionDelay(tt.action, tt.honorSeconds))
		})
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []DispatchRecord
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, rec DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func testResolution() *Resolution {
	return &Resolution{
		Route:    Route{EntityLead, "leadId"},
		ID:       "L1",
		Document: map[string]interface{}{"leadId": "L1"},
	}
}

func TestDispatcher_RecordsEachAction(t *testing.T) {
	pub := &fakePublisher{}
	recorder := &fakeRecorder{}
	d := NewDispatcher(pub, logger.NopLogger(), WithRecorder(recorder))

	r := rule("welcome", "lead_created", true,
		Action{Type: "add_lead_tag"},
		Action{Type: "send_email", Config: map[string]interface{}{"delayMinutes": 10}},
	)

	n, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{"leadId": "L1"}, testResolution())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, recorder.records, 2)
	assert.Equal(t, constants.DispatchModeImmediate, recorder.records[0].Mode)
	assert.Equal(t, constants.DispatchModeDelayed, recorder.records[1].Mode)
	assert.Equal(t, 10*time.Minute, recorder.records[1].Delay)
	assert.Equal(t, r.ID.Hex(), recorder.records[0].RuleID)
	assert.Equal(t, "coach-1", recorder.records[0].CoachID)
	assert.Equal(t, "L1", recorder.records[0].EntityID)
	assert.Equal(t, "lead_created", recorder.records[0].EventName)
}

func TestDispatcher_RecorderFailureDoesNotFailDispatch(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, logger.NopLogger(), WithRecorder(&fakeRecorder{err: errors.New("pg down")}))

	r := rule("r", "lead_created", true, Action{Type: "add_lead_tag"})
	n, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{}, testResolution())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.published, 1)
}

func TestDispatcher_SequentialStopsAtFirstError(t *testing.T) {
	pub := &fakePublisher{failOn: "send_sms"}
	d := NewDispatcher(pub, logger.NopLogger())

	r := rule("r", "lead_created", true,
		Action{Type: "add_lead_tag"},
		Action{Type: "send_sms"},
		Action{Type: "send_email"},
	)
	n, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{}, testResolution())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "add_lead_tag", pub.published[0].actionType)
}

func TestDispatcher_ParallelPublishesAll(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, logger.NopLogger(), WithParallelDispatch(true))

	var actions []Action
	for i := 0; i < 10; i++ {
		actions = append(actions, Action{Type: "create_task"})
	}
	r := rule("r", "lead_created", true, actions...)

	n, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{}, testResolution())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Len(t, pub.published, 10)
}

func TestDispatcher_ParallelReportsError(t *testing.T) {
	pub := &fakePublisher{failOn: "send_sms"}
	d := NewDispatcher(pub, logger.NopLogger(), WithParallelDispatch(true))

	r := rule("r", "lead_created", true,
		Action{Type: "add_lead_tag"},
		Action{Type: "send_sms"},
		Action{Type: "send_email"},
	)
	n, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{}, testResolution())
	require.Error(t, err)
	assert.Equal(t, len(pub.published), n)
	assert.Equal(t, 2, n)
}

func TestDispatcher_DoesNotMutateEvent(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, logger.NopLogger())

	event := models.RawEvent{"leadId": "L1"}
	r := rule("r", "lead_created", true, Action{Type: "add_lead_tag"})
	_, err := d.DispatchRule(context.Background(), r, "lead_created", event, testResolution())
	require.NoError(t, err)

	assert.Equal(t, models.RawEvent{"leadId": "L1"}, event)
	assert.Equal(t, "L1", pub.published[0].message.Payload["leadId"])
}

func TestDispatcher_SecondsShim(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, logger.NopLogger(), WithActionDelaySeconds(true))

	r := rule("r", "lead_created", true, Action{Type: "send_email", Delay: 120})
	_, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{}, testResolution())
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.True(t, pub.published[0].delayed)
	assert.Equal(t, 2*time.Minute, pub.published[0].delay)
}

func TestDispatcher_ActionWithoutTypeIsFatal(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, logger.NopLogger())

	r := rule("broken", "lead_created", true, Action{Config: map[string]interface{}{"delayMinutes": 1}})
	n, err := d.DispatchRule(context.Background(), r, "lead_created", models.RawEvent{}, testResolution())
	require.Error(t, err)
	assert.True(t, retry.IsFatal(err))
	assert.Equal(t, 0, n)
	assert.Empty(t, pub.published)
}
