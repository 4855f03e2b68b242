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
	"go.mongodb.org/mongo-driver/bson/primitive"

	"coachflow/internal/broker"
	"coachflow/internal/logger"
	"coachflow/pkg/cel"
	"coachflow/pkg/models"
	"coachflow/pkg/retry"
)

type lookup struct {
	kind EntityKind
	id   string
}

type fakeEntityStore struct {
	mu      sync.Mutex
	docs    map[EntityKind]map[string]map[string]interface{}
	lookups []lookup
	err     error
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{docs: map[EntityKind]map[string]map[string]interface{}{}}
}

func (s *fakeEntityStore) put(kind EntityKind, id string, doc map[string]interface{}) {
	if s.docs[kind] == nil {
		s.docs[kind] = map[string]map[string]interface{}{}
	}
	s.docs[kind][id] = doc
}

func (s *fakeEntityStore) FindByID(_ context.Context, kind EntityKind, id string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, lookup{kind, id})
	if s.err != nil {
		return nil, s.err
	}
	return s.docs[kind][id], nil
}

type fakeRuleRepository struct {
	rules   []Rule
	queries []string
	err     error
}

func (r *fakeRuleRepository) FindActiveByTrigger(_ context.Context, eventName string) ([]Rule, error) {
	r.queries = append(r.queries, eventName)
	if r.err != nil {
		return nil, r.err
	}
	var out []Rule
	for _, rule := range r.rules {
		if rule.TriggerEvent == eventName && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

type publishedAction struct {
	actionType string
	delayed    bool
	delay      time.Duration
	message    models.ActionMessage
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedAction
	failOn    string
}

func (p *fakePublisher) record(actionType string, body []byte, delayed bool, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if actionType == p.failOn {
		return errors.New("broker nacked publish")
	}
	var msg models.ActionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	p.published = append(p.published, publishedAction{actionType, delayed, delay, msg})
	return nil
}

func (p *fakePublisher) PublishAction(_ context.Context, actionType string, body []byte) error {
	return p.record(actionType, body, false, 0)
}

func (p *fakePublisher) PublishDelayed(_ context.Context, actionType string, body []byte, delay time.Duration) error {
	return p.record(actionType, body, true, delay)
}

type fixture struct {
	store     *fakeEntityStore
	rules     *fakeRuleRepository
	publisher *fakePublisher
	engine    *Engine
}

func newFixture(t *testing.T, evaluator ConditionEvaluator, opts ...DispatcherOption) *fixture {
	t.Helper()
	f := &fixture{
		store:     newFakeEntityStore(),
		rules:     &fakeRuleRepository{},
		publisher: &fakePublisher{},
	}
	log := logger.NopLogger()
	dispatcher := NewDispatcher(f.publisher, log, opts...)
	dispatcher.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	f.engine = NewEngine(NewResolver(f.store), NewMatcher(f.rules, evaluator, log), dispatcher, log)
	return f
}

func eventDelivery(t *testing.T, eventName string, body map[string]interface{}) broker.Delivery {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return broker.Delivery{RoutingKey: eventName, Body: raw}
}

func rule(name, trigger string, active bool, actions ...Action) Rule {
	return Rule{
		ID:           primitive.NewObjectID(),
		Name:         name,
		CoachID:      "coach-1",
		TriggerEvent: trigger,
		IsActive:     active,
		Actions:      actions,
	}
}

func TestEngine_LeadCreatedTagsThenDelaysWhatsApp(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityLead, "L1", map[string]interface{}{"leadId": "L1", "name": "Jane"})
	f.rules.rules = []Rule{rule("welcome", "lead_created", true,
		Action{Type: "add_lead_tag", Config: map[string]interface{}{"tag": "new"}},
		Action{Type: "send_whatsapp_message", Config: map[string]interface{}{"delayMinutes": 60.0, "message": "hi"}},
	)}

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{
		"eventName": "lead_created",
		"payload":   map[string]interface{}{"leadId": "L1"},
	}))
	require.NoError(t, err)

	require.Len(t, f.publisher.published, 2)

	immediate := f.publisher.published[0]
	assert.False(t, immediate.delayed)
	assert.Equal(t, "add_lead_tag", immediate.actionType)
	assert.Equal(t, "add_lead_tag", immediate.message.ActionType)
	assert.Equal(t, "new", immediate.message.Config["tag"])

	delayed := f.publisher.published[1]
	assert.True(t, delayed.delayed)
	assert.Equal(t, int64(3600000), delayed.delay.Milliseconds())
	relatedDoc, ok := delayed.message.Payload["relatedDoc"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "L1", relatedDoc["leadId"])
	assert.Equal(t, "2026-03-01T10:00:00.000Z", delayed.message.Payload["timestamp"])
	assert.Equal(t, "lead_created", delayed.message.Payload["eventName"])
}

func TestEngine_EntityRouting(t *testing.T) {
	tests := []struct {
		event string
		kind  EntityKind
		field string
	}{
		{"lead_created", EntityLead, "leadId"},
		{"funnel_step_completed", EntityLead, "leadId"},
		{"form_submitted", EntityLead, "leadId"},
		{"content_consumed", EntityLead, "leadId"},
		{"whatsapp_message_received", EntityLead, "leadId"},
		{"appointment_booked", EntityAppointment, "appointmentId"},
		{"task_completed", EntityAppointment, "appointmentId"},
		{"payment_successful", EntityPayment, "paymentId"},
		{"invoice_paid", EntityPayment, "paymentId"},
		{"subscription_cancelled", EntityPayment, "paymentId"},
		{"card_expiring", EntityPayment, "paymentId"},
		{"coach.inactive", EntityCoach, "coachId"},
	}

	for _, tt := range tests {
		t.Run(tt.event+"/top-level", func(t *testing.T) {
			f := newFixture(t, nil)
			err := f.engine.Handle(context.Background(), eventDelivery(t, tt.event, map[string]interface{}{
				"eventName": tt.event,
				tt.field:    "X1",
			}))
			require.NoError(t, err)
			assert.Equal(t, []lookup{{tt.kind, "X1"}}, f.store.lookups)
		})

		t.Run(tt.event+"/nested", func(t *testing.T) {
			f := newFixture(t, nil)
			err := f.engine.Handle(context.Background(), eventDelivery(t, tt.event, map[string]interface{}{
				"eventName": tt.event,
				"payload":   map[string]interface{}{tt.field: "X2"},
			}))
			require.NoError(t, err)
			assert.Equal(t, []lookup{{tt.kind, "X2"}}, f.store.lookups)
		})
	}
}

func TestEngine_UnknownEventIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.rules.rules = []Rule{rule("r", "webinar_joined", true, Action{Type: "send_email"})}

	for _, name := range []string{"webinar_joined", "coach.inactive_extra", "coach_inactive"} {
		err := f.engine.Handle(context.Background(), eventDelivery(t, name, map[string]interface{}{
			"eventName": name,
			"payload":   map[string]interface{}{"leadId": "L1", "coachId": "C1"},
		}))
		require.NoError(t, err)
	}

	assert.Empty(t, f.store.lookups)
	assert.Empty(t, f.rules.queries)
	assert.Empty(t, f.publisher.published)
}

func TestEngine_MissingEntityIsAcked(t *testing.T) {
	f := newFixture(t, nil)
	f.rules.rules = []Rule{rule("r", "lead_created", true, Action{Type: "send_email"})}

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{
		"payload": map[string]interface{}{"leadId": "gone"},
	}))
	require.NoError(t, err)

	assert.Len(t, f.store.lookups, 1)
	assert.Empty(t, f.rules.queries)
	assert.Empty(t, f.publisher.published)
}

func TestEngine_MissingReferenceIsAcked(t *testing.T) {
	f := newFixture(t, nil)

	err := f.engine.Handle(context.Background(), eventDelivery(t, "payment_failed", map[string]interface{}{
		"payload": map[string]interface{}{"leadId": "L1"},
	}))
	require.NoError(t, err)
	assert.Empty(t, f.store.lookups)
}

func TestEngine_FanOut(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityAppointment, "A1", map[string]interface{}{"_id": "A1"})

	const n, m = 3, 4
	for i := 0; i < n; i++ {
		var actions []Action
		for j := 0; j < m; j++ {
			actions = append(actions, Action{Type: "create_task"})
		}
		f.rules.rules = append(f.rules.rules, rule("r", "appointment_booked", true, actions...))
	}

	err := f.engine.Handle(context.Background(), eventDelivery(t, "appointment_booked", map[string]interface{}{
		"appointmentId": "A1",
	}))
	require.NoError(t, err)

	require.Len(t, f.publisher.published, n*m)
	for _, p := range f.publisher.published {
		assert.Equal(t, map[string]interface{}{"_id": "A1"}, p.message.Payload["relatedDoc"])
		assert.NotEmpty(t, p.message.Payload["timestamp"])
	}
}

func TestEngine_InactiveAndMismatchedRulesExcluded(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityPayment, "P1", map[string]interface{}{"amount": 100.0})
	f.rules.rules = []Rule{
		rule("inactive", "payment_successful", false, Action{Type: "send_email"}),
		rule("other", "payment_failed", true, Action{Type: "send_sms"}),
		rule("live", "payment_successful", true, Action{Type: "create_invoice"}),
	}

	err := f.engine.Handle(context.Background(), eventDelivery(t, "payment_successful", map[string]interface{}{
		"paymentId": "P1",
	}))
	require.NoError(t, err)

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, "create_invoice", f.publisher.published[0].actionType)
}

func TestEngine_NoRulesIsAcked(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityLead, "L1", map[string]interface{}{})

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{"leadId": "L1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"lead_created"}, f.rules.queries)
}

func TestEngine_MalformedBodyIsFatal(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{"not json", "", "[1,2]", "null"} {
		err := f.engine.Handle(context.Background(), broker.Delivery{RoutingKey: "lead_created", Body: []byte(body)})
		require.Error(t, err, body)
		assert.True(t, retry.IsFatal(err), body)
	}
	assert.Empty(t, f.store.lookups)
}

func TestEngine_StoreErrorIsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = errors.New("connection reset")

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{"leadId": "L1"}))
	require.Error(t, err)
	assert.False(t, retry.IsFatal(err))
}

func TestEngine_RuleQueryErrorNacks(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityLead, "L1", map[string]interface{}{})
	f.rules.err = errors.New("cursor killed")

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{"leadId": "L1"}))
	assert.Error(t, err)
}

func TestEngine_PublishErrorNacks(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityLead, "L1", map[string]interface{}{})
	f.publisher.failOn = "send_sms"
	f.rules.rules = []Rule{rule("r", "lead_created", true,
		Action{Type: "add_lead_tag"},
		Action{Type: "send_sms"},
	)}

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{"leadId": "L1"}))
	require.Error(t, err)
	assert.False(t, retry.IsFatal(err))
}

func TestEngine_EventNameFallsBackToBody(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.Handle(context.Background(), broker.Delivery{
		Body: []byte(`{"eventName":"lead_created","payload":{"leadId":"L9"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []lookup{{EntityLead, "L9"}}, f.store.lookups)
}

func TestEngine_ConditionsEvaluatedWhenEnabled(t *testing.T) {
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	f := newFixture(t, evaluator)
	f.store.put(EntityLead, "L1", map[string]interface{}{"status": "new", "source": "ads"})

	matching := rule("matching", "lead_created", true, Action{Type: "add_lead_tag"})
	matching.TriggerConditions = []Condition{{Field: "status", Operator: "equals", Value: "new"}}

	failing := rule("failing", "lead_created", true, Action{Type: "send_email"})
	failing.TriggerConditions = []Condition{
		{Field: "status", Operator: "equals", Value: "new"},
		{Field: "source", Operator: "equals", Value: "referral"},
	}

	either := rule("either", "lead_created", true, Action{Type: "send_sms"})
	either.TriggerConditionLogic = "OR"
	either.TriggerConditions = failing.TriggerConditions

	unconditional := rule("unconditional", "lead_created", true, Action{Type: "create_task"})

	f.rules.rules = []Rule{matching, failing, either, unconditional}

	err = f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{"leadId": "L1"}))
	require.NoError(t, err)

	var types []string
	for _, p := range f.publisher.published {
		types = append(types, p.actionType)
	}
	assert.Equal(t, []string{"add_lead_tag", "send_sms", "create_task"}, types)
}

func TestEngine_ConditionsIgnoredByDefault(t *testing.T) {
	f := newFixture(t, nil)
	f.store.put(EntityLead, "L1", map[string]interface{}{"status": "won"})

	r := rule("r", "lead_created", true, Action{Type: "add_lead_tag"})
	r.TriggerConditions = []Condition{{Field: "status", Operator: "equals", Value: "new"}}
	f.rules.rules = []Rule{r}

	err := f.engine.Handle(context.Background(), eventDelivery(t, "lead_created", map[string]interface{}{"leadId": "L1"}))
	require.NoError(t, err)
	assert.Len(t, f.publisher.published, 1)
}
