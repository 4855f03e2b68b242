//go:build integration

package management

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachflow/internal/automation"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/testinfra"
	pkgerrors "coachflow/pkg/errors"
	"coachflow/pkg/migrations"
)

func setupRepository(t *testing.T) (*MongoRepository, *testinfra.TestInfra) {
	t.Helper()
	infra := testinfra.Setup(t, testinfra.Options{Mongo: true, Postgres: true})

	ctx := context.Background()
	require.NoError(t, migrations.EnsureRuleIndexes(ctx, infra.MongoDB, constants.CollectionAutomationRules))
	require.NoError(t, migrations.EnsureRuleIndexes(ctx, infra.MongoDB, constants.CollectionAutomationRules))

	return NewRepository(infra.MongoDB, constants.CollectionAutomationRules), infra
}

func TestMongoRepository_CRUD(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	rule := &automation.Rule{
		Name:         "welcome",
		CoachID:      "c1",
		TriggerEvent: "lead_created",
		IsActive:     true,
		Actions:      []automation.Action{{Type: "add_lead_tag"}},
	}
	require.NoError(t, repo.Create(ctx, rule))
	assert.False(t, rule.ID.IsZero())
	assert.False(t, rule.CreatedAt.IsZero())

	got, err := repo.Get(ctx, rule.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "welcome", got.Name)

	got.IsActive = false
	require.NoError(t, repo.Update(ctx, got))

	inactive := false
	rules, err := repo.List(ctx, ListFilter{CoachID: "c1", IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	require.NoError(t, repo.Delete(ctx, rule.ID.Hex()))

	got, err = repo.Get(ctx, rule.ID.Hex())
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.True(t, pkgerrors.IsNotFound(repo.Delete(ctx, rule.ID.Hex())))
	assert.True(t, pkgerrors.IsNotFound(repo.Update(ctx, rule)))
}

func TestMongoRepository_InvalidIDIsNotFound(t *testing.T) {
	repo, _ := setupRepository(t)

	got, err := repo.Get(context.Background(), "not-an-object-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMongoRepository_DuplicateName(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &automation.Rule{Name: "same", CoachID: "c1", TriggerEvent: "lead_created"}))
	err := repo.Create(ctx, &automation.Rule{Name: "same", CoachID: "c2", TriggerEvent: "lead_created"})
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestService_WithMongoAndAudit(t *testing.T) {
	repo, infra := setupRepository(t)
	validator, err := NewValidator()
	require.NoError(t, err)

	svc := NewService(repo, validator, WithAudit(NewAuditLogger(infra.PostgresDB)), WithLogger(logger.NopLogger()))
	ctx := WithChangedBy(context.Background(), "user-1", "192.0.2.10")

	rule, err := svc.CreateRule(ctx, validCreateRequest("audited"))
	require.NoError(t, err)

	_, err = svc.ToggleRule(ctx, rule.ID.Hex())
	require.NoError(t, err)

	logs, err := svc.GetAuditLogs(ctx, rule.ID.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, AuditActionToggle, logs[0].Action)
	assert.Equal(t, AuditActionCreate, logs[1].Action)
	assert.Equal(t, "user-1", logs[0].ChangedBy)
	assert.Equal(t, "192.0.2.10", logs[0].IPAddress)
	assert.Equal(t, true, logs[0].OldValue["isActive"])
	assert.Equal(t, false, logs[0].NewValue["isActive"])
	assert.Nil(t, logs[1].OldValue)
}
