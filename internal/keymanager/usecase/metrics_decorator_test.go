package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	usecaseMocks "github.com/allisson/keymanager/internal/keymanager/usecase/mocks"
	"github.com/allisson/keymanager/internal/metrics"
)

type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, component, operation, outcome string) {
	m.Called(ctx, component, operation, outcome)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	component, operation string,
	duration time.Duration,
	outcome string,
) {
	m.Called(ctx, component, operation, duration, outcome)
}

func (m *mockBusinessMetrics) RecordRelease(ctx context.Context, kind string, sealed bool) {
	m.Called(ctx, kind, sealed)
}

var _ metrics.BusinessMetrics = (*mockBusinessMetrics)(nil)

func expectOperation(m *mockBusinessMetrics, ctx context.Context, component, operation, outcome string) {
	m.On("RecordOperation", ctx, component, operation, outcome).Return().Once()
	m.On("RecordDuration", ctx, component, operation, mock.AnythingOfType("time.Duration"), outcome).
		Return().
		Once()
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "height_not_fresh", outcome(domain.ErrHeightNotFresh))
	assert.Equal(t, "invalid_epoch", outcome(domain.NewInvalidEpochError(4, 2)))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}

func TestGateWithMetrics(t *testing.T) {
	ctx := context.Background()
	session := testSession()
	req := &domain.FetchRequest{RuntimeID: testRuntime, Height: 100}

	t.Run("records a sealed release", func(t *testing.T) {
		gate := &usecaseMocks.MockGate{}
		m := &mockBusinessMetrics{}
		released := &domain.ReleasedSecret{Kind: domain.KindMaster, Sealed: []byte("box")}

		gate.On("FetchMasterSecret", ctx, session, req).Return(released, nil).Once()
		expectOperation(m, ctx, "gate", "fetch_master", "success")
		m.On("RecordRelease", ctx, "master", true).Return().Once()

		got, err := NewGateWithMetrics(gate, m).FetchMasterSecret(ctx, session, req)
		assert.NoError(t, err)
		assert.Equal(t, released, got)
		gate.AssertExpectations(t)
		m.AssertExpectations(t)
	})

	t.Run("records the condition of a refusal", func(t *testing.T) {
		gate := &usecaseMocks.MockGate{}
		m := &mockBusinessMetrics{}

		gate.On("FetchEphemeralSecret", ctx, session, req).Return(nil, domain.ErrNotAuthorized).Once()
		expectOperation(m, ctx, "gate", "fetch_ephemeral", "not_authorized")

		_, err := NewGateWithMetrics(gate, m).FetchEphemeralSecret(ctx, session, req)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
		m.AssertNotCalled(t, "RecordRelease", mock.Anything, mock.Anything, mock.Anything)
		m.AssertExpectations(t)
	})

	t.Run("status", func(t *testing.T) {
		gate := &usecaseMocks.MockGate{}
		m := &mockBusinessMetrics{}

		gate.On("Status", ctx, testRuntime).Return(&domain.Status{RuntimeID: testRuntime}, nil).Once()
		gate.On("SignedStatus", ctx, testRuntime).Return(nil, domain.ErrRSKMissing).Once()
		expectOperation(m, ctx, "gate", "status", "success")
		expectOperation(m, ctx, "gate", "signed_status", "rsk_missing")

		decorated := NewGateWithMetrics(gate, m)
		_, err := decorated.Status(ctx, testRuntime)
		assert.NoError(t, err)
		_, err = decorated.SignedStatus(ctx, testRuntime)
		assert.ErrorIs(t, err, domain.ErrRSKMissing)
		m.AssertExpectations(t)
	})
}

func TestPolicyEngineWithMetrics(t *testing.T) {
	ctx := context.Background()
	engine := &usecaseMocks.MockPolicyEngine{}
	m := &mockBusinessMetrics{}
	signed := &domain.SignedPolicy{Policy: testPolicy(1)}

	engine.On("Submit", ctx, signed).Return(domain.ErrPolicyRollback).Once()
	engine.On("Authorize", ctx, testMeasurement, testRuntime).Return(true, nil).Once()
	expectOperation(m, ctx, "policy", "submit", "policy_rollback")

	decorated := NewPolicyEngineWithMetrics(engine, m)
	assert.ErrorIs(t, decorated.Submit(ctx, signed), domain.ErrPolicyRollback)

	authorized, err := decorated.Authorize(ctx, testMeasurement, testRuntime)
	assert.NoError(t, err)
	assert.True(t, authorized)

	engine.AssertExpectations(t)
	m.AssertExpectations(t)
}

func TestSecretManagersWithMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("master", func(t *testing.T) {
		manager := &usecaseMocks.MockMasterSecretManager{}
		m := &mockBusinessMetrics{}

		manager.On("Generate", ctx, testRuntime, uint64(1)).Return(nil, domain.ErrReplicationRequired).Once()
		manager.On("Latest", ctx, testRuntime).Return(uint64(0), true, nil).Once()
		expectOperation(m, ctx, "master", "generate", "replication_required")

		decorated := NewMasterSecretManagerWithMetrics(manager, m)
		_, err := decorated.Generate(ctx, testRuntime, 1)
		assert.ErrorIs(t, err, domain.ErrReplicationRequired)

		latest, found, err := decorated.Latest(ctx, testRuntime)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, uint64(0), latest)

		manager.AssertExpectations(t)
		m.AssertExpectations(t)
	})

	t.Run("ephemeral", func(t *testing.T) {
		manager := &usecaseMocks.MockEphemeralSecretManager{}
		m := &mockBusinessMetrics{}
		secret := &domain.EphemeralSecret{RuntimeID: testRuntime, Epoch: 5, Published: true}

		manager.On("Publish", ctx, testRuntime, uint64(5)).Return(secret, nil).Once()
		expectOperation(m, ctx, "ephemeral", "publish", "success")

		got, err := NewEphemeralSecretManagerWithMetrics(manager, m).Publish(ctx, testRuntime, 5)
		assert.NoError(t, err)
		assert.Equal(t, secret, got)

		manager.AssertExpectations(t)
		m.AssertExpectations(t)
	})
}
