// Package mocks provides testify mocks of the key manager use cases for handler
// and decorator tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// MockGate is a mock implementation of Gate.
type MockGate struct {
	mock.Mock
}

// FetchMasterSecret mocks the FetchMasterSecret method of Gate.
func (m *MockGate) FetchMasterSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	args := m.Called(ctx, session, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReleasedSecret), args.Error(1)
}

// FetchEphemeralSecret mocks the FetchEphemeralSecret method of Gate.
func (m *MockGate) FetchEphemeralSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	args := m.Called(ctx, session, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReleasedSecret), args.Error(1)
}

// Status mocks the Status method of Gate.
func (m *MockGate) Status(ctx context.Context, runtimeID string) (*domain.Status, error) {
	args := m.Called(ctx, runtimeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Status), args.Error(1)
}

// SignedStatus mocks the SignedStatus method of Gate.
func (m *MockGate) SignedStatus(ctx context.Context, runtimeID string) (*domain.SignedStatus, error) {
	args := m.Called(ctx, runtimeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SignedStatus), args.Error(1)
}

// MockPolicyEngine is a mock implementation of PolicyEngine.
type MockPolicyEngine struct {
	mock.Mock
}

// Submit mocks the Submit method of PolicyEngine.
func (m *MockPolicyEngine) Submit(ctx context.Context, signed *domain.SignedPolicy) error {
	return m.Called(ctx, signed).Error(0)
}

// Authorize mocks the Authorize method of PolicyEngine.
func (m *MockPolicyEngine) Authorize(ctx context.Context, measurement, runtimeID string) (bool, error) {
	args := m.Called(ctx, measurement, runtimeID)
	return args.Bool(0), args.Error(1)
}

// Current mocks the Current method of PolicyEngine.
func (m *MockPolicyEngine) Current(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error) {
	args := m.Called(ctx, runtimeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SignedPolicy), args.Error(1)
}

// MockMasterSecretManager is a mock implementation of MasterSecretManager.
type MockMasterSecretManager struct {
	mock.Mock
}

// Generate mocks the Generate method of MasterSecretManager.
func (m *MockMasterSecretManager) Generate(
	ctx context.Context,
	runtimeID string,
	generation uint64,
) (*domain.MasterSecret, error) {
	args := m.Called(ctx, runtimeID, generation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MasterSecret), args.Error(1)
}

// Fetch mocks the Fetch method of MasterSecretManager.
func (m *MockMasterSecretManager) Fetch(
	ctx context.Context,
	runtimeID string,
	generation uint64,
) (*domain.MasterSecret, error) {
	args := m.Called(ctx, runtimeID, generation)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MasterSecret), args.Error(1)
}

// Latest mocks the Latest method of MasterSecretManager.
func (m *MockMasterSecretManager) Latest(ctx context.Context, runtimeID string) (uint64, bool, error) {
	args := m.Called(ctx, runtimeID)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

// Import mocks the Import method of MasterSecretManager.
func (m *MockMasterSecretManager) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.MasterSecret, error) {
	args := m.Called(ctx, sealed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MasterSecret), args.Error(1)
}

// Export mocks the Export method of MasterSecretManager.
func (m *MockMasterSecretManager) Export(
	ctx context.Context,
	runtimeID string,
	generation uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	args := m.Called(ctx, runtimeID, generation, peerREK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SealedSecret), args.Error(1)
}

// MockEphemeralSecretManager is a mock implementation of EphemeralSecretManager.
type MockEphemeralSecretManager struct {
	mock.Mock
}

// Generate mocks the Generate method of EphemeralSecretManager.
func (m *MockEphemeralSecretManager) Generate(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	args := m.Called(ctx, runtimeID, epoch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralSecret), args.Error(1)
}

// Fetch mocks the Fetch method of EphemeralSecretManager.
func (m *MockEphemeralSecretManager) Fetch(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	args := m.Called(ctx, runtimeID, epoch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralSecret), args.Error(1)
}

// Latest mocks the Latest method of EphemeralSecretManager.
func (m *MockEphemeralSecretManager) Latest(ctx context.Context, runtimeID string) (uint64, bool, error) {
	args := m.Called(ctx, runtimeID)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

// Publish mocks the Publish method of EphemeralSecretManager.
func (m *MockEphemeralSecretManager) Publish(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	args := m.Called(ctx, runtimeID, epoch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralSecret), args.Error(1)
}

// Import mocks the Import method of EphemeralSecretManager.
func (m *MockEphemeralSecretManager) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.EphemeralSecret, error) {
	args := m.Called(ctx, sealed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EphemeralSecret), args.Error(1)
}

// Export mocks the Export method of EphemeralSecretManager.
func (m *MockEphemeralSecretManager) Export(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	args := m.Called(ctx, runtimeID, epoch, peerREK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SealedSecret), args.Error(1)
}

// MockReplicationCoordinator is a mock implementation of ReplicationCoordinator.
type MockReplicationCoordinator struct {
	mock.Mock
}

// Ack mocks the Ack method of ReplicationCoordinator.
func (m *MockReplicationCoordinator) Ack(
	ctx context.Context,
	key domain.RecordKey,
	replicaID string,
	checksum []byte,
) error {
	return m.Called(ctx, key, replicaID, checksum).Error(0)
}

// IsReplicated mocks the IsReplicated method of ReplicationCoordinator.
func (m *MockReplicationCoordinator) IsReplicated(ctx context.Context, key domain.RecordKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// Acks mocks the Acks method of ReplicationCoordinator.
func (m *MockReplicationCoordinator) Acks(ctx context.Context, key domain.RecordKey) ([]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Threshold mocks the Threshold method of ReplicationCoordinator.
func (m *MockReplicationCoordinator) Threshold(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MarkPublished mocks the MarkPublished method of ReplicationCoordinator.
func (m *MockReplicationCoordinator) MarkPublished(ctx context.Context, runtimeID string, epoch uint64) error {
	return m.Called(ctx, runtimeID, epoch).Error(0)
}

// IsPublished mocks the IsPublished method of ReplicationCoordinator.
func (m *MockReplicationCoordinator) IsPublished(ctx context.Context, runtimeID string, epoch uint64) (bool, error) {
	args := m.Called(ctx, runtimeID, epoch)
	return args.Bool(0), args.Error(1)
}

// MockAuditLogUseCase is a mock implementation of AuditLogUseCase.
type MockAuditLogUseCase struct {
	mock.Mock
}

// Record mocks the Record method of AuditLogUseCase.
func (m *MockAuditLogUseCase) Record(ctx context.Context, entry *domain.AuditLog) error {
	return m.Called(ctx, entry).Error(0)
}

// Verify mocks the Verify method of AuditLogUseCase.
func (m *MockAuditLogUseCase) Verify(
	ctx context.Context,
	from, to time.Time,
) (*domain.AuditVerificationReport, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuditVerificationReport), args.Error(1)
}
