package usecase

import (
	"context"
	"time"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/metrics"
)

// outcome labels a finished operation: success, its condition code, or a
// generic error for failures outside the condition taxonomy.
func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if code := domain.CodeOf(err); code != domain.CodeOther {
		return string(code)
	}
	return metrics.OutcomeError
}

func observe(ctx context.Context, m metrics.BusinessMetrics, component, operation string, start time.Time, err error) {
	result := outcome(err)
	m.RecordOperation(ctx, component, operation, result)
	m.RecordDuration(ctx, component, operation, time.Since(start), result)
}

// gateWithMetrics decorates Gate with metrics instrumentation.
type gateWithMetrics struct {
	next    Gate
	metrics metrics.BusinessMetrics
}

// NewGateWithMetrics wraps a Gate with metrics recording.
func NewGateWithMetrics(gate Gate, m metrics.BusinessMetrics) Gate {
	return &gateWithMetrics{next: gate, metrics: m}
}

func (g *gateWithMetrics) FetchMasterSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	start := time.Now()
	released, err := g.next.FetchMasterSecret(ctx, session, req)
	observe(ctx, g.metrics, "gate", "fetch_master", start, err)
	if err == nil {
		g.metrics.RecordRelease(ctx, string(domain.KindMaster), released.Sealed != nil)
	}
	return released, err
}

func (g *gateWithMetrics) FetchEphemeralSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	start := time.Now()
	released, err := g.next.FetchEphemeralSecret(ctx, session, req)
	observe(ctx, g.metrics, "gate", "fetch_ephemeral", start, err)
	if err == nil {
		g.metrics.RecordRelease(ctx, string(domain.KindEphemeral), released.Sealed != nil)
	}
	return released, err
}

func (g *gateWithMetrics) Status(ctx context.Context, runtimeID string) (*domain.Status, error) {
	start := time.Now()
	status, err := g.next.Status(ctx, runtimeID)
	observe(ctx, g.metrics, "gate", "status", start, err)
	return status, err
}

func (g *gateWithMetrics) SignedStatus(ctx context.Context, runtimeID string) (*domain.SignedStatus, error) {
	start := time.Now()
	status, err := g.next.SignedStatus(ctx, runtimeID)
	observe(ctx, g.metrics, "gate", "signed_status", start, err)
	return status, err
}

// policyEngineWithMetrics decorates PolicyEngine with metrics instrumentation.
type policyEngineWithMetrics struct {
	next    PolicyEngine
	metrics metrics.BusinessMetrics
}

// NewPolicyEngineWithMetrics wraps a PolicyEngine with metrics recording.
// Authorize is called on every fetch and is measured through the gate instead.
func NewPolicyEngineWithMetrics(engine PolicyEngine, m metrics.BusinessMetrics) PolicyEngine {
	return &policyEngineWithMetrics{next: engine, metrics: m}
}

func (p *policyEngineWithMetrics) Submit(ctx context.Context, signed *domain.SignedPolicy) error {
	start := time.Now()
	err := p.next.Submit(ctx, signed)
	observe(ctx, p.metrics, "policy", "submit", start, err)
	return err
}

func (p *policyEngineWithMetrics) Authorize(ctx context.Context, measurement, runtimeID string) (bool, error) {
	return p.next.Authorize(ctx, measurement, runtimeID)
}

func (p *policyEngineWithMetrics) Current(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error) {
	return p.next.Current(ctx, runtimeID)
}

// masterSecretManagerWithMetrics decorates MasterSecretManager with metrics instrumentation.
type masterSecretManagerWithMetrics struct {
	next    MasterSecretManager
	metrics metrics.BusinessMetrics
}

// NewMasterSecretManagerWithMetrics wraps a MasterSecretManager with metrics recording.
func NewMasterSecretManagerWithMetrics(manager MasterSecretManager, m metrics.BusinessMetrics) MasterSecretManager {
	return &masterSecretManagerWithMetrics{next: manager, metrics: m}
}

func (s *masterSecretManagerWithMetrics) Generate(
	ctx context.Context,
	runtimeID string,
	generation uint64,
) (*domain.MasterSecret, error) {
	start := time.Now()
	secret, err := s.next.Generate(ctx, runtimeID, generation)
	observe(ctx, s.metrics, "master", "generate", start, err)
	return secret, err
}

func (s *masterSecretManagerWithMetrics) Fetch(
	ctx context.Context,
	runtimeID string,
	generation uint64,
) (*domain.MasterSecret, error) {
	return s.next.Fetch(ctx, runtimeID, generation)
}

func (s *masterSecretManagerWithMetrics) Latest(ctx context.Context, runtimeID string) (uint64, bool, error) {
	return s.next.Latest(ctx, runtimeID)
}

func (s *masterSecretManagerWithMetrics) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.MasterSecret, error) {
	start := time.Now()
	secret, err := s.next.Import(ctx, sealed)
	observe(ctx, s.metrics, "master", "import", start, err)
	return secret, err
}

func (s *masterSecretManagerWithMetrics) Export(
	ctx context.Context,
	runtimeID string,
	generation uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	start := time.Now()
	sealed, err := s.next.Export(ctx, runtimeID, generation, peerREK)
	observe(ctx, s.metrics, "master", "export", start, err)
	return sealed, err
}

// ephemeralSecretManagerWithMetrics decorates EphemeralSecretManager with metrics instrumentation.
type ephemeralSecretManagerWithMetrics struct {
	next    EphemeralSecretManager
	metrics metrics.BusinessMetrics
}

// NewEphemeralSecretManagerWithMetrics wraps an EphemeralSecretManager with metrics recording.
func NewEphemeralSecretManagerWithMetrics(
	manager EphemeralSecretManager,
	m metrics.BusinessMetrics,
) EphemeralSecretManager {
	return &ephemeralSecretManagerWithMetrics{next: manager, metrics: m}
}

func (s *ephemeralSecretManagerWithMetrics) Generate(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	start := time.Now()
	secret, err := s.next.Generate(ctx, runtimeID, epoch)
	observe(ctx, s.metrics, "ephemeral", "generate", start, err)
	return secret, err
}

func (s *ephemeralSecretManagerWithMetrics) Fetch(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	return s.next.Fetch(ctx, runtimeID, epoch)
}

func (s *ephemeralSecretManagerWithMetrics) Latest(ctx context.Context, runtimeID string) (uint64, bool, error) {
	return s.next.Latest(ctx, runtimeID)
}

func (s *ephemeralSecretManagerWithMetrics) Publish(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
) (*domain.EphemeralSecret, error) {
	start := time.Now()
	secret, err := s.next.Publish(ctx, runtimeID, epoch)
	observe(ctx, s.metrics, "ephemeral", "publish", start, err)
	return secret, err
}

func (s *ephemeralSecretManagerWithMetrics) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.EphemeralSecret, error) {
	start := time.Now()
	secret, err := s.next.Import(ctx, sealed)
	observe(ctx, s.metrics, "ephemeral", "import", start, err)
	return secret, err
}

func (s *ephemeralSecretManagerWithMetrics) Export(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	start := time.Now()
	sealed, err := s.next.Export(ctx, runtimeID, epoch, peerREK)
	observe(ctx, s.metrics, "ephemeral", "export", start, err)
	return sealed, err
}
