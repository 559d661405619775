package usecase

import (
	"context"
	"log/slog"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	"github.com/allisson/keymanager/internal/keymanager/domain"
)

// auditor appends entries for the audit decorators. Releases and exports
// fail closed: material is never handed out without its entry. Refusals and
// state changes that already happened are logged when the entry cannot be written.
type auditor struct {
	audit  AuditLogUseCase
	logger *slog.Logger
}

func (a auditor) record(ctx context.Context, entry *domain.AuditLog, opErr error) error {
	entry.Outcome = outcome(opErr)
	err := a.audit.Record(ctx, entry)
	if err != nil {
		a.logger.Error("failed to record audit log",
			slog.String("action", string(entry.Action)),
			slog.String("runtime_id", entry.RuntimeID),
			slog.String("kind", string(entry.Kind)),
			slog.Uint64("version", entry.Version),
			slog.String("outcome", entry.Outcome),
			slog.Any("error", err))
	}
	return err
}

// gateWithAudit records every release decision of a Gate.
type gateWithAudit struct {
	next Gate
	auditor
}

// NewGateWithAudit wraps a Gate so that each fetch, granted or refused, leaves a signed audit entry.
func NewGateWithAudit(gate Gate, audit AuditLogUseCase, logger *slog.Logger) Gate {
	return &gateWithAudit{next: gate, auditor: auditor{audit: audit, logger: logger}}
}

func (g *gateWithAudit) FetchMasterSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	released, err := g.next.FetchMasterSecret(ctx, session, req)
	return g.recordRelease(ctx, session, req, domain.KindMaster, released, err)
}

func (g *gateWithAudit) FetchEphemeralSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	released, err := g.next.FetchEphemeralSecret(ctx, session, req)
	return g.recordRelease(ctx, session, req, domain.KindEphemeral, released, err)
}

func (g *gateWithAudit) recordRelease(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
	kind domain.Kind,
	released *domain.ReleasedSecret,
	err error,
) (*domain.ReleasedSecret, error) {
	entry := &domain.AuditLog{
		Action:   domain.AuditActionRelease,
		Identity: domain.ActorFromContext(ctx),
		Kind:     kind,
	}
	if session != nil {
		entry.Identity = session.Identity
	}
	if req != nil {
		entry.RuntimeID = req.RuntimeID
		entry.Version = req.Version
	}

	if auditErr := g.record(ctx, entry, err); auditErr != nil && err == nil {
		cryptoDomain.Zero(released.Secret)
		return nil, auditErr
	}
	return released, err
}

func (g *gateWithAudit) Status(ctx context.Context, runtimeID string) (*domain.Status, error) {
	return g.next.Status(ctx, runtimeID)
}

func (g *gateWithAudit) SignedStatus(ctx context.Context, runtimeID string) (*domain.SignedStatus, error) {
	return g.next.SignedStatus(ctx, runtimeID)
}

// policyEngineWithAudit records policy submissions.
type policyEngineWithAudit struct {
	next PolicyEngine
	auditor
}

// NewPolicyEngineWithAudit wraps a PolicyEngine so that each Submit leaves a signed audit entry.
func NewPolicyEngineWithAudit(engine PolicyEngine, audit AuditLogUseCase, logger *slog.Logger) PolicyEngine {
	return &policyEngineWithAudit{next: engine, auditor: auditor{audit: audit, logger: logger}}
}

func (p *policyEngineWithAudit) Submit(ctx context.Context, signed *domain.SignedPolicy) error {
	err := p.next.Submit(ctx, signed)

	entry := &domain.AuditLog{
		Action:   domain.AuditActionPolicySubmit,
		Identity: domain.ActorFromContext(ctx),
	}
	if signed != nil {
		entry.RuntimeID = signed.Policy.RuntimeID
		entry.Version = signed.Policy.Serial
	}
	_ = p.record(ctx, entry, err)

	return err
}

func (p *policyEngineWithAudit) Authorize(ctx context.Context, measurement, runtimeID string) (bool, error) {
	return p.next.Authorize(ctx, measurement, runtimeID)
}

func (p *policyEngineWithAudit) Current(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error) {
	return p.next.Current(ctx, runtimeID)
}

func (a auditor) recordExport(
	ctx context.Context,
	runtimeID string,
	kind domain.Kind,
	version uint64,
	sealed *domain.SealedSecret,
	err error,
) (*domain.SealedSecret, error) {
	entry := &domain.AuditLog{
		Action:    domain.AuditActionExport,
		Identity:  domain.ActorFromContext(ctx),
		RuntimeID: runtimeID,
		Kind:      kind,
		Version:   version,
	}
	if auditErr := a.record(ctx, entry, err); auditErr != nil && err == nil {
		return nil, auditErr
	}
	return sealed, err
}

func (a auditor) recordImport(ctx context.Context, sealed *domain.SealedSecret, err error) {
	entry := &domain.AuditLog{
		Action:   domain.AuditActionImport,
		Identity: domain.ActorFromContext(ctx),
	}
	if sealed != nil {
		entry.RuntimeID = sealed.RuntimeID
		entry.Kind = sealed.Kind
		entry.Version = sealed.Version
	}
	_ = a.record(ctx, entry, err)
}

// masterSecretManagerWithAudit records master secret exports and imports.
type masterSecretManagerWithAudit struct {
	MasterSecretManager
	auditor
}

// NewMasterSecretManagerWithAudit wraps a MasterSecretManager so that replication
// transfers leave signed audit entries.
func NewMasterSecretManagerWithAudit(
	manager MasterSecretManager,
	audit AuditLogUseCase,
	logger *slog.Logger,
) MasterSecretManager {
	return &masterSecretManagerWithAudit{
		MasterSecretManager: manager,
		auditor:             auditor{audit: audit, logger: logger},
	}
}

func (s *masterSecretManagerWithAudit) Export(
	ctx context.Context,
	runtimeID string,
	generation uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	sealed, err := s.MasterSecretManager.Export(ctx, runtimeID, generation, peerREK)
	return s.recordExport(ctx, runtimeID, domain.KindMaster, generation, sealed, err)
}

func (s *masterSecretManagerWithAudit) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.MasterSecret, error) {
	secret, err := s.MasterSecretManager.Import(ctx, sealed)
	s.recordImport(ctx, sealed, err)
	return secret, err
}

// ephemeralSecretManagerWithAudit records ephemeral secret exports and imports.
type ephemeralSecretManagerWithAudit struct {
	EphemeralSecretManager
	auditor
}

// NewEphemeralSecretManagerWithAudit wraps an EphemeralSecretManager so that
// replication transfers leave signed audit entries.
func NewEphemeralSecretManagerWithAudit(
	manager EphemeralSecretManager,
	audit AuditLogUseCase,
	logger *slog.Logger,
) EphemeralSecretManager {
	return &ephemeralSecretManagerWithAudit{
		EphemeralSecretManager: manager,
		auditor:                auditor{audit: audit, logger: logger},
	}
}

func (s *ephemeralSecretManagerWithAudit) Export(
	ctx context.Context,
	runtimeID string,
	epoch uint64,
	peerREK []byte,
) (*domain.SealedSecret, error) {
	sealed, err := s.EphemeralSecretManager.Export(ctx, runtimeID, epoch, peerREK)
	return s.recordExport(ctx, runtimeID, domain.KindEphemeral, epoch, sealed, err)
}

func (s *ephemeralSecretManagerWithAudit) Import(
	ctx context.Context,
	sealed *domain.SealedSecret,
) (*domain.EphemeralSecret, error) {
	secret, err := s.EphemeralSecretManager.Import(ctx, sealed)
	s.recordImport(ctx, sealed, err)
	return secret, err
}
