package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditAction names an operation recorded in the audit trail.
type AuditAction string

const (
	AuditActionRelease      AuditAction = "release"
	AuditActionPolicySubmit AuditAction = "policy_submit"
	AuditActionExport       AuditAction = "export"
	AuditActionImport       AuditAction = "import"
)

// AdminActor is the audit identity of requests authenticated with the admin token.
const AdminActor = "admin"

// AuditLog is one entry of the signed audit trail. Entries form a hash chain:
// each signature covers the signature of the entry before it, so deleting or
// reordering rows breaks verification.
//
// Entries carry who asked for which record and what happened. They never
// carry secret material, sealed or not.
type AuditLog struct {
	Sequence          uint64
	ID                uuid.UUID
	Action            AuditAction
	Identity          string
	RuntimeID         string
	Kind              Kind
	Version           uint64
	Outcome           string
	PreviousSignature []byte
	Signature         []byte
	SigningKeyID      string
	CreatedAt         time.Time
}

// AuditVerificationReport summarizes the integrity of a range of audit entries.
type AuditVerificationReport struct {
	TotalChecked   int
	ValidCount     int
	InvalidCount   int
	BrokenLinks    int
	InvalidEntries []uint64
	StartTime      time.Time
	EndTime        time.Time
}

// Valid reports whether every checked entry verified and linked.
func (r *AuditVerificationReport) Valid() bool {
	return r.InvalidCount == 0 && r.BrokenLinks == 0
}

type actorKey struct{}

// WithActor stores the authenticated identity of the caller for the audit trail.
func WithActor(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, actorKey{}, identity)
}

// ActorFromContext returns the identity stored by WithActor, or "" when none was set.
func ActorFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(actorKey{}).(string)
	return identity
}
