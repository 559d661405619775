package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allisson/keymanager/internal/consensus"
	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/registry"
)

// GateConfig holds the release rules of the gate.
type GateConfig struct {
	// FreshnessWindow is how many blocks a request height may lag the consensus height.
	FreshnessWindow uint64
	// EphemeralEpochWindow is how many epochs before the current one stay fetchable.
	EphemeralEpochWindow uint64
	// RequireREK refuses to release plaintext to sessions without an encryption key.
	RequireREK bool
}

// gate implements Gate.
type gate struct {
	masters     MasterSecretManager
	ephemerals  EphemeralSecretManager
	policies    PolicyEngine
	store       SecretStore
	registry    registry.Registry
	oracle      consensus.Oracle
	statusCodec StatusCodec
	signer      StatusSigner
	cfg         GateConfig
	logger      *slog.Logger
	now         func() time.Time
}

// admit runs the checks shared by both secret kinds: authentication, runtime
// binding, deployment and height freshness.
func (g *gate) admit(ctx context.Context, session *domain.Session, req *domain.FetchRequest) error {
	if session == nil || !session.Authenticated {
		return domain.ErrNotAuthenticated
	}
	if req.RuntimeID != session.RuntimeID {
		return domain.ErrRuntimeMismatch
	}

	deployed, err := g.registry.ActiveDeployment(ctx, req.RuntimeID)
	if err != nil {
		return err
	}
	if !deployed {
		return domain.ErrActiveDeploymentNotFound
	}

	latest, err := g.oracle.LatestHeight(ctx)
	if err != nil {
		return err
	}
	if latest > g.cfg.FreshnessWindow && req.Height < latest-g.cfg.FreshnessWindow {
		return domain.ErrHeightNotFresh
	}
	return nil
}

// hasPolicy reports whether the runtime has a policy, mapping absence to false.
func (g *gate) hasPolicy(ctx context.Context, runtimeID string) (bool, error) {
	_, err := g.policies.Current(ctx, runtimeID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (g *gate) authorize(ctx context.Context, session *domain.Session) error {
	authorized, err := g.policies.Authorize(ctx, session.Measurement, session.RuntimeID)
	if err != nil {
		return err
	}
	if !authorized {
		return domain.ErrNotAuthorized
	}
	session.Authorized = true
	return nil
}

// release hands material to the session, sealed to its REK when it has one.
// secret is wiped in every case.
func (g *gate) release(
	session *domain.Session,
	key domain.RecordKey,
	checksum, secret []byte,
) (*domain.ReleasedSecret, error) {
	released := &domain.ReleasedSecret{
		RuntimeID: key.RuntimeID,
		Kind:      key.Kind,
		Version:   key.Version,
		Checksum:  checksum,
	}

	if session.HasREK() {
		defer cryptoDomain.Zero(secret)
		sealed, err := cryptoService.SealToREK(session.REK, secret)
		if err != nil {
			return nil, err
		}
		released.Sealed = sealed
		return released, nil
	}

	if g.cfg.RequireREK {
		cryptoDomain.Zero(secret)
		return nil, domain.ErrREKNotPublished
	}

	released.Secret = secret
	return released, nil
}

func (g *gate) logRelease(session *domain.Session, key domain.RecordKey, released *domain.ReleasedSecret) {
	g.logger.Info("secret released",
		slog.String("record", key.String()),
		slog.String("identity", session.Identity),
		slog.Bool("sealed", released.Sealed != nil),
	)
}

// FetchMasterSecret releases a master generation to an authorized enclave.
func (g *gate) FetchMasterSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	if err := g.admit(ctx, session, req); err != nil {
		return nil, err
	}

	hasPolicy, err := g.hasPolicy(ctx, req.RuntimeID)
	if err != nil {
		return nil, err
	}
	latest, found, err := g.masters.Latest(ctx, req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if !hasPolicy || !found {
		return nil, domain.ErrNotInitialized
	}

	if req.Version > latest {
		return nil, domain.NewGenerationFromFutureError(latest, req.Version)
	}

	if err := g.authorize(ctx, session); err != nil {
		return nil, err
	}

	secret, err := g.masters.Fetch(ctx, req.RuntimeID, req.Version)
	if err != nil {
		return nil, err
	}

	released, err := g.release(session, secret.RecordKey(), secret.Checksum, secret.Secret)
	if err != nil {
		return nil, err
	}
	g.logRelease(session, secret.RecordKey(), released)
	return released, nil
}

// FetchEphemeralSecret releases the secret of an epoch inside the accepted
// window to an authorized enclave.
func (g *gate) FetchEphemeralSecret(
	ctx context.Context,
	session *domain.Session,
	req *domain.FetchRequest,
) (*domain.ReleasedSecret, error) {
	if err := g.admit(ctx, session, req); err != nil {
		return nil, err
	}

	hasPolicy, err := g.hasPolicy(ctx, req.RuntimeID)
	if err != nil {
		return nil, err
	}
	_, found, err := g.ephemerals.Latest(ctx, req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if !hasPolicy || !found {
		return nil, domain.ErrNotInitialized
	}

	current, err := g.oracle.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	if req.Version > current {
		return nil, domain.NewGenerationFromFutureError(current, req.Version)
	}
	if current > g.cfg.EphemeralEpochWindow && req.Version < current-g.cfg.EphemeralEpochWindow {
		return nil, domain.NewInvalidEpochError(current, req.Version)
	}

	if err := g.authorize(ctx, session); err != nil {
		return nil, err
	}

	secret, err := g.ephemerals.Fetch(ctx, req.RuntimeID, req.Version)
	if err != nil {
		return nil, err
	}

	released, err := g.release(session, secret.RecordKey(), secret.Checksum, secret.Secret)
	if err != nil {
		return nil, err
	}
	g.logRelease(session, secret.RecordKey(), released)
	return released, nil
}

// Status summarizes the state of a served runtime. Independent lookups run concurrently.
func (g *gate) Status(ctx context.Context, runtimeID string) (*domain.Status, error) {
	runtimes, err := g.registry.Runtimes(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(runtimes, runtimeID) {
		return nil, domain.ErrStatusNotFound
	}

	status := &domain.Status{RuntimeID: runtimeID}
	var policy *domain.SignedPolicy

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		signed, err := g.policies.Current(egCtx, runtimeID)
		if err != nil && !errors.Is(err, domain.ErrPolicyNotFound) {
			return err
		}
		policy = signed
		return nil
	})
	eg.Go(func() error {
		latest, found, err := g.masters.Latest(egCtx, runtimeID)
		if err != nil || !found {
			return err
		}
		checksum, err := g.store.Checksum(egCtx, masterKey(runtimeID, latest))
		if err != nil {
			return err
		}
		status.Generation, status.HasGeneration, status.Checksum = latest, true, checksum
		return nil
	})
	eg.Go(func() error {
		epoch, found, err := g.ephemerals.Latest(egCtx, runtimeID)
		status.Epoch, status.HasEpoch = epoch, found
		return err
	})
	eg.Go(func() error {
		replicas, err := g.registry.Replicas(egCtx)
		status.Replicas = replicas
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if policy != nil {
		checksum, err := g.statusCodec.PolicyChecksum(policy)
		if err != nil {
			return nil, err
		}
		status.PolicySerial = policy.Policy.Serial
		status.PolicyChecksum = checksum
	}
	status.IsInitialized = policy != nil && status.HasGeneration
	status.UpdatedAt = g.now().UTC()

	return status, nil
}

// SignedStatus returns Status signed with this node's runtime signing key.
func (g *gate) SignedStatus(ctx context.Context, runtimeID string) (*domain.SignedStatus, error) {
	if g.signer == nil {
		return nil, domain.ErrRSKMissing
	}

	status, err := g.Status(ctx, runtimeID)
	if err != nil {
		return nil, err
	}

	body, err := g.statusCodec.SigningBody(status)
	if err != nil {
		return nil, err
	}

	signature, err := g.signer.Sign(body)
	if err != nil {
		return nil, err
	}

	return &domain.SignedStatus{
		Status:    *status,
		PublicKey: g.signer.PublicKey(),
		Signature: signature,
	}, nil
}

// NewGate creates a new Gate. signer may be nil, in which case SignedStatus
// reports ErrRSKMissing.
func NewGate(
	masters MasterSecretManager,
	ephemerals EphemeralSecretManager,
	policies PolicyEngine,
	store SecretStore,
	reg registry.Registry,
	oracle consensus.Oracle,
	statusCodec StatusCodec,
	signer StatusSigner,
	cfg GateConfig,
	logger *slog.Logger,
) Gate {
	return &gate{
		masters:     masters,
		ephemerals:  ephemerals,
		policies:    policies,
		store:       store,
		registry:    reg,
		oracle:      oracle,
		statusCodec: statusCodec,
		signer:      signer,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}
