package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/registry"
)

// policyEngine implements PolicyEngine.
type policyEngine struct {
	store          SecretStore
	registry       registry.Registry
	codec          PolicyCodec
	verifier       SignatureVerifier
	trustedSigners map[string]struct{}
	minSignatures  int
	logger         *slog.Logger
}

// Submit admits a signed policy. Checks run in a fixed order: structure,
// runtime, every signature, trusted quorum, then the serial rules of the store.
func (p *policyEngine) Submit(ctx context.Context, signed *domain.SignedPolicy) error {
	if signed == nil {
		return domain.ErrPolicyInvalid
	}
	if err := signed.Validate(); err != nil {
		return domain.NewPolicyInvalidError(err)
	}

	runtimes, err := p.registry.Runtimes(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(runtimes, signed.Policy.RuntimeID) {
		return domain.ErrPolicyInvalidRuntime
	}

	body, err := p.codec.SigningBody(signed.Policy)
	if err != nil {
		return domain.NewPolicyInvalidError(err)
	}

	trusted := make(map[string]struct{}, len(signed.Signatures))
	for _, sig := range signed.Signatures {
		if err := p.verifier.Verify(sig.PublicKey, body, sig.Signature); err != nil {
			return domain.NewInvalidSignatureError(err)
		}
		if _, ok := p.trustedSigners[string(sig.PublicKey)]; ok {
			trusted[string(sig.PublicKey)] = struct{}{}
		}
	}

	if len(trusted) < max(signed.Policy.QuorumThreshold, p.minSignatures) {
		return domain.ErrPolicyInsufficientSignatures
	}

	if err := p.store.PutPolicy(ctx, signed); err != nil {
		return err
	}

	p.logger.Info("policy accepted",
		slog.String("runtime_id", signed.Policy.RuntimeID),
		slog.Uint64("serial", signed.Policy.Serial),
		slog.Int("signers", len(trusted)),
	)
	return nil
}

// Authorize reports whether the current policy of runtimeID admits measurement.
// A runtime without a policy admits nothing.
func (p *policyEngine) Authorize(ctx context.Context, measurement, runtimeID string) (bool, error) {
	signed, err := p.store.CurrentPolicy(ctx, runtimeID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			return false, nil
		}
		return false, err
	}
	return signed.Policy.Authorizes(measurement), nil
}

// Current returns the current policy of runtimeID.
func (p *policyEngine) Current(ctx context.Context, runtimeID string) (*domain.SignedPolicy, error) {
	return p.store.CurrentPolicy(ctx, runtimeID)
}

// NewPolicyEngine creates a new PolicyEngine. trustedSigners are PKIX encoded
// public keys; only their signatures count towards the quorum.
func NewPolicyEngine(
	store SecretStore,
	reg registry.Registry,
	codec PolicyCodec,
	verifier SignatureVerifier,
	trustedSigners [][]byte,
	minSignatures int,
	logger *slog.Logger,
) PolicyEngine {
	trusted := make(map[string]struct{}, len(trustedSigners))
	for _, key := range trustedSigners {
		trusted[string(key)] = struct{}{}
	}

	return &policyEngine{
		store:          store,
		registry:       reg,
		codec:          codec,
		verifier:       verifier,
		trustedSigners: trusted,
		minSignatures:  minSignatures,
		logger:         logger,
	}
}
