package usecase

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/allisson/keymanager/internal/consensus"
	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	"github.com/allisson/keymanager/internal/database"
	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/repository"
	"github.com/allisson/keymanager/internal/keymanager/service"
	"github.com/allisson/keymanager/internal/registry"
)

const (
	testRuntime = "rt-1"
	localNode   = "node-a"
	peerNode    = "node-b"
)

var testMeasurement = strings.Repeat("ab", 32)

// fixture wires the whole core over the memory repositories.
type fixture struct {
	secretRepo      *repository.MemorySecretRepository
	replicationRepo *repository.MemoryReplicationRepository
	policyRepo      *repository.MemoryPolicyRepository
	oracle          *consensus.ManualOracle
	registry        *registry.StaticRegistry
	codec           *service.PolicyCodec
	statusCodec     *service.StatusCodec
	nodeREK         *cryptoService.NodeREK
	rsk             *cryptoService.StatusSigner
	policyKey       ed25519.PrivateKey
	policyPKIX      []byte

	store       SecretStore
	coordinator ReplicationCoordinator
	masters     MasterSecretManager
	ephemerals  EphemeralSecretManager
	policies    PolicyEngine
	gate        Gate
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	gate    GateConfig
	signer  bool
	nodeREK bool
}

func withGateConfig(cfg GateConfig) fixtureOption {
	return func(c *fixtureConfig) { c.gate = cfg }
}

func withoutSigner() fixtureOption {
	return func(c *fixtureConfig) { c.signer = false }
}

func withoutNodeREK() fixtureOption {
	return func(c *fixtureConfig) { c.nodeREK = false }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSealer(t *testing.T) cryptoService.Sealer {
	t.Helper()

	key, err := cryptoDomain.NewSealingKey("k1", bytes.Repeat([]byte{0x11}, cryptoDomain.KeySize))
	require.NoError(t, err)
	chain, err := cryptoDomain.NewSealingKeyChain("k1", key)
	require.NoError(t, err)
	t.Cleanup(chain.Close)

	return cryptoService.NewSealingService(chain, cryptoService.NewAEADManager(), cryptoDomain.AESGCM)
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		gate:    GateConfig{FreshnessWindow: 10, EphemeralEpochWindow: 2},
		signer:  true,
		nodeREK: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	codec, err := service.NewPolicyCodec()
	require.NoError(t, err)
	statusCodec, err := service.NewStatusCodec(codec)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pkix, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	f := &fixture{
		secretRepo:      repository.NewMemorySecretRepository(),
		replicationRepo: repository.NewMemoryReplicationRepository(),
		policyRepo:      repository.NewMemoryPolicyRepository(),
		oracle:          consensus.NewManualOracle(100, 5),
		registry:        registry.NewStaticRegistry(localNode, []string{peerNode, "node-c"}, []string{testRuntime}),
		codec:           codec,
		statusCodec:     statusCodec,
		policyKey:       priv,
		policyPKIX:      pkix,
	}

	var rekOpener REKOpener
	if cfg.nodeREK {
		_, rekPriv, err := cryptoService.GenerateREK()
		require.NoError(t, err)
		f.nodeREK, err = cryptoService.NewNodeREK(rekPriv)
		require.NoError(t, err)
		rekOpener = f.nodeREK
	}

	var signer StatusSigner
	if cfg.signer {
		_, seed, err := cryptoService.GenerateRSK()
		require.NoError(t, err)
		f.rsk, err = cryptoService.NewStatusSigner(seed)
		require.NoError(t, err)
		signer = f.rsk
	}

	logger := discardLogger()

	f.store = NewSecretStore(database.NewNoopTxManager(), f.secretRepo, f.policyRepo, newTestSealer(t), codec)
	f.coordinator = NewReplicationCoordinator(f.replicationRepo, f.secretRepo, f.registry, 2, logger)
	f.masters = NewMasterSecretManager(f.store, f.coordinator, localNode, rekOpener, logger)
	f.ephemerals = NewEphemeralSecretManager(
		f.store,
		f.coordinator,
		f.oracle,
		service.RandomDeriver{},
		localNode,
		rekOpener,
		logger,
	)
	f.policies = NewPolicyEngine(
		f.store,
		f.registry,
		codec,
		service.NewSignatureVerifier(),
		[][]byte{pkix},
		1,
		logger,
	)
	f.gate = NewGate(
		f.masters,
		f.ephemerals,
		f.policies,
		f.store,
		f.registry,
		f.oracle,
		statusCodec,
		signer,
		cfg.gate,
		logger,
	)

	return f
}

// signPolicy signs policy with the fixture's trusted policy key.
func (f *fixture) signPolicy(t *testing.T, policy domain.Policy) *domain.SignedPolicy {
	t.Helper()
	return signPolicyWith(t, f.codec, f.policyKey, policy)
}

func signPolicyWith(
	t *testing.T,
	codec *service.PolicyCodec,
	key ed25519.PrivateKey,
	policy domain.Policy,
) *domain.SignedPolicy {
	t.Helper()

	body, err := codec.SigningBody(policy)
	require.NoError(t, err)
	pkix, signature, err := service.Sign(key, body)
	require.NoError(t, err)

	return &domain.SignedPolicy{
		Policy:     policy,
		Signatures: []domain.PolicySignature{{PublicKey: pkix, Signature: signature}},
	}
}

func testPolicy(serial uint64) domain.Policy {
	return domain.Policy{
		RuntimeID:              testRuntime,
		Serial:                 serial,
		QuorumThreshold:        1,
		AuthorizedMeasurements: []string{testMeasurement},
	}
}

// ackPeer acknowledges key from the peer replica with the stored checksum.
func (f *fixture) ackPeer(t *testing.T, key domain.RecordKey) {
	t.Helper()

	checksum, err := f.store.Checksum(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Ack(context.Background(), key, peerNode, checksum))
}

// initialize submits a policy and creates a replicated first master generation.
func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.policies.Submit(ctx, f.signPolicy(t, testPolicy(1))))
	_, err := f.masters.Generate(ctx, testRuntime, 0)
	require.NoError(t, err)
	f.ackPeer(t, masterKey(testRuntime, 0))
}

// publishEpoch generates, replicates and publishes the ephemeral secret of epoch.
func (f *fixture) publishEpoch(t *testing.T, epoch uint64) {
	t.Helper()
	ctx := context.Background()

	_, err := f.ephemerals.Generate(ctx, testRuntime, epoch)
	require.NoError(t, err)
	f.ackPeer(t, ephemeralKey(testRuntime, epoch))
	_, err = f.ephemerals.Publish(ctx, testRuntime, epoch)
	require.NoError(t, err)
}

func testSession() *domain.Session {
	return &domain.Session{
		Identity:      "enclave-1",
		RuntimeID:     testRuntime,
		Measurement:   testMeasurement,
		Authenticated: true,
	}
}

func newRecord(key domain.RecordKey, fill byte) *domain.Record {
	secret := bytes.Repeat([]byte{fill}, domain.SecretSize)
	return &domain.Record{
		RuntimeID: key.RuntimeID,
		Kind:      key.Kind,
		Version:   key.Version,
		Secret:    secret,
		Checksum:  domain.ComputeChecksum(key.Kind, key.RuntimeID, key.Version, secret),
	}
}
