package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/allisson/keymanager/internal/attestation"
	"github.com/allisson/keymanager/internal/consensus"
	"github.com/allisson/keymanager/internal/http"
	keymanagerHTTP "github.com/allisson/keymanager/internal/keymanager/http"
	keymanagerRepository "github.com/allisson/keymanager/internal/keymanager/repository"
	keymanagerService "github.com/allisson/keymanager/internal/keymanager/service"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
	"github.com/allisson/keymanager/internal/registry"
)

const (
	consensusManual   = "manual"
	consensusEthereum = "ethereum"

	// consensusDialTimeout bounds the first RPC round trip to the ethereum node.
	consensusDialTimeout = 10 * time.Second
)

// Registry returns the static entity registry built from configuration.
func (c *Container) Registry() *registry.StaticRegistry {
	c.registryInit.Do(func() {
		c.registry = registry.NewStaticRegistry(c.config.ReplicaID, c.config.ReplicaIDs, c.config.RuntimeIDs)
	})
	return c.registry
}

// ConsensusOracle returns the oracle reporting consensus height and epoch.
func (c *Container) ConsensusOracle() (consensus.Oracle, error) {
	var err error
	c.oracleInit.Do(func() {
		c.oracle, err = c.initConsensusOracle()
		if err != nil {
			c.initErrors["oracle"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["oracle"]; exists {
		return nil, storedErr
	}
	return c.oracle, nil
}

// ManualOracle returns the manual oracle, or nil when another backend is configured.
func (c *Container) ManualOracle() (*consensus.ManualOracle, error) {
	if _, err := c.ConsensusOracle(); err != nil {
		return nil, err
	}
	return c.manualOracle, nil
}

// SecretRepository returns the secret repository for the configured driver.
func (c *Container) SecretRepository() (keymanagerUseCase.SecretRepository, error) {
	var err error
	c.secretRepoInit.Do(func() {
		c.secretRepo, err = c.initSecretRepository()
		if err != nil {
			c.initErrors["secretRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["secretRepo"]; exists {
		return nil, storedErr
	}
	return c.secretRepo, nil
}

// ReplicationRepository returns the replication repository for the configured driver.
func (c *Container) ReplicationRepository() (keymanagerUseCase.ReplicationRepository, error) {
	var err error
	c.replicationRepoInit.Do(func() {
		c.replicationRepo, err = c.initReplicationRepository()
		if err != nil {
			c.initErrors["replicationRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["replicationRepo"]; exists {
		return nil, storedErr
	}
	return c.replicationRepo, nil
}

// PolicyRepository returns the policy repository for the configured driver.
func (c *Container) PolicyRepository() (keymanagerUseCase.PolicyRepository, error) {
	var err error
	c.policyRepoInit.Do(func() {
		c.policyRepo, err = c.initPolicyRepository()
		if err != nil {
			c.initErrors["policyRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["policyRepo"]; exists {
		return nil, storedErr
	}
	return c.policyRepo, nil
}

// AuditLogRepository returns the audit log repository for the configured driver.
func (c *Container) AuditLogRepository() (keymanagerUseCase.AuditLogRepository, error) {
	var err error
	c.auditLogRepoInit.Do(func() {
		c.auditLogRepo, err = c.initAuditLogRepository()
		if err != nil {
			c.initErrors["auditLogRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["auditLogRepo"]; exists {
		return nil, storedErr
	}
	return c.auditLogRepo, nil
}

// AuditSigner returns the HMAC signer of audit entries, keyed from the sealing key chain.
func (c *Container) AuditSigner() (*keymanagerService.AuditSigner, error) {
	var err error
	c.auditSignerInit.Do(func() {
		c.auditSigner, err = c.initAuditSigner()
		if err != nil {
			c.initErrors["auditSigner"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["auditSigner"]; exists {
		return nil, storedErr
	}
	return c.auditSigner, nil
}

// AuditLogUseCase returns the signed audit trail.
func (c *Container) AuditLogUseCase() (keymanagerUseCase.AuditLogUseCase, error) {
	var err error
	c.auditLogUseCaseInit.Do(func() {
		c.auditLogUseCase, err = c.initAuditLogUseCase()
		if err != nil {
			c.initErrors["auditLogUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["auditLogUseCase"]; exists {
		return nil, storedErr
	}
	return c.auditLogUseCase, nil
}

// PolicyCodec returns the canonical policy codec.
func (c *Container) PolicyCodec() (*keymanagerService.PolicyCodec, error) {
	var err error
	c.policyCodecInit.Do(func() {
		c.policyCodec, err = keymanagerService.NewPolicyCodec()
		if err != nil {
			c.initErrors["policyCodec"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["policyCodec"]; exists {
		return nil, storedErr
	}
	return c.policyCodec, nil
}

// StatusCodec returns the canonical status codec.
func (c *Container) StatusCodec() (*keymanagerService.StatusCodec, error) {
	var err error
	c.statusCodecInit.Do(func() {
		c.statusCodec, err = c.initStatusCodec()
		if err != nil {
			c.initErrors["statusCodec"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["statusCodec"]; exists {
		return nil, storedErr
	}
	return c.statusCodec, nil
}

// AdminTokenService returns the admin token hashing service.
func (c *Container) AdminTokenService() *keymanagerService.AdminTokenService {
	c.adminTokenServiceInit.Do(func() {
		c.adminTokenService = keymanagerService.NewAdminTokenService()
	})
	return c.adminTokenService
}

// SecretStore returns the sealed record store.
func (c *Container) SecretStore() (keymanagerUseCase.SecretStore, error) {
	var err error
	c.secretStoreInit.Do(func() {
		c.secretStore, err = c.initSecretStore()
		if err != nil {
			c.initErrors["secretStore"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["secretStore"]; exists {
		return nil, storedErr
	}
	return c.secretStore, nil
}

// ReplicationCoordinator returns the replication coordinator.
func (c *Container) ReplicationCoordinator() (keymanagerUseCase.ReplicationCoordinator, error) {
	var err error
	c.replicationCoordinatorInit.Do(func() {
		c.replicationCoordinator, err = c.initReplicationCoordinator()
		if err != nil {
			c.initErrors["replicationCoordinator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["replicationCoordinator"]; exists {
		return nil, storedErr
	}
	return c.replicationCoordinator, nil
}

// MasterSecretManager returns the master secret manager.
func (c *Container) MasterSecretManager() (keymanagerUseCase.MasterSecretManager, error) {
	var err error
	c.masterSecretManagerInit.Do(func() {
		c.masterSecretManager, err = c.initMasterSecretManager()
		if err != nil {
			c.initErrors["masterSecretManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["masterSecretManager"]; exists {
		return nil, storedErr
	}
	return c.masterSecretManager, nil
}

// EphemeralSecretManager returns the ephemeral secret manager.
func (c *Container) EphemeralSecretManager() (keymanagerUseCase.EphemeralSecretManager, error) {
	var err error
	c.ephemeralSecretManagerInit.Do(func() {
		c.ephemeralSecretManager, err = c.initEphemeralSecretManager()
		if err != nil {
			c.initErrors["ephemeralSecretManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["ephemeralSecretManager"]; exists {
		return nil, storedErr
	}
	return c.ephemeralSecretManager, nil
}

// PolicyEngine returns the policy engine.
func (c *Container) PolicyEngine() (keymanagerUseCase.PolicyEngine, error) {
	var err error
	c.policyEngineInit.Do(func() {
		c.policyEngine, err = c.initPolicyEngine()
		if err != nil {
			c.initErrors["policyEngine"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["policyEngine"]; exists {
		return nil, storedErr
	}
	return c.policyEngine, nil
}

// Gate returns the release gate.
func (c *Container) Gate() (keymanagerUseCase.Gate, error) {
	var err error
	c.gateInit.Do(func() {
		c.gate, err = c.initGate()
		if err != nil {
			c.initErrors["gate"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["gate"]; exists {
		return nil, storedErr
	}
	return c.gate, nil
}

func (c *Container) initConsensusOracle() (consensus.Oracle, error) {
	switch c.config.ConsensusBackend {
	case consensusManual:
		c.manualOracle = consensus.NewManualOracle(0, 0)
		c.Logger().Warn("manual consensus backend in use: heights advance only through the admin API")
		return c.manualOracle, nil

	case consensusEthereum:
		ctx, cancel := context.WithTimeout(context.Background(), consensusDialTimeout)
		defer cancel()

		oracle, err := consensus.DialEthereumOracle(ctx, c.config.ConsensusRPCURL, c.config.ConsensusEpochBlocks)
		if err != nil {
			return nil, fmt.Errorf("failed to dial consensus backend: %w", err)
		}
		c.ethereumOracle = oracle
		return oracle, nil

	default:
		return nil, fmt.Errorf("unsupported consensus backend: %q", c.config.ConsensusBackend)
	}
}

func (c *Container) initSecretRepository() (keymanagerUseCase.SecretRepository, error) {
	if c.config.DBDriver == DriverMemory {
		return keymanagerRepository.NewMemorySecretRepository(), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for secret repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return keymanagerRepository.NewPostgreSQLSecretRepository(db), nil
	case "mysql":
		return keymanagerRepository.NewMySQLSecretRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initReplicationRepository() (keymanagerUseCase.ReplicationRepository, error) {
	if c.config.DBDriver == DriverMemory {
		return keymanagerRepository.NewMemoryReplicationRepository(), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for replication repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return keymanagerRepository.NewPostgreSQLReplicationRepository(db), nil
	case "mysql":
		return keymanagerRepository.NewMySQLReplicationRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initPolicyRepository() (keymanagerUseCase.PolicyRepository, error) {
	if c.config.DBDriver == DriverMemory {
		return keymanagerRepository.NewMemoryPolicyRepository(), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for policy repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return keymanagerRepository.NewPostgreSQLPolicyRepository(db), nil
	case "mysql":
		return keymanagerRepository.NewMySQLPolicyRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initAuditLogRepository() (keymanagerUseCase.AuditLogRepository, error) {
	if c.config.DBDriver == DriverMemory {
		return keymanagerRepository.NewMemoryAuditLogRepository(), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for audit log repository: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return keymanagerRepository.NewPostgreSQLAuditLogRepository(db), nil
	case "mysql":
		return keymanagerRepository.NewMySQLAuditLogRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initAuditSigner() (*keymanagerService.AuditSigner, error) {
	chain, err := c.SealingKeyChain()
	if err != nil {
		return nil, fmt.Errorf("failed to get sealing key chain for audit signer: %w", err)
	}
	return keymanagerService.NewAuditSigner(chain)
}

func (c *Container) initAuditLogUseCase() (keymanagerUseCase.AuditLogUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for audit log use case: %w", err)
	}
	repo, err := c.AuditLogRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log repository for audit log use case: %w", err)
	}
	signer, err := c.AuditSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit signer for audit log use case: %w", err)
	}
	return keymanagerUseCase.NewAuditLogUseCase(txManager, repo, signer), nil
}

func (c *Container) initStatusCodec() (*keymanagerService.StatusCodec, error) {
	policyCodec, err := c.PolicyCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy codec for status codec: %w", err)
	}
	return keymanagerService.NewStatusCodec(policyCodec)
}

func (c *Container) initSecretStore() (keymanagerUseCase.SecretStore, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for secret store: %w", err)
	}
	secretRepo, err := c.SecretRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret repository for secret store: %w", err)
	}
	policyRepo, err := c.PolicyRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy repository for secret store: %w", err)
	}
	sealer, err := c.Sealer()
	if err != nil {
		return nil, fmt.Errorf("failed to get sealer for secret store: %w", err)
	}
	codec, err := c.PolicyCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy codec for secret store: %w", err)
	}

	return keymanagerUseCase.NewSecretStore(txManager, secretRepo, policyRepo, sealer, codec), nil
}

func (c *Container) initReplicationCoordinator() (keymanagerUseCase.ReplicationCoordinator, error) {
	replicationRepo, err := c.ReplicationRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get replication repository for coordinator: %w", err)
	}
	secretRepo, err := c.SecretRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret repository for coordinator: %w", err)
	}

	return keymanagerUseCase.NewReplicationCoordinator(
		replicationRepo,
		secretRepo,
		c.Registry(),
		c.config.ReplicationThreshold,
		c.Logger(),
	), nil
}

func (c *Container) initMasterSecretManager() (keymanagerUseCase.MasterSecretManager, error) {
	store, err := c.SecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret store for master secret manager: %w", err)
	}
	coordinator, err := c.ReplicationCoordinator()
	if err != nil {
		return nil, fmt.Errorf("failed to get coordinator for master secret manager: %w", err)
	}
	nodeREK, err := c.NodeREK()
	if err != nil {
		return nil, fmt.Errorf("failed to get node REK for master secret manager: %w", err)
	}

	audit, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log for master secret manager: %w", err)
	}

	manager := keymanagerUseCase.NewMasterSecretManager(store, coordinator, c.config.ReplicaID, nodeREK, c.Logger())
	return c.withMasterMetrics(keymanagerUseCase.NewMasterSecretManagerWithAudit(manager, audit, c.Logger()))
}

func (c *Container) initEphemeralSecretManager() (keymanagerUseCase.EphemeralSecretManager, error) {
	store, err := c.SecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret store for ephemeral secret manager: %w", err)
	}
	coordinator, err := c.ReplicationCoordinator()
	if err != nil {
		return nil, fmt.Errorf("failed to get coordinator for ephemeral secret manager: %w", err)
	}
	oracle, err := c.ConsensusOracle()
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus oracle for ephemeral secret manager: %w", err)
	}
	nodeREK, err := c.NodeREK()
	if err != nil {
		return nil, fmt.Errorf("failed to get node REK for ephemeral secret manager: %w", err)
	}
	masters, err := c.MasterSecretManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get master secret manager for ephemeral derivation: %w", err)
	}
	deriver, err := keymanagerService.NewEphemeralDeriver(c.config.EphemeralDerivation, masters)
	if err != nil {
		return nil, err
	}
	audit, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log for ephemeral secret manager: %w", err)
	}

	manager := keymanagerUseCase.NewEphemeralSecretManager(
		store,
		coordinator,
		oracle,
		deriver,
		c.config.ReplicaID,
		nodeREK,
		c.Logger(),
	)
	return c.withEphemeralMetrics(keymanagerUseCase.NewEphemeralSecretManagerWithAudit(manager, audit, c.Logger()))
}

func (c *Container) initPolicyEngine() (keymanagerUseCase.PolicyEngine, error) {
	store, err := c.SecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret store for policy engine: %w", err)
	}
	codec, err := c.PolicyCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy codec for policy engine: %w", err)
	}
	trusted, err := decodeTrustedSigners(c.config.PolicyTrustedSigners)
	if err != nil {
		return nil, err
	}
	if len(trusted) == 0 {
		c.Logger().Warn("no trusted policy signers configured: every policy will be refused")
	}
	audit, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log for policy engine: %w", err)
	}

	engine := keymanagerUseCase.NewPolicyEngine(
		store,
		c.Registry(),
		codec,
		keymanagerService.NewSignatureVerifier(),
		trusted,
		c.config.PolicyMinSignatures,
		c.Logger(),
	)
	engine = keymanagerUseCase.NewPolicyEngineWithAudit(engine, audit, c.Logger())

	if !c.config.MetricsEnabled {
		return engine, nil
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for policy engine: %w", err)
	}
	return keymanagerUseCase.NewPolicyEngineWithMetrics(engine, businessMetrics), nil
}

func (c *Container) initGate() (keymanagerUseCase.Gate, error) {
	masters, err := c.MasterSecretManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get master secret manager for gate: %w", err)
	}
	ephemerals, err := c.EphemeralSecretManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get ephemeral secret manager for gate: %w", err)
	}
	policies, err := c.PolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy engine for gate: %w", err)
	}
	store, err := c.SecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get secret store for gate: %w", err)
	}
	oracle, err := c.ConsensusOracle()
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus oracle for gate: %w", err)
	}
	statusCodec, err := c.StatusCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to get status codec for gate: %w", err)
	}
	signer, err := c.StatusSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to get status signer for gate: %w", err)
	}
	audit, err := c.AuditLogUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log for gate: %w", err)
	}

	gate := keymanagerUseCase.NewGate(
		masters,
		ephemerals,
		policies,
		store,
		c.Registry(),
		oracle,
		statusCodec,
		signer,
		keymanagerUseCase.GateConfig{
			FreshnessWindow:      c.config.FreshnessWindow,
			EphemeralEpochWindow: c.config.EphemeralEpochWindow,
			RequireREK:           c.config.RequireREK,
		},
		c.Logger(),
	)
	gate = keymanagerUseCase.NewGateWithAudit(gate, audit, c.Logger())

	if !c.config.MetricsEnabled {
		return gate, nil
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for gate: %w", err)
	}
	return keymanagerUseCase.NewGateWithMetrics(gate, businessMetrics), nil
}

func (c *Container) withMasterMetrics(
	manager keymanagerUseCase.MasterSecretManager,
) (keymanagerUseCase.MasterSecretManager, error) {
	if !c.config.MetricsEnabled {
		return manager, nil
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for master secret manager: %w", err)
	}
	return keymanagerUseCase.NewMasterSecretManagerWithMetrics(manager, businessMetrics), nil
}

func (c *Container) withEphemeralMetrics(
	manager keymanagerUseCase.EphemeralSecretManager,
) (keymanagerUseCase.EphemeralSecretManager, error) {
	if !c.config.MetricsEnabled {
		return manager, nil
	}
	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for ephemeral secret manager: %w", err)
	}
	return keymanagerUseCase.NewEphemeralSecretManagerWithMetrics(manager, businessMetrics), nil
}

// handlers builds the HTTP handlers of the key manager API.
func (c *Container) handlers() (*http.Handlers, error) {
	logger := c.Logger()

	gate, err := c.Gate()
	if err != nil {
		return nil, fmt.Errorf("failed to get gate for handlers: %w", err)
	}
	policies, err := c.PolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy engine for handlers: %w", err)
	}
	masters, err := c.MasterSecretManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get master secret manager for handlers: %w", err)
	}
	ephemerals, err := c.EphemeralSecretManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get ephemeral secret manager for handlers: %w", err)
	}
	coordinator, err := c.ReplicationCoordinator()
	if err != nil {
		return nil, fmt.Errorf("failed to get coordinator for handlers: %w", err)
	}
	manual, err := c.ManualOracle()
	if err != nil {
		return nil, fmt.Errorf("failed to get consensus oracle for handlers: %w", err)
	}

	// A nil *ManualOracle must reach the handler as a nil interface.
	var advancer keymanagerHTTP.ConsensusAdvancer
	if manual != nil {
		advancer = manual
	}

	return &http.Handlers{
		Secrets:     keymanagerHTTP.NewSecretHandler(gate, logger),
		Status:      keymanagerHTTP.NewStatusHandler(gate, logger),
		Policies:    keymanagerHTTP.NewPolicyHandler(policies, logger),
		Admin:       keymanagerHTTP.NewAdminHandler(masters, ephemerals, advancer, logger),
		Replication: keymanagerHTTP.NewReplicationHandler(masters, ephemerals, coordinator, logger),
	}, nil
}

// authenticators builds the receipt verifier and the replica and admin checks.
func (c *Container) authenticators() (*http.Authenticators, error) {
	if c.config.AttestationReceiptKey == "" {
		return nil, fmt.Errorf("attestation receipt key is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.config.AttestationReceiptKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attestation receipt key: %w", err)
	}
	verifier, err := attestation.NewVerifier(key, c.config.AttestationReceiptTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create attestation verifier: %w", err)
	}

	if c.config.AdminTokenHash == "" {
		c.Logger().Info("admin token hash not configured: admin endpoints are disabled")
	}

	c.Logger().Info("key manager configured",
		slog.String("replica_id", c.config.ReplicaID),
		slog.Int("replicas", len(c.config.ReplicaIDs)),
		slog.Int("runtimes", len(c.config.RuntimeIDs)),
		slog.String("consensus_backend", c.config.ConsensusBackend),
		slog.String("ephemeral_derivation", c.config.EphemeralDerivation))

	return &http.Authenticators{
		Receipts:    verifier,
		Replicas:    c.Registry(),
		AdminTokens: c.AdminTokenService(),
	}, nil
}

// decodeTrustedSigners decodes base64 PKIX public keys.
func decodeTrustedSigners(encoded []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		key, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("failed to decode trusted policy signer %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
