package app

import (
	"context"
	"fmt"
	"log/slog"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
	cryptoService "github.com/allisson/keymanager/internal/crypto/service"
	keymanagerUseCase "github.com/allisson/keymanager/internal/keymanager/usecase"
)

// KMSService returns the KMS service.
func (c *Container) KMSService() cryptoService.KMSService {
	c.kmsServiceInit.Do(func() {
		c.kmsService = cryptoService.NewKMSService()
	})
	return c.kmsService
}

// AEADManager returns the AEAD manager service.
func (c *Container) AEADManager() cryptoService.AEADManager {
	c.aeadManagerInit.Do(func() {
		c.aeadManager = cryptoService.NewAEADManager()
	})
	return c.aeadManager
}

// SealingKeyChain returns the sealing keys, unwrapped through the KMS when a key URI is configured.
func (c *Container) SealingKeyChain() (*cryptoDomain.SealingKeyChain, error) {
	var err error
	c.sealingKeyChainInit.Do(func() {
		c.sealingKeyChain, err = c.initSealingKeyChain()
		if err != nil {
			c.initErrors["sealingKeyChain"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sealingKeyChain"]; exists {
		return nil, storedErr
	}
	return c.sealingKeyChain, nil
}

// Sealer returns the service that seals records at rest.
func (c *Container) Sealer() (cryptoService.Sealer, error) {
	var err error
	c.sealerInit.Do(func() {
		c.sealer, err = c.initSealer()
		if err != nil {
			c.initErrors["sealer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sealer"]; exists {
		return nil, storedErr
	}
	return c.sealer, nil
}

// NodeREK returns this replica's runtime encryption key as an opener.
// The result is nil when no key is configured; imports are then refused.
func (c *Container) NodeREK() (keymanagerUseCase.REKOpener, error) {
	var err error
	c.nodeREKInit.Do(func() {
		c.nodeREK, err = c.initNodeREK()
		if err != nil {
			c.initErrors["nodeREK"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["nodeREK"]; exists {
		return nil, storedErr
	}
	if c.nodeREK == nil {
		return nil, nil
	}
	return c.nodeREK, nil
}

// StatusSigner returns the runtime signing key. The result is nil when no key
// is configured; signed status requests then fail with rsk_missing.
func (c *Container) StatusSigner() (keymanagerUseCase.StatusSigner, error) {
	var err error
	c.statusSignerInit.Do(func() {
		c.statusSigner, err = c.initStatusSigner()
		if err != nil {
			c.initErrors["statusSigner"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["statusSigner"]; exists {
		return nil, storedErr
	}
	if c.statusSigner == nil {
		return nil, nil
	}
	return c.statusSigner, nil
}

// initSealingKeyChain loads SEALING_KEYS with fail-fast validation.
func (c *Container) initSealingKeyChain() (*cryptoDomain.SealingKeyChain, error) {
	ctx := context.Background()
	logger := c.Logger()

	var keeper cryptoDomain.KMSKeeper
	if c.config.KMSKeyURI != "" {
		k, err := c.KMSService().OpenKeeper(ctx, c.config.KMSKeyURI)
		if err != nil {
			return nil, err
		}
		defer func() {
			if closeErr := k.Close(); closeErr != nil {
				logger.Warn("failed to close kms keeper", slog.Any("error", closeErr))
			}
		}()
		keeper = k
	}

	keychain, err := cryptoDomain.LoadSealingKeyChain(ctx, c.config.SealingKeys, c.config.ActiveSealingKeyID, keeper)
	if err != nil {
		return nil, fmt.Errorf("failed to load sealing key chain: %w", err)
	}

	logger.Info("sealing key chain loaded",
		slog.String("active_key_id", keychain.ActiveKeyID()),
		slog.Bool("kms", keeper != nil),
		slog.String("kms_provider", c.config.KMSProvider))

	return keychain, nil
}

// initSealer creates the sealing service for the configured algorithm.
func (c *Container) initSealer() (cryptoService.Sealer, error) {
	alg, err := cryptoDomain.ParseAlgorithm(c.config.SealingAlgorithm)
	if err != nil {
		return nil, err
	}

	keychain, err := c.SealingKeyChain()
	if err != nil {
		return nil, fmt.Errorf("failed to get sealing key chain for sealer: %w", err)
	}

	return cryptoService.NewSealingService(keychain, c.AEADManager(), alg), nil
}

func (c *Container) initNodeREK() (*cryptoService.NodeREK, error) {
	if c.config.NodeREKPrivateKey == "" {
		c.Logger().Warn("node runtime encryption key not configured: replica imports are disabled")
		return nil, nil
	}

	rek, err := cryptoService.LoadNodeREK(c.config.NodeREKPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load node runtime encryption key: %w", err)
	}
	return rek, nil
}

func (c *Container) initStatusSigner() (*cryptoService.StatusSigner, error) {
	if c.config.NodeRSKPrivateKey == "" {
		c.Logger().Warn("runtime signing key not configured: signed status is disabled")
		return nil, nil
	}

	signer, err := cryptoService.LoadStatusSigner(c.config.NodeRSKPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime signing key: %w", err)
	}
	return signer, nil
}
