package domain

import (
	"fmt"

	apperrors "github.com/allisson/keymanager/internal/errors"
)

// Code identifies a key manager condition. Codes are stable and appear in API responses.
type Code string

// Condition codes.
const (
	CodeNotAuthenticated                Code = "not_authenticated"
	CodeNotAuthorized                   Code = "not_authorized"
	CodeInvalidEpoch                    Code = "invalid_epoch"
	CodeInvalidGeneration               Code = "invalid_generation"
	CodeGenerationFromFuture            Code = "generation_from_future"
	CodeHeightNotFresh                  Code = "height_not_fresh"
	CodeNotInitialized                  Code = "not_initialized"
	CodeStateCorrupted                  Code = "state_corrupted"
	CodeReplicationRequired             Code = "replication_required"
	CodePolicyRollback                  Code = "policy_rollback"
	CodePolicyChanged                   Code = "policy_changed"
	CodePolicyInvalidRuntime            Code = "policy_invalid_runtime"
	CodePolicyInvalid                   Code = "policy_invalid"
	CodePolicyInsufficientSignatures    Code = "policy_insufficient_signatures"
	CodeRSKMissing                      Code = "rsk_missing"
	CodeREKNotPublished                 Code = "rek_not_published"
	CodeInvalidSignature                Code = "invalid_signature"
	CodeMasterSecretNotFound            Code = "master_secret_not_found"
	CodeMasterSecretNotReplicated       Code = "master_secret_not_replicated"
	CodeMasterSecretChecksumMismatch    Code = "master_secret_checksum_mismatch"
	CodeEphemeralSecretNotFound         Code = "ephemeral_secret_not_found"
	CodeEphemeralSecretNotReplicated    Code = "ephemeral_secret_not_replicated"
	CodeEphemeralSecretNotPublished     Code = "ephemeral_secret_not_published"
	CodeEphemeralSecretChecksumMismatch Code = "ephemeral_secret_checksum_mismatch"
	CodeInvalidCiphertext               Code = "invalid_ciphertext"
	CodeStatusNotFound                  Code = "status_not_found"
	CodeRuntimeMismatch                 Code = "runtime_mismatch"
	CodeActiveDeploymentNotFound        Code = "active_deployment_not_found"
	CodeOther                           Code = "other"
)

// Error is a key manager condition. Two errors match under errors.Is when their
// codes are equal, so parameterized conditions compare against the sentinels below.
// Every Error also matches its category from internal/errors.
type Error struct {
	Code     Code
	Expected uint64
	Got      uint64
	message  string
	category error
	cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap exposes the category and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.category != nil {
		errs = append(errs, e.category)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, category error, message string) *Error {
	return &Error{Code: code, category: category, message: message}
}

// Sentinel conditions. Parameterized conditions are built with the constructors
// further down and still match these values under errors.Is.
var (
	// ErrNotAuthenticated is returned when the caller has no valid attestation.
	ErrNotAuthenticated = newError(CodeNotAuthenticated, apperrors.ErrUnauthorized, "not authenticated")

	// ErrNotAuthorized is returned when the policy does not admit the caller's measurement.
	ErrNotAuthorized = newError(CodeNotAuthorized, apperrors.ErrForbidden, "not authorized")

	// ErrInvalidEpoch is returned for an epoch outside the accepted sequence or window.
	ErrInvalidEpoch = newError(CodeInvalidEpoch, apperrors.ErrInvalidInput, "invalid epoch")

	// ErrInvalidGeneration is returned for a generation that is not the next one.
	ErrInvalidGeneration = newError(CodeInvalidGeneration, apperrors.ErrInvalidInput, "invalid generation")

	// ErrGenerationFromFuture is returned for a version beyond the newest one.
	ErrGenerationFromFuture = newError(CodeGenerationFromFuture, apperrors.ErrInvalidInput, "generation in the future")

	// ErrHeightNotFresh is returned when the request height lags the consensus height.
	ErrHeightNotFresh = newError(CodeHeightNotFresh, apperrors.ErrRetryable, "height is not fresh")

	// ErrNotInitialized is returned before a policy and a first secret exist.
	ErrNotInitialized = newError(CodeNotInitialized, apperrors.ErrServiceUnavailable, "not initialized")

	// ErrStateCorrupted is returned when stored state fails its integrity check.
	ErrStateCorrupted = newError(CodeStateCorrupted, apperrors.ErrServiceUnavailable, "state corrupted")

	// ErrReplicationRequired is returned when the previous generation is not replicated yet.
	ErrReplicationRequired = newError(CodeReplicationRequired, apperrors.ErrRetryable, "replication required")

	// ErrRSKMissing is returned when this node has no runtime signing key.
	ErrRSKMissing = newError(CodeRSKMissing, apperrors.ErrServiceUnavailable, "runtime signing key missing")

	// ErrREKNotPublished is returned when release requires a runtime encryption key the caller lacks.
	ErrREKNotPublished = newError(CodeREKNotPublished, apperrors.ErrForbidden, "runtime encryption key not published")

	// ErrInvalidCiphertext is returned when sealed material cannot be opened.
	ErrInvalidCiphertext = newError(CodeInvalidCiphertext, apperrors.ErrInvalidInput, "invalid ciphertext")

	// ErrStatusNotFound is returned for a runtime this key manager does not serve.
	ErrStatusNotFound = newError(CodeStatusNotFound, apperrors.ErrNotFound, "status not found")

	// ErrRuntimeMismatch is returned when the request runtime differs from the attested one.
	ErrRuntimeMismatch = newError(CodeRuntimeMismatch, apperrors.ErrForbidden, "runtime mismatch")

	// ErrActiveDeploymentNotFound is returned when the registry has no active deployment for a runtime.
	ErrActiveDeploymentNotFound = newError(
		CodeActiveDeploymentNotFound,
		apperrors.ErrNotFound,
		"active deployment not found",
	)

	// ErrPolicyRollback is returned for a policy with a lower serial than the current one.
	ErrPolicyRollback = newError(CodePolicyRollback, apperrors.ErrConflict, "policy rollback")

	// ErrPolicyChanged is returned for a different policy under the current serial.
	ErrPolicyChanged = newError(CodePolicyChanged, apperrors.ErrConflict, "policy changed")

	// ErrPolicyInvalidRuntime is returned for a policy bound to a runtime this key manager does not serve.
	ErrPolicyInvalidRuntime = newError(CodePolicyInvalidRuntime, apperrors.ErrInvalidInput, "policy has invalid runtime")

	// ErrPolicyInvalid is returned for a structurally malformed policy.
	ErrPolicyInvalid = newError(CodePolicyInvalid, apperrors.ErrInvalidInput, "policy is malformed or invalid")

	// ErrPolicyInsufficientSignatures is returned when trusted signers do not reach quorum.
	ErrPolicyInsufficientSignatures = newError(
		CodePolicyInsufficientSignatures,
		apperrors.ErrInvalidInput,
		"policy has insufficient signatures",
	)

	// ErrInvalidSignature is returned when any attached signature fails verification.
	ErrInvalidSignature = newError(CodeInvalidSignature, apperrors.ErrInvalidInput, "invalid signature")

	// ErrMasterSecretNotFound is returned for a master generation that was never stored.
	ErrMasterSecretNotFound = newError(CodeMasterSecretNotFound, apperrors.ErrNotFound, "master secret not found")

	// ErrMasterSecretNotReplicated is returned for a master generation below the replication threshold.
	ErrMasterSecretNotReplicated = newError(
		CodeMasterSecretNotReplicated,
		apperrors.ErrRetryable,
		"master secret not replicated",
	)

	// ErrMasterSecretChecksumMismatch is returned when replicas disagree on a master generation.
	ErrMasterSecretChecksumMismatch = newError(
		CodeMasterSecretChecksumMismatch,
		apperrors.ErrConflict,
		"master secret checksum mismatch",
	)

	// ErrEphemeralSecretNotFound is returned for an epoch that was never stored.
	ErrEphemeralSecretNotFound = newError(
		CodeEphemeralSecretNotFound,
		apperrors.ErrNotFound,
		"ephemeral secret not found",
	)

	// ErrEphemeralSecretNotReplicated is returned for an epoch below the replication threshold.
	ErrEphemeralSecretNotReplicated = newError(
		CodeEphemeralSecretNotReplicated,
		apperrors.ErrRetryable,
		"ephemeral secret not replicated",
	)

	// ErrEphemeralSecretNotPublished is returned for a replicated epoch that is not published yet.
	ErrEphemeralSecretNotPublished = newError(
		CodeEphemeralSecretNotPublished,
		apperrors.ErrRetryable,
		"ephemeral secret not published",
	)

	// ErrEphemeralSecretChecksumMismatch is returned when replicas disagree on an epoch.
	ErrEphemeralSecretChecksumMismatch = newError(
		CodeEphemeralSecretChecksumMismatch,
		apperrors.ErrConflict,
		"ephemeral secret checksum mismatch",
	)

	// ErrOther is the passthrough for failures outside the taxonomy.
	ErrOther = newError(CodeOther, nil, "key manager failure")
)

// ErrPolicyNotFound is returned by the store when a runtime has no policy yet.
// It is not a condition of its own: the gate reports it as ErrNotInitialized.
var ErrPolicyNotFound = apperrors.Wrap(apperrors.ErrNotFound, "policy not found")

func withVersions(base *Error, message string, expected, got uint64) error {
	return &Error{
		Code:     base.Code,
		Expected: expected,
		Got:      got,
		message:  message,
		category: base.category,
	}
}

func withCause(base *Error, cause error) error {
	return &Error{Code: base.Code, message: base.message, category: base.category, cause: cause}
}

// NewInvalidEpochError reports an epoch other than the one expected.
func NewInvalidEpochError(expected, got uint64) error {
	return withVersions(
		ErrInvalidEpoch,
		fmt.Sprintf("invalid epoch (expected: %d, got: %d)", expected, got),
		expected,
		got,
	)
}

// NewInvalidGenerationError reports a generation other than the one expected.
func NewInvalidGenerationError(expected, got uint64) error {
	return withVersions(
		ErrInvalidGeneration,
		fmt.Sprintf("invalid generation (expected: %d, got: %d)", expected, got),
		expected,
		got,
	)
}

// NewGenerationFromFutureError reports a version beyond the newest allowed one.
func NewGenerationFromFutureError(maxVersion, got uint64) error {
	return withVersions(
		ErrGenerationFromFuture,
		fmt.Sprintf("generation in the future (max: %d, got: %d)", maxVersion, got),
		maxVersion,
		got,
	)
}

// NewMasterSecretNotFoundError reports a missing master secret generation.
func NewMasterSecretNotFoundError(generation uint64) error {
	return withVersions(
		ErrMasterSecretNotFound,
		fmt.Sprintf("master secret generation %d not found", generation),
		0,
		generation,
	)
}

// NewMasterSecretNotReplicatedError reports a master secret generation below the replication threshold.
func NewMasterSecretNotReplicatedError(generation uint64) error {
	return withVersions(
		ErrMasterSecretNotReplicated,
		fmt.Sprintf("master secret generation %d not replicated", generation),
		0,
		generation,
	)
}

// NewEphemeralSecretNotFoundError reports a missing ephemeral secret epoch.
func NewEphemeralSecretNotFoundError(epoch uint64) error {
	return withVersions(
		ErrEphemeralSecretNotFound,
		fmt.Sprintf("ephemeral secret for epoch %d not found", epoch),
		0,
		epoch,
	)
}

// NewEphemeralSecretNotReplicatedError reports an ephemeral secret epoch below the replication threshold.
func NewEphemeralSecretNotReplicatedError(epoch uint64) error {
	return withVersions(
		ErrEphemeralSecretNotReplicated,
		fmt.Sprintf("ephemeral secret for epoch %d not replicated", epoch),
		0,
		epoch,
	)
}

// NewPolicyInvalidError wraps the structural reason a policy was rejected.
func NewPolicyInvalidError(cause error) error {
	return withCause(ErrPolicyInvalid, cause)
}

// NewInvalidSignatureError wraps the reason a signature failed verification.
func NewInvalidSignatureError(cause error) error {
	return withCause(ErrInvalidSignature, cause)
}

// NewStateCorruptedError wraps the integrity failure detected on read.
func NewStateCorruptedError(cause error) error {
	return withCause(ErrStateCorrupted, cause)
}

// NewOtherError wraps a failure that has no dedicated condition.
func NewOtherError(cause error) error {
	if cause == nil {
		return nil
	}
	return withCause(ErrOther, cause)
}

// CodeOf returns the condition code of err, or CodeOther when err is not a key manager condition.
func CodeOf(err error) Code {
	var kmErr *Error
	if apperrors.As(err, &kmErr) {
		return kmErr.Code
	}
	return CodeOther
}

// Retryable reports whether the same request may succeed once state catches up.
func Retryable(err error) bool {
	return apperrors.Is(err, apperrors.ErrRetryable)
}

// Fatal reports whether err means this key manager cannot serve the runtime
// at all, as opposed to refusing one request.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case CodeNotInitialized,
		CodeStateCorrupted,
		CodeRuntimeMismatch,
		CodeStatusNotFound,
		CodeActiveDeploymentNotFound:
		return true
	default:
		return false
	}
}

// NotFoundFor returns the not-found condition of a kind.
func NotFoundFor(kind Kind, version uint64) error {
	if kind == KindEphemeral {
		return NewEphemeralSecretNotFoundError(version)
	}
	return NewMasterSecretNotFoundError(version)
}

// NotReplicatedFor returns the not-replicated condition of a kind.
func NotReplicatedFor(kind Kind, version uint64) error {
	if kind == KindEphemeral {
		return NewEphemeralSecretNotReplicatedError(version)
	}
	return NewMasterSecretNotReplicatedError(version)
}

// ChecksumMismatchFor returns the checksum mismatch condition of a kind.
func ChecksumMismatchFor(kind Kind) error {
	if kind == KindEphemeral {
		return ErrEphemeralSecretChecksumMismatch
	}
	return ErrMasterSecretChecksumMismatch
}
