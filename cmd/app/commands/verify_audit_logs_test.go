package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	usecaseMocks "github.com/allisson/keymanager/internal/keymanager/usecase/mocks"
)

func TestRunVerifyAuditLogs(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 2, 12, 30, 0, 0, time.UTC)

	t.Run("intact trail", func(t *testing.T) {
		audit := &usecaseMocks.MockAuditLogUseCase{}
		audit.On("Verify", ctx, start, end).Return(&domain.AuditVerificationReport{
			TotalChecked: 4,
			ValidCount:   4,
			StartTime:    start,
			EndTime:      end,
		}, nil).Once()

		var out bytes.Buffer
		err := RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "2026-10-01", "2026-10-02 12:30:00", "text")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Total Checked:  4")
		assert.Contains(t, out.String(), "Status: PASSED")
		audit.AssertExpectations(t)
	})

	t.Run("broken chain fails in json", func(t *testing.T) {
		audit := &usecaseMocks.MockAuditLogUseCase{}
		audit.On("Verify", ctx, start, end).Return(&domain.AuditVerificationReport{
			TotalChecked:   3,
			ValidCount:     3,
			BrokenLinks:    1,
			InvalidEntries: []uint64{7},
		}, nil).Once()

		var out bytes.Buffer
		err := RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "2026-10-01", "2026-10-02 12:30:00", "json")
		assert.ErrorContains(t, err, "1 broken link(s)")

		var result verifyAuditResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &result))
		assert.False(t, result.Passed)
		assert.Equal(t, []uint64{7}, result.InvalidEntries)
	})

	t.Run("empty range", func(t *testing.T) {
		audit := &usecaseMocks.MockAuditLogUseCase{}
		audit.On("Verify", ctx, mock.Anything, mock.Anything).
			Return(&domain.AuditVerificationReport{}, nil).
			Once()

		var out bytes.Buffer
		require.NoError(t, RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "2026-10-01", "2026-10-02", "text"))
		assert.Contains(t, out.String(), "No logs found")
	})

	t.Run("verification error", func(t *testing.T) {
		audit := &usecaseMocks.MockAuditLogUseCase{}
		audit.On("Verify", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

		err := RunVerifyAuditLogs(ctx, audit, discardLogger(), &bytes.Buffer{}, "2026-10-01", "2026-10-02", "text")
		assert.ErrorContains(t, err, "failed to verify audit logs")
	})

	t.Run("bad input", func(t *testing.T) {
		audit := &usecaseMocks.MockAuditLogUseCase{}
		var out bytes.Buffer

		assert.ErrorContains(t, RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "yesterday", "2026-10-02", "text"),
			"invalid start date")
		assert.ErrorContains(t, RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "2026-10-01", "2026/10/02", "text"),
			"invalid end date")
		assert.ErrorContains(t, RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "2026-10-02", "2026-10-01", "text"),
			"end date must be after start date")
		assert.ErrorContains(t, RunVerifyAuditLogs(ctx, audit, discardLogger(), &out, "2026-10-01", "2026-10-02", "xml"),
			"invalid format")
		audit.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})
}
