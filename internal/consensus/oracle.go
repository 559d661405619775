// Package consensus provides the freshness collaborator of the key manager:
// the latest consensus height and the current epoch.
package consensus

import (
	"context"

	apperrors "github.com/allisson/keymanager/internal/errors"
)

// ErrUnavailable is returned when the oracle cannot report progress.
var ErrUnavailable = apperrors.Wrap(apperrors.ErrServiceUnavailable, "consensus oracle unavailable")

// ErrRegression is returned when a manual update would move the height or epoch backwards.
var ErrRegression = apperrors.Wrap(apperrors.ErrConflict, "consensus height or epoch cannot decrease")

// Oracle reports consensus progress. Both values never decrease.
type Oracle interface {
	LatestHeight(ctx context.Context) (uint64, error)
	CurrentEpoch(ctx context.Context) (uint64, error)
}
