package http

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/allisson/keymanager/internal/keymanager/domain"
	"github.com/allisson/keymanager/internal/keymanager/http/dto"
)

// runtimeParam returns the validated :runtime URL parameter.
func runtimeParam(c *gin.Context) (string, error) {
	runtimeID := c.Param("runtime")
	if err := dto.ValidateRuntimeID(runtimeID); err != nil {
		return "", err
	}
	return runtimeID, nil
}

// versionParam parses a generation or epoch URL parameter. Versions are
// stored as signed 64-bit columns, so the upper bound is math.MaxInt64.
func versionParam(c *gin.Context, name string) (uint64, error) {
	version, err := strconv.ParseUint(c.Param(name), 10, 63)
	if err != nil {
		return 0, fmt.Errorf(
			"invalid %s parameter: must be an integer between 0 and %d",
			name,
			int64(math.MaxInt64),
		)
	}
	return version, nil
}

// recordKeyParams parses the :runtime/:kind/:version triple of replication routes.
func recordKeyParams(c *gin.Context) (domain.RecordKey, error) {
	runtimeID, err := runtimeParam(c)
	if err != nil {
		return domain.RecordKey{}, err
	}
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		return domain.RecordKey{}, err
	}
	version, err := versionParam(c, "version")
	if err != nil {
		return domain.RecordKey{}, err
	}
	return domain.RecordKey{RuntimeID: runtimeID, Kind: kind, Version: version}, nil
}
