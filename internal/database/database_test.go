package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnect(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		db, err := Connect(Config{Driver: "sqlite3", ConnectionString: "file::memory:"})
		assert.Nil(t, db)
		assert.ErrorContains(t, err, `unsupported database driver "sqlite3"`)
	})

	t.Run("malformed postgres dsn", func(t *testing.T) {
		db, err := Connect(Config{
			Driver:             DriverPostgres,
			ConnectionString:   "postgres://%zz",
			MaxOpenConnections: 4,
			MaxIdleConnections: 2,
			ConnMaxLifetime:    time.Minute,
		})
		assert.Nil(t, db)
		assert.Error(t, err)
	})

	t.Run("malformed mysql dsn", func(t *testing.T) {
		db, err := Connect(Config{Driver: DriverMySQL, ConnectionString: "not a dsn"})
		assert.Nil(t, db)
		assert.Error(t, err)
	})
}
