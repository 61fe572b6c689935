package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDBName(t *testing.T) {
	cases := []struct {
		name     string
		dsn      string
		database string
		want     string
	}{
		{
			name:     "replaces database keeping options",
			dsn:      "postgres://gtfs:secret@db:5432/postgres?sslmode=disable",
			database: "gtfs_madrid_2",
			want:     "postgres://gtfs:secret@db:5432/gtfs_madrid_2?sslmode=disable",
		},
		{
			name:     "postgresql scheme",
			dsn:      "postgresql://db/postgres",
			database: "gtfs_nyc_7",
			want:     "postgresql://db/gtfs_nyc_7",
		},
		{
			name:     "bare host gains a scheme",
			dsn:      "gtfs@db:5432/postgres",
			database: "gtfs_madrid_2",
			want:     "postgres://gtfs@db:5432/gtfs_madrid_2",
		},
		{
			name:     "leading slash tolerated",
			dsn:      "postgres://db/postgres",
			database: "/gtfs_madrid_2",
			want:     "postgres://db/gtfs_madrid_2",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := WithDBName(tc.dsn, tc.database)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("empty DSN", func(t *testing.T) {
		_, err := WithDBName("", "gtfs_madrid_2")
		assert.Error(t, err)
	})
	t.Run("non-postgres scheme", func(t *testing.T) {
		_, err := WithDBName("mysql://db/schedule", "gtfs_madrid_2")
		assert.Error(t, err)
	})
}
