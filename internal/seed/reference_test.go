package seed

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookingforticket/ticketwatch/internal/store"
)

func TestSeedReferenceDataIsIdempotent(t *testing.T) {
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	first := SeedReferenceData(ctx, st, slog.Default())
	assert.Equal(t, "stations=2 brands=4 errors=0", first.Summary())

	second := SeedReferenceData(ctx, st, slog.Default())
	assert.Empty(t, second.Errors)

	stations, err := st.ListStations(ctx)
	require.NoError(t, err)
	assert.Len(t, stations, 2)

	brands, err := st.ListBrands(ctx)
	require.NoError(t, err)
	require.Len(t, brands, 4)
	ids := map[int64]bool{}
	for _, b := range brands {
		ids[b.ID] = true
	}
	assert.Len(t, ids, 4, "re-seeding keeps brand ids")
}

type failingWriter struct{ failStation string }

func (f failingWriter) UpsertStation(ctx context.Context, st store.Station) error {
	if st.ID == f.failStation {
		return errors.New("constraint violation")
	}
	return nil
}

func (failingWriter) UpsertBrand(ctx context.Context, b store.Brand) error { return nil }

func TestSeedContinuesPastFailures(t *testing.T) {
	result := SeedReferenceData(context.Background(), failingWriter{failStation: "2900000"}, slog.Default())

	assert.Equal(t, 1, result.StationsUpserted)
	assert.Equal(t, 4, result.BrandsUpserted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "upsert station 2900000")
}
