package seed

import (
	"context"
	"log/slog"

	"github.com/lookingforticket/ticketwatch/internal/store"
)

// Writer is the subset of the store that seeding needs.
type Writer interface {
	UpsertStation(ctx context.Context, st store.Station) error
	UpsertBrand(ctx context.Context, b store.Brand) error
}

// Stations are the upstream station codes offered by the wizard.
var Stations = []store.Station{
	{ID: "2900000", Name: "Tashkent"},
	{ID: "2900800", Name: "Bukhara"},
}

// Brands are the train brands as the upstream reports them.
var Brands = []store.Brand{
	{Name: "скорый", DisplayName: "скорый"},
	{Name: "Sharq", DisplayName: "Sharq"},
	{Name: "Afrosiyob", DisplayName: "Afrosiyob"},
	{Name: "Пассажирский", DisplayName: "Пассажирский"},
}

// SeedReferenceData upserts Stations then Brands. Upserts are idempotent so
// it is safe to run on every start. A failing row is recorded and the rest
// continue.
func SeedReferenceData(ctx context.Context, w Writer, logger *slog.Logger) SeedResult {
	var result SeedResult

	logger.Info("Seeding stations...")
	result.Add(SeedStations(ctx, w, Stations))
	logger.Info("Seeding brands...")
	result.Add(SeedBrands(ctx, w, Brands))

	logger.Info("Reference data seed complete", "summary", result.Summary())
	return result
}

// SeedStations upserts each station.
func SeedStations(ctx context.Context, w Writer, stations []store.Station) SeedResult {
	var result SeedResult
	for _, st := range stations {
		if err := w.UpsertStation(ctx, st); err != nil {
			result.AddErrorf("upsert station %s: %v", st.ID, err)
			continue
		}
		result.StationsUpserted++
	}
	return result
}

// SeedBrands upserts each brand, matching existing rows by name.
func SeedBrands(ctx context.Context, w Writer, brands []store.Brand) SeedResult {
	var result SeedResult
	for _, b := range brands {
		if err := w.UpsertBrand(ctx, b); err != nil {
			result.AddErrorf("upsert brand %s: %v", b.Name, err)
			continue
		}
		result.BrandsUpserted++
	}
	return result
}
