// Package seed upserts the reference data (stations and train brands) the
// wizard offers and the scheduler filters on.
package seed

import "fmt"

// SeedResult tracks counts and errors from a seeding operation.
type SeedResult struct {
	StationsUpserted int
	BrandsUpserted   int
	Errors           []string
}

// Add merges another SeedResult into this one.
func (r *SeedResult) Add(other SeedResult) {
	r.StationsUpserted += other.StationsUpserted
	r.BrandsUpserted += other.BrandsUpserted
	r.Errors = append(r.Errors, other.Errors...)
}

// AddErrorf records a formatted error message.
func (r *SeedResult) AddErrorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the seed operation.
func (r *SeedResult) Summary() string {
	return fmt.Sprintf("stations=%d brands=%d errors=%d",
		r.StationsUpserted, r.BrandsUpserted, len(r.Errors))
}
