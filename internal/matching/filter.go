// Package matching implements the read-only open-job filter for
// technicians: skill intersection, service radius, nearest first.
package matching

import (
	"context"
	"iter"
	"math"
	"sort"

	"github.com/mistriworks/backend/internal/models"
)

// JobLister is the slice of the store the filter reads from.
type JobLister interface {
	ListOpenJobsByCategory(ctx context.Context, categories []string) ([]models.Job, error)
}

// Filter answers FindOpenJobs queries. It holds no state beyond the store
// handle and never mutates anything.
type Filter struct {
	store JobLister
}

func New(store JobLister) *Filter {
	return &Filter{store: store}
}

// Match pairs a job with its distance from the querying technician.
type Match struct {
	Job        models.Job
	DistanceKm float64
}

// FindOpenJobs returns a lazy sequence of OPEN jobs whose category is in
// skillSet and whose great-circle distance from origin is within radiusKm,
// ordered nearest first. The sequence is restartable: each range re-reads
// the store. A read failure is yielded once as the error of a zero Match.
func (f *Filter) FindOpenJobs(ctx context.Context, origin models.Location, radiusKm float64, skillSet []string) (iter.Seq2[Match, error], error) {
	if radiusKm <= 0 {
		return nil, models.Validationf("radius must be positive, got %v", radiusKm)
	}
	if len(skillSet) == 0 {
		return nil, models.Validationf("skill set must not be empty")
	}

	return func(yield func(Match, error) bool) {
		jobs, err := f.store.ListOpenJobsByCategory(ctx, skillSet)
		if err != nil {
			yield(Match{}, err)
			return
		}
		matches := make([]Match, 0, len(jobs))
		for _, job := range jobs {
			d := haversineKm(origin.Lat, origin.Lng, job.Location.Lat, job.Location.Lng)
			if d <= radiusKm {
				matches = append(matches, Match{Job: job, DistanceKm: d})
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].DistanceKm < matches[j].DistanceKm })
		for _, m := range matches {
			if !yield(m, nil) {
				return
			}
		}
	}, nil
}

const earthRadiusKm = 6371.0

// haversineKm computes the great-circle distance between two WGS84 points.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const deg = math.Pi / 180
	dLat := (lat2 - lat1) * deg
	dLng := (lng2 - lng1) * deg
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*deg)*math.Cos(lat2*deg)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
