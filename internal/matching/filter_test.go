package matching_test

import (
	"context"
	"testing"

	"github.com/mistriworks/backend/internal/matching"
	"github.com/mistriworks/backend/internal/models"
	"github.com/mistriworks/backend/internal/store"
)

// Connaught Place, Delhi as the technician's location; jobs at increasing
// distances around it.
var origin = models.Location{Lat: 28.6315, Lng: 77.2167}

func seedJob(t *testing.T, st *store.Memory, category string, lat, lng float64) models.Job {
	t.Helper()
	job, err := st.CreateJob(context.Background(), store.CreateJobParams{
		PosterID:        "dealer-1",
		Category:        category,
		Location:        models.Location{Lat: lat, Lng: lng},
		EstimatedCost:   5000,
		AllowBargaining: true,
		WarrantyDays:    7,
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestFindOpenJobs_OrdersByDistance(t *testing.T) {
	st := store.NewMemory()
	far := seedJob(t, st, "ac_repair", 28.70, 77.30)     // ~11 km out
	near := seedJob(t, st, "ac_repair", 28.6320, 77.2170) // ~60 m out
	mid := seedJob(t, st, "ac_repair", 28.65, 77.23)      // ~2.4 km out
	seedJob(t, st, "plumbing", 28.6320, 77.2170)          // wrong skill

	f := matching.New(st)
	seq, err := f.FindOpenJobs(context.Background(), origin, 50, []string{"ac_repair"})
	if err != nil {
		t.Fatalf("FindOpenJobs: %v", err)
	}

	var got []string
	for m, err := range seq {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		got = append(got, m.Job.ID)
	}
	want := []string{near.ID, mid.ID, far.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFindOpenJobs_RadiusCutoff(t *testing.T) {
	st := store.NewMemory()
	seedJob(t, st, "ac_repair", 28.70, 77.30) // ~11 km out
	near := seedJob(t, st, "ac_repair", 28.6320, 77.2170)

	f := matching.New(st)
	seq, err := f.FindOpenJobs(context.Background(), origin, 5, []string{"ac_repair"})
	if err != nil {
		t.Fatalf("FindOpenJobs: %v", err)
	}
	count := 0
	for m, err := range seq {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		if m.Job.ID != near.ID {
			t.Errorf("unexpected job %s beyond radius", m.Job.ID)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("got %d jobs within 5km, want 1", count)
	}
}

func TestFindOpenJobs_Restartable(t *testing.T) {
	st := store.NewMemory()
	seedJob(t, st, "ac_repair", 28.6320, 77.2170)

	f := matching.New(st)
	seq, err := f.FindOpenJobs(context.Background(), origin, 10, []string{"ac_repair"})
	if err != nil {
		t.Fatalf("FindOpenJobs: %v", err)
	}
	for pass := 0; pass < 2; pass++ {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("pass %d: %v", pass, err)
			}
			n++
		}
		if n != 1 {
			t.Fatalf("pass %d yielded %d jobs, want 1", pass, n)
		}
	}
}

func TestFindOpenJobs_InvalidInput(t *testing.T) {
	f := matching.New(store.NewMemory())

	if _, err := f.FindOpenJobs(context.Background(), origin, -1, []string{"ac_repair"}); !models.IsValidation(err) {
		t.Errorf("negative radius: expected ValidationError, got %v", err)
	}
	if _, err := f.FindOpenJobs(context.Background(), origin, 10, nil); !models.IsValidation(err) {
		t.Errorf("empty skill set: expected ValidationError, got %v", err)
	}
}
