// Package location keeps the technician's live position during an active
// job. It is a best-effort last-write-wins stream in Redis and never
// touches the job row or its version.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistriworks/backend/internal/models"
)

const ttl = 5 * time.Minute

// Point is one live position sample.
type Point struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// Tracker reads and writes live positions.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func key(jobID string) string { return "loc:job:" + jobID }

// Update overwrites the job's live position. Last write wins.
func (t *Tracker) Update(ctx context.Context, jobID string, lat, lng float64) error {
	body, err := json.Marshal(Point{Lat: lat, Lng: lng, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return t.client.Set(ctx, key(jobID), body, ttl).Err()
}

// Latest returns the most recent sample, or ErrNotFound when the stream
// is cold.
func (t *Tracker) Latest(ctx context.Context, jobID string) (Point, error) {
	raw, err := t.client.Get(ctx, key(jobID)).Result()
	if err == redis.Nil {
		return Point{}, models.ErrNotFound
	}
	if err != nil {
		return Point{}, fmt.Errorf("read live location: %w", err)
	}
	var p Point
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Point{}, fmt.Errorf("decode live location: %w", err)
	}
	return p, nil
}
