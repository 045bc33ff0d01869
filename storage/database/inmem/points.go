package inmemdb

import (
	"context"
	"sort"

	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
)

type pointRepository struct {
	db *pointTable
}

var _ telemetry.Repository = (*pointRepository)(nil)

func NewPointRepository(db *DB) telemetry.Repository {
	return &pointRepository{db: db.point}
}

func copyMetadata(m telemetry.Metadata) telemetry.Metadata {
	cp := make(telemetry.Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func (repo *pointRepository) AddPoint(_ context.Context, p telemetry.DataPoint) (telemetry.DataPoint, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.Timestamp = p.Timestamp.UTC()
	p.Metadata = copyMetadata(p.Metadata)
	points := repo.db.table[p.DashboardID]

	// keep points ordered by timestamp, then ID
	idx := sort.Search(len(points), func(i int) bool {
		if points[i].Timestamp.Equal(p.Timestamp) {
			return points[i].ID > p.ID
		}
		return points[i].Timestamp.After(p.Timestamp)
	})
	points = append(points, telemetry.DataPoint{})
	copy(points[idx+1:], points[idx:])
	points[idx] = p
	repo.db.table[p.DashboardID] = points

	p.Metadata = copyMetadata(p.Metadata)
	return p, nil
}

func (repo *pointRepository) QueryPoints(_ context.Context, filter telemetry.PointFilter) ([]telemetry.DataPoint, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	matched := make([]telemetry.DataPoint, 0)
	for _, p := range repo.db.table[filter.DashboardID] {
		if filter.Match(p) {
			p.Metadata = copyMetadata(p.Metadata)
			matched = append(matched, p)
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched, nil
}

func (repo *pointRepository) CountPoints(_ context.Context, dashboardID string) (map[string]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counts := make(map[string]int)
	for _, p := range repo.db.table[dashboardID] {
		counts[p.FieldName]++
	}
	return counts, nil
}

func (repo *pointRepository) DeleteDashboardPoints(_ context.Context, dashboardID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.table, dashboardID)
	return nil
}
