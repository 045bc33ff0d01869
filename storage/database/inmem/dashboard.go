package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
)

type dashboardRepository struct {
	db *dashboardTable
}

var _ dashboard.Repository = (*dashboardRepository)(nil)

func NewDashboardRepository(db *DB) dashboard.Repository {
	return &dashboardRepository{db: db.dashboard}
}

// clone deep copies d so callers never share slices with the table.
func clone(d dashboard.Dashboard) dashboard.Dashboard {
	d.Fields = append([]dashboard.Field{}, d.Fields...)
	widgets := make([]dashboard.Widget, len(d.Widgets))
	for i, w := range d.Widgets {
		w.Rules = append([]dashboard.Rule(nil), w.Rules...)
		if w.AxisLabels != nil {
			labels := *w.AxisLabels
			w.AxisLabels = &labels
		}
		widgets[i] = w
	}
	d.Widgets = widgets
	d.AssignedUsers = append([]string{}, d.AssignedUsers...)
	return d
}

func (repo *dashboardRepository) apiKeyTaken(d dashboard.Dashboard) bool {
	for _, other := range repo.db.table {
		if other.ID != d.ID && other.APIKey == d.APIKey {
			return true
		}
	}
	return false
}

func (repo *dashboardRepository) CheckNameUniqueness(_ context.Context, name string, excluded ...dashboard.Dashboard) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	skip := make(map[string]bool, len(excluded))
	for _, d := range excluded {
		skip[d.ID] = true
	}
	for _, d := range repo.db.table {
		if !skip[d.ID] && strings.EqualFold(d.Name, name) {
			return dashboard.ErrNameExists
		}
	}
	return nil
}

func (repo *dashboardRepository) CreateDashboard(_ context.Context, d dashboard.Dashboard) (dashboard.Dashboard, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.apiKeyTaken(d) {
		return dashboard.Dashboard{}, dashboard.ErrAPIKeyExists
	}
	stored := clone(d)
	repo.db.table[d.ID] = &stored
	return clone(stored), nil
}

// QueryDashboards returns the matching dashboards, newest first.
func (repo *dashboardRepository) QueryDashboards(_ context.Context, filter *dashboard.QueryFilter) ([]dashboard.Dashboard, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	dashboards := make([]dashboard.Dashboard, 0, len(repo.db.table))
	for _, d := range repo.db.table {
		if filter.Match(*d) {
			dashboards = append(dashboards, clone(*d))
		}
	}
	sort.Slice(dashboards, func(i, j int) bool {
		if dashboards[i].CreatedAt.Equal(dashboards[j].CreatedAt) {
			return dashboards[i].Name < dashboards[j].Name
		}
		return dashboards[i].CreatedAt.After(dashboards[j].CreatedAt)
	})
	return dashboards, nil
}

func (repo *dashboardRepository) GetDashboardByID(_ context.Context, id string) (dashboard.Dashboard, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if d, ok := repo.db.table[id]; ok {
		return clone(*d), nil
	}
	return dashboard.Dashboard{}, dashboard.ErrNotFound
}

func (repo *dashboardRepository) GetDashboardByAPIKey(_ context.Context, key string) (dashboard.Dashboard, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, d := range repo.db.table {
		if d.APIKey == key {
			return clone(*d), nil
		}
	}
	return dashboard.Dashboard{}, dashboard.ErrNotFound
}

func (repo *dashboardRepository) UpdateDashboard(_ context.Context, d dashboard.Dashboard) (dashboard.Dashboard, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[d.ID]; !ok {
		return dashboard.Dashboard{}, dashboard.ErrNotFound
	}
	if repo.apiKeyTaken(d) {
		return dashboard.Dashboard{}, dashboard.ErrAPIKeyExists
	}
	stored := clone(d)
	repo.db.table[d.ID] = &stored
	return clone(stored), nil
}

func (repo *dashboardRepository) SetFieldValue(_ context.Context, id, field string, value float64, ts time.Time, onlyIfNewer bool) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	d, ok := repo.db.table[id]
	if !ok {
		return false, dashboard.ErrNotFound
	}
	if _, ok = d.Field(field); !ok {
		return false, dashboard.ErrFieldNotFound
	}
	return d.SetFieldValue(field, value, ts, onlyIfNewer), nil
}

func (repo *dashboardRepository) DeleteDashboard(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return dashboard.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
