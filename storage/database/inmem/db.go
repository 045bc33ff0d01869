package inmemdb

import (
	"sort"
	"sync"

	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

type (
	// DB is a process local store used by tests and by the API when no database is configured.
	DB struct {
		user      *userTable
		dashboard *dashboardTable
		point     *pointTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	dashboardTable struct {
		sync.RWMutex
		table map[string]*dashboard.Dashboard
	}

	pointTable struct {
		sync.RWMutex
		table map[string][]telemetry.DataPoint // by dashboard ID, oldest first
	}
)

func Open() *DB {
	return &DB{
		user:      &userTable{table: make(map[string]*user.User)},
		dashboard: &dashboardTable{table: make(map[string]*dashboard.Dashboard)},
		point:     &pointTable{table: make(map[string][]telemetry.DataPoint)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.point.Lock()
	db.point.table = make(map[string][]telemetry.DataPoint)
	db.point.Unlock()

	db.dashboard.Lock()
	db.dashboard.table = make(map[string]*dashboard.Dashboard)
	db.dashboard.Unlock()

	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()
}

// dashboardsOf returns the IDs of the dashboards assigned to userID.
func (db *DB) dashboardsOf(userID string) []string {
	db.dashboard.RLock()
	defer db.dashboard.RUnlock()

	ids := make([]string, 0)
	for _, d := range db.dashboard.table {
		if d.IsAssigned(userID) {
			ids = append(ids, d.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// unassign removes userID from every dashboard.
func (db *DB) unassign(userID string) {
	db.dashboard.Lock()
	defer db.dashboard.Unlock()

	for _, d := range db.dashboard.table {
		kept := d.AssignedUsers[:0]
		for _, id := range d.AssignedUsers {
			if id != userID {
				kept = append(kept, id)
			}
		}
		d.AssignedUsers = kept
	}
}
