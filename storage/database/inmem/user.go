package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) table() *userTable { return repo.db.user }

// get returns a copy of the stored user with its assigned dashboards. Callers hold the table lock.
func (repo *userRepository) get(u *user.User) user.User {
	usr := *u
	usr.PasswordHash = append([]byte(nil), u.PasswordHash...)
	usr.AssignedDashboards = repo.db.dashboardsOf(u.ID)
	return usr
}

func (repo *userRepository) find(match func(u *user.User) bool) (user.User, error) {
	tbl := repo.table()
	tbl.RLock()
	defer tbl.RUnlock()

	for _, u := range tbl.table {
		if match(u) {
			return repo.get(u), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	tbl := repo.table()
	tbl.RLock()
	defer tbl.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = true
	}

	for _, usr := range tbl.table {
		if excluded[usr.ID] {
			continue
		}
		if strings.EqualFold(usr.Username, username) {
			return user.ErrUsernameExists
		}
		if strings.EqualFold(usr.Email, email) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	tbl := repo.table()
	tbl.Lock()
	defer tbl.Unlock()

	usr.AssignedDashboards = nil
	tbl.table[usr.ID] = &usr
	return repo.get(&usr), nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, orderings []core.DBOrdering) ([]user.User, error) {
	tbl := repo.table()
	tbl.RLock()
	defer tbl.RUnlock()

	users := make([]user.User, 0, len(tbl.table))
	for _, u := range tbl.table {
		if filter == nil || filter.Match(*u) {
			users = append(users, repo.get(u))
		}
	}
	sortUsers(users, orderings)
	return users, nil
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	tbl := repo.table()
	tbl.RLock()
	defer tbl.RUnlock()

	if u, ok := tbl.table[id]; ok {
		return repo.get(u), nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	return repo.find(func(u *user.User) bool { return strings.EqualFold(u.Username, username) })
}

func (repo *userRepository) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	return repo.find(func(u *user.User) bool { return strings.EqualFold(u.Email, email) })
}

func (repo *userRepository) GetUserByUsernameOrEmail(_ context.Context, username string) (user.User, error) {
	return repo.find(func(u *user.User) bool {
		return strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, username)
	})
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	tbl := repo.table()
	tbl.Lock()
	defer tbl.Unlock()

	if _, ok := tbl.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.AssignedDashboards = nil
	tbl.table[usr.ID] = &usr
	return repo.get(&usr), nil
}

func (repo *userRepository) DeleteUser(_ context.Context, id string) error {
	tbl := repo.table()
	tbl.Lock()
	_, ok := tbl.table[id]
	delete(tbl.table, id)
	tbl.Unlock()

	if !ok {
		return user.ErrNotFound
	}
	repo.db.unassign(id)
	return nil
}

// sortUsers orders users by username unless orderings say otherwise.
func sortUsers(users []user.User, orderings []core.DBOrdering) {
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "username", Ascending: true}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range orderings {
			cmp := compareUsers(users[i], users[j], ord.Field)
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func compareUsers(a, b user.User, field string) int {
	switch field {
	case "username":
		return strings.Compare(a.Username, b.Username)
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "created_at":
		return compareTimes(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	case "last_login":
		return compareTimes(a.LastLogin.Time.UnixNano(), b.LastLogin.Time.UnixNano())
	}
	return 0
}

func compareTimes(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
