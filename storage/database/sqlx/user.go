package sqlxrepos

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

const userColumns = `id, username, email, password_hash, is_verified, is_approved, is_admin,
	approved_by, approved_at, rejected_by, rejected_at, created_at, updated_at, last_login`

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

// withDashboards loads the assigned dashboards of users.
func (repo *userRepository) withDashboards(ctx context.Context, users []user.User) ([]user.User, error) {
	if len(users) == 0 {
		return users, nil
	}
	ids := make([]string, len(users))
	idx := make(map[string]int, len(users))
	for i, usr := range users {
		ids[i] = usr.ID
		idx[usr.ID] = i
		users[i].AssignedDashboards = []string{}
	}

	var rows []struct {
		UserID      string `db:"user_id"`
		DashboardID string `db:"dashboard_id"`
	}
	q := `SELECT user_id, dashboard_id FROM dashboard_users WHERE user_id = ANY($1::uuid[]) ORDER BY dashboard_id`
	if err := repo.db.SelectContext(ctx, &rows, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "selecting assigned dashboards")
	}
	for _, row := range rows {
		i := idx[row.UserID]
		users[i].AssignedDashboards = append(users[i].AssignedDashboards, row.DashboardID)
	}
	return users, nil
}

func (repo *userRepository) getOne(ctx context.Context, cond string, args ...interface{}) (user.User, error) {
	var usr user.User
	q := sqlx.Rebind(sqlx.DOLLAR, `SELECT `+userColumns+` FROM users WHERE `+cond+` LIMIT 1`)
	if err := repo.db.GetContext(ctx, &usr, q, args...); err != nil {
		return user.User{}, notFound(err, user.ErrNotFound)
	}
	users, err := repo.withDashboards(ctx, []user.User{usr})
	if err != nil {
		return user.User{}, err
	}
	return users[0], nil
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	excluded := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded = append(excluded, usr.ID)
	}

	var found []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	q := `SELECT username, email FROM users WHERE (username = $1 OR email = $2) AND NOT (id = ANY($3::uuid[]))`
	if err := repo.db.SelectContext(ctx, &found, q, username, email, pq.Array(excluded)); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	for _, row := range found {
		if strings.EqualFold(row.Username, username) {
			return user.ErrUsernameExists
		}
	}
	if len(found) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `INSERT INTO users (` + userColumns + `) VALUES (
		:id, :username, :email, :password_hash, :is_verified, :is_approved, :is_admin,
		:approved_by, :approved_at, :rejected_by, :rejected_at, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, usr); err != nil {
		switch {
		case isUniqueViolation(err, "users_username_key"):
			return user.User{}, user.ErrUsernameExists
		case isUniqueViolation(err, "users_email_key"):
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	usr.AssignedDashboards = []string{}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, orderings []core.DBOrdering) ([]user.User, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(filter.Search) + "%"
			w.add("(username ILIKE ? OR email ILIKE ?)", pattern, pattern)
		}
		if filter.IsVerified != nil {
			w.add("is_verified = ?", *filter.IsVerified)
		}
		if filter.IsApproved != nil {
			w.add("is_approved = ?", *filter.IsApproved)
		}
		if filter.IsAdmin != nil {
			w.add("is_admin = ?", *filter.IsAdmin)
		}
		if filter.PendingOnly {
			w.add("NOT is_admin AND NOT (is_verified AND is_approved)")
		}
	}

	orderBy := "username ASC"
	if len(orderings) > 0 {
		clauses := make([]string, len(orderings))
		for i, ord := range orderings {
			clauses[i] = ord.String()
		}
		orderBy = strings.Join(clauses, ", ")
	}

	users := make([]user.User, 0)
	q := sqlx.Rebind(sqlx.DOLLAR, `SELECT `+userColumns+` FROM users`+w.String()+` ORDER BY `+orderBy)
	if err := repo.db.SelectContext(ctx, &users, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	return repo.withDashboards(ctx, users)
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getOne(ctx, "id = ?", id)
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getOne(ctx, "username = ?", username)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getOne(ctx, "email = ?", email)
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getOne(ctx, "(username = ? OR email = ?)", username, username)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET
		username = :username, email = :email, password_hash = :password_hash,
		is_verified = :is_verified, is_approved = :is_approved, is_admin = :is_admin,
		approved_by = :approved_by, approved_at = :approved_at,
		rejected_by = :rejected_by, rejected_at = :rejected_at,
		updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, usr)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users_username_key"):
			return user.User{}, user.ErrUsernameExists
		case isUniqueViolation(err, "users_email_key"):
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	users, err := repo.withDashboards(ctx, []user.User{usr})
	if err != nil {
		return user.User{}, err
	}
	return users[0], nil
}

// DeleteUser removes the user. Assignments cascade.
func (repo *userRepository) DeleteUser(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}
