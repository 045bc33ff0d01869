package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
)

const dashboardColumns = `id, name, description, is_public, api_key, fields, widgets, created_by, created_at, updated_at`

// dashboardRow is a dashboards row. Fields & widgets live in JSONB columns.
type dashboardRow struct {
	dashboard.Dashboard
	FieldsJSON  types.JSONText `db:"fields"`
	WidgetsJSON types.JSONText `db:"widgets"`
}

func newDashboardRow(d dashboard.Dashboard) (dashboardRow, error) {
	row := dashboardRow{Dashboard: d}
	fields, err := json.Marshal(d.Fields)
	if err != nil {
		return row, errors.Wrap(err, "encoding fields")
	}
	widgets, err := json.Marshal(d.Widgets)
	if err != nil {
		return row, errors.Wrap(err, "encoding widgets")
	}
	row.FieldsJSON, row.WidgetsJSON = fields, widgets
	return row, nil
}

func (row dashboardRow) dashboard() (dashboard.Dashboard, error) {
	d := row.Dashboard
	d.Fields, d.Widgets = []dashboard.Field{}, []dashboard.Widget{}
	if err := row.FieldsJSON.Unmarshal(&d.Fields); err != nil {
		return d, errors.Wrap(err, "decoding fields")
	}
	if err := row.WidgetsJSON.Unmarshal(&d.Widgets); err != nil {
		return d, errors.Wrap(err, "decoding widgets")
	}
	return d, nil
}

type dashboardRepository struct {
	db *sqlx.DB
}

var _ dashboard.Repository = (*dashboardRepository)(nil)

func NewDashboardRepository(db *sqlx.DB) dashboard.Repository {
	return &dashboardRepository{db: db}
}

// withUsers decodes rows and loads their assigned users.
func (repo *dashboardRepository) withUsers(ctx context.Context, rows []dashboardRow) ([]dashboard.Dashboard, error) {
	dashboards := make([]dashboard.Dashboard, len(rows))
	ids := make([]string, len(rows))
	idx := make(map[string]int, len(rows))
	for i, row := range rows {
		d, err := row.dashboard()
		if err != nil {
			return nil, err
		}
		d.AssignedUsers = []string{}
		dashboards[i] = d
		ids[i] = d.ID
		idx[d.ID] = i
	}
	if len(rows) == 0 {
		return dashboards, nil
	}

	var assignments []struct {
		DashboardID string `db:"dashboard_id"`
		UserID      string `db:"user_id"`
	}
	q := `SELECT dashboard_id, user_id FROM dashboard_users WHERE dashboard_id = ANY($1::uuid[]) ORDER BY user_id`
	if err := repo.db.SelectContext(ctx, &assignments, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "selecting assigned users")
	}
	for _, a := range assignments {
		i := idx[a.DashboardID]
		dashboards[i].AssignedUsers = append(dashboards[i].AssignedUsers, a.UserID)
	}
	return dashboards, nil
}

func (repo *dashboardRepository) getOne(ctx context.Context, cond string, args ...interface{}) (dashboard.Dashboard, error) {
	var row dashboardRow
	q := `SELECT ` + dashboardColumns + ` FROM dashboards WHERE ` + cond
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return dashboard.Dashboard{}, notFound(err, dashboard.ErrNotFound)
	}
	dashboards, err := repo.withUsers(ctx, []dashboardRow{row})
	if err != nil {
		return dashboard.Dashboard{}, err
	}
	return dashboards[0], nil
}

func setAssignments(ctx context.Context, tx *sqlx.Tx, d dashboard.Dashboard) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM dashboard_users WHERE dashboard_id = $1`, d.ID); err != nil {
		return errors.Wrap(err, "clearing assigned users")
	}
	if len(d.AssignedUsers) == 0 {
		return nil
	}
	q := `INSERT INTO dashboard_users (dashboard_id, user_id)
		SELECT $1, u FROM unnest($2::uuid[]) AS u ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, q, d.ID, pq.Array(d.AssignedUsers)); err != nil {
		return errors.Wrap(err, "assigning users")
	}
	return nil
}

func dashboardWriteErr(err error, msg string) error {
	switch {
	case isUniqueViolation(err, "dashboards_name_key"):
		return dashboard.ErrNameExists
	case isUniqueViolation(err, "dashboards_api_key_key"):
		return dashboard.ErrAPIKeyExists
	}
	return errors.Wrap(err, msg)
}

func (repo *dashboardRepository) CheckNameUniqueness(ctx context.Context, name string, excluded ...dashboard.Dashboard) error {
	ids := make([]string, 0, len(excluded))
	for _, d := range excluded {
		ids = append(ids, d.ID)
	}
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM dashboards WHERE name = $1 AND NOT (id = ANY($2::uuid[])))`
	if err := repo.db.GetContext(ctx, &exists, q, name, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "checking name uniqueness")
	}
	if exists {
		return dashboard.ErrNameExists
	}
	return nil
}

func (repo *dashboardRepository) CreateDashboard(ctx context.Context, d dashboard.Dashboard) (dashboard.Dashboard, error) {
	row, err := newDashboardRow(d)
	if err != nil {
		return dashboard.Dashboard{}, err
	}
	err = inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO dashboards (` + dashboardColumns + `) VALUES (
			:id, :name, :description, :is_public, :api_key, :fields, :widgets, :created_by, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return dashboardWriteErr(err, "inserting dashboard")
		}
		return setAssignments(ctx, tx, d)
	})
	if err != nil {
		return dashboard.Dashboard{}, err
	}
	return repo.GetDashboardByID(ctx, d.ID)
}

// QueryDashboards returns the matching dashboards, newest first.
func (repo *dashboardRepository) QueryDashboards(ctx context.Context, filter *dashboard.QueryFilter) ([]dashboard.Dashboard, error) {
	var w where
	if filter != nil && filter.VisibleTo != "" {
		w.add(`(is_public OR created_by = ? OR EXISTS (
			SELECT 1 FROM dashboard_users du WHERE du.dashboard_id = dashboards.id AND du.user_id = ?))`,
			filter.VisibleTo, filter.VisibleTo)
	}

	rows := make([]dashboardRow, 0)
	q := sqlx.Rebind(sqlx.DOLLAR, `SELECT `+dashboardColumns+` FROM dashboards`+w.String()+` ORDER BY created_at DESC, name ASC`)
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting dashboards")
	}
	return repo.withUsers(ctx, rows)
}

func (repo *dashboardRepository) GetDashboardByID(ctx context.Context, id string) (dashboard.Dashboard, error) {
	return repo.getOne(ctx, "id = $1", id)
}

func (repo *dashboardRepository) GetDashboardByAPIKey(ctx context.Context, key string) (dashboard.Dashboard, error) {
	return repo.getOne(ctx, "api_key = $1", key)
}

func (repo *dashboardRepository) UpdateDashboard(ctx context.Context, d dashboard.Dashboard) (dashboard.Dashboard, error) {
	row, err := newDashboardRow(d)
	if err != nil {
		return dashboard.Dashboard{}, err
	}
	err = inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := `UPDATE dashboards SET
			name = :name, description = :description, is_public = :is_public, api_key = :api_key,
			fields = :fields, widgets = :widgets, updated_at = :updated_at
			WHERE id = :id`
		res, err := tx.NamedExecContext(ctx, q, row)
		if err != nil {
			return dashboardWriteErr(err, "updating dashboard")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return dashboard.ErrNotFound
		}
		return setAssignments(ctx, tx, d)
	})
	if err != nil {
		return dashboard.Dashboard{}, err
	}
	return repo.GetDashboardByID(ctx, d.ID)
}

// SetFieldValue locks the dashboard row while its fields are rewritten.
func (repo *dashboardRepository) SetFieldValue(ctx context.Context, id, field string, value float64, ts time.Time, onlyIfNewer bool) (bool, error) {
	var changed bool
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var fieldsJSON types.JSONText
		if err := tx.GetContext(ctx, &fieldsJSON, `SELECT fields FROM dashboards WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err, dashboard.ErrNotFound)
		}
		d := dashboard.Dashboard{ID: id}
		if err := fieldsJSON.Unmarshal(&d.Fields); err != nil {
			return errors.Wrap(err, "decoding fields")
		}
		if _, ok := d.Field(field); !ok {
			return dashboard.ErrFieldNotFound
		}
		if changed = d.SetFieldValue(field, value, ts, onlyIfNewer); !changed {
			return nil
		}

		fields, err := json.Marshal(d.Fields)
		if err != nil {
			return errors.Wrap(err, "encoding fields")
		}
		_, err = tx.ExecContext(ctx, `UPDATE dashboards SET fields = $1 WHERE id = $2`, types.JSONText(fields), id)
		return errors.Wrap(err, "updating fields")
	})
	return changed, err
}

// DeleteDashboard removes the dashboard. Assignments & data points cascade.
func (repo *dashboardRepository) DeleteDashboard(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM dashboards WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting dashboard")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dashboard.ErrNotFound
	}
	return nil
}
