package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
)

const pointColumns = `id, dashboard_id, field_name, value, timestamp, metadata`

type pointRepository struct {
	db *sqlx.DB
}

var _ telemetry.Repository = (*pointRepository)(nil)

func NewPointRepository(db *sqlx.DB) telemetry.Repository {
	return &pointRepository{db: db}
}

func (repo *pointRepository) AddPoint(ctx context.Context, p telemetry.DataPoint) (telemetry.DataPoint, error) {
	p.Timestamp = p.Timestamp.UTC()
	q := `INSERT INTO data_points (` + pointColumns + `)
		VALUES (:id, :dashboard_id, :field_name, :value, :timestamp, :metadata)`
	if _, err := repo.db.NamedExecContext(ctx, q, p); err != nil {
		return telemetry.DataPoint{}, errors.Wrap(err, "inserting data point")
	}
	return p, nil
}

// QueryPoints takes the newest Limit points, then returns them oldest first.
func (repo *pointRepository) QueryPoints(ctx context.Context, filter telemetry.PointFilter) ([]telemetry.DataPoint, error) {
	var w where
	w.add("dashboard_id = ?", filter.DashboardID)
	if filter.FieldName != "" {
		w.add("field_name = ?", filter.FieldName)
	}
	if !filter.Start.IsZero() {
		w.add("timestamp >= ?", filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		w.add("timestamp <= ?", filter.End.UTC())
	}

	q := `SELECT ` + pointColumns + ` FROM data_points` + w.String()
	if filter.Limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY timestamp DESC, id DESC LIMIT ?) AS newest`
		w.args = append(w.args, filter.Limit)
	}
	q = sqlx.Rebind(sqlx.DOLLAR, q+` ORDER BY timestamp ASC, id ASC`)

	points := make([]telemetry.DataPoint, 0)
	if err := repo.db.SelectContext(ctx, &points, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting data points")
	}
	for i := range points {
		points[i].Timestamp = points[i].Timestamp.UTC()
	}
	return points, nil
}

func (repo *pointRepository) CountPoints(ctx context.Context, dashboardID string) (map[string]int, error) {
	var rows []struct {
		FieldName string `db:"field_name"`
		Count     int    `db:"count"`
	}
	q := `SELECT field_name, COUNT(*) AS count FROM data_points WHERE dashboard_id = $1 GROUP BY field_name`
	if err := repo.db.SelectContext(ctx, &rows, q, dashboardID); err != nil {
		return nil, errors.Wrap(err, "counting data points")
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.FieldName] = row.Count
	}
	return counts, nil
}

func (repo *pointRepository) DeleteDashboardPoints(ctx context.Context, dashboardID string) error {
	_, err := repo.db.ExecContext(ctx, `DELETE FROM data_points WHERE dashboard_id = $1`, dashboardID)
	return errors.Wrap(err, "deleting data points")
}
