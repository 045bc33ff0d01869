package core

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
)

// DBExecutor is implemented by both *sqlx.DB and *sqlx.Tx.
type DBExecutor interface {
	sqlx.ExtContext

	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// CleanOrderings drops orderings on unknown fields and maps the known ones to their column names.
func CleanOrderings(orderings []DBOrdering, columns map[string]string) []DBOrdering {
	cleaned := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		col, ok := columns[strings.ToLower(ord.Field)]
		if !ok {
			continue
		}
		cleaned = append(cleaned, DBOrdering{Field: col, Ascending: ord.Ascending})
	}
	return cleaned
}
