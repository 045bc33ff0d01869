package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

// CreateUser stores a user straight into repo. An empty pwd leaves the user without a password.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	uname, email, pwd string,
	isVerified, isApproved, isAdmin bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:         uuid.New().String(),
		Username:   uname,
		Email:      email,
		IsVerified: isVerified,
		IsApproved: isApproved,
		IsAdmin:    isAdmin,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateDashboard stores d into repo, filling its ID, API key & timestamps when missing.
func CreateDashboard(t *testing.T, repo dashboard.Repository, d dashboard.Dashboard, createdBy ...user.User) dashboard.Dashboard {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.APIKey == "" {
		d.APIKey = dashboard.NewAPIKey()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt, d.UpdatedAt = now, now
	}
	if d.Fields == nil {
		d.Fields = []dashboard.Field{}
	}
	if d.Widgets == nil {
		d.Widgets = []dashboard.Widget{}
	}
	if d.AssignedUsers == nil {
		d.AssignedUsers = []string{}
	}
	if len(createdBy) > 0 {
		d.CreatedBy = null.StringFrom(createdBy[0].ID)
	}
	d, err := repo.CreateDashboard(context.Background(), d)
	if err != nil {
		t.Fatalf("createDashboard() failed: %v", err)
	}
	return d
}

// AddPoint stores a data point of the given source into repo.
func AddPoint(t *testing.T, repo telemetry.Repository, dashboardID, field string, value float64, ts time.Time, source string) telemetry.DataPoint {
	p, err := telemetry.NewDataPoint(dashboardID, field, value, ts, telemetry.Metadata{"source": source})
	if err != nil {
		t.Fatalf("newDataPoint() failed: %v", err)
	}
	p, err = repo.AddPoint(context.Background(), p)
	if err != nil {
		t.Fatalf("addPoint() failed: %v", err)
	}
	return p
}
