package testsupport

import (
	"context"
	"testing"
	"time"

	"postflow/internal/config"
	"postflow/internal/project"
	"postflow/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewProject creates a project in the raw content stage for tests.
func NewProject(t testing.TB, st *store.Store, title, transcript string) *project.Project {
	t.Helper()

	p, err := st.CreateProject(context.Background(), title, transcript, DefaultWorkflow())
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return p
}

// DefaultWorkflow returns a workflow config suitable for most tests: both
// platforms targeted, no automatic approvals, and a weekday-morning schedule.
func DefaultWorkflow() project.WorkflowConfig {
	return project.WorkflowConfig{
		TargetPlatforms: []project.Platform{project.PlatformLinkedIn, project.PlatformX},
		Schedule: project.PublishingSchedule{
			PreferredDays:        []time.Weekday{time.Tuesday, time.Thursday},
			PreferredTime:        "09:00",
			TimeZone:             "UTC",
			MinimumIntervalHours: 24,
		},
	}
}
