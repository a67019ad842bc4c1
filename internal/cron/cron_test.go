package cron

import (
	"context"
	"sync"
	"testing"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

type fakeInbound struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeInbound) HandleCronMessage(ctx context.Context, handle, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, handle+":"+text)
}

type fakeRepo struct {
	store.Repository
	jobs []models.CronJob
}

func (f *fakeRepo) GetActiveCronJobs(ctx context.Context) ([]models.CronJob, error) {
	return f.jobs, nil
}

func TestAddRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(&fakeInbound{}, nil)
	if err := s.Add(models.CronJob{ID: 1, Schedule: "not a schedule"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.Add(models.CronJob{ID: 2, Schedule: "*/5 * * * *"}); err != nil {
		t.Errorf("valid schedule rejected: %v", err)
	}
}

func TestRestoreSkipsInvalidJobs(t *testing.T) {
	repo := &fakeRepo{jobs: []models.CronJob{
		{ID: 1, Handle: "user1", Schedule: "0 9 * * *", Message: "daily summary"},
		{ID: 2, Handle: "user1", Schedule: "banana", Message: "broken"},
		{ID: 3, Handle: "user2", Schedule: "@hourly", Message: "check builds"},
	}}
	s := NewScheduler(&fakeInbound{}, nil)
	if err := s.Restore(context.Background(), repo); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Errorf("registered entries = %d, want 2", got)
	}
}
