package models

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestBackupJobEngineTags(t *testing.T) {
	jobID := uuid.New()
	accountID := uuid.New()
	origin := "device1"

	job := BackupJob{
		ID:          jobID,
		DeviceID:    "test-device",
		Name:        "device1/home",
		SourcePaths: []string{"/home"},
		OriginName:  &origin,
		AccountID:   &accountID,
	}

	tags := job.EngineTags()

	want := []string{
		fmt.Sprintf("backup:%s", jobID),
		"backup_name=device1/home",
		"origin=device1",
		fmt.Sprintf("account_id=%s", accountID),
	}

	if len(tags) != len(want) {
		t.Fatalf("EngineTags() returned %d tags, want %d", len(tags), len(want))
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestBackupJobEngineTagsMinimal(t *testing.T) {
	job := BackupJob{ID: uuid.New(), Name: "minimal"}

	tags := job.EngineTags()
	if len(tags) != 2 {
		t.Fatalf("EngineTags() returned %d tags, want 2", len(tags))
	}
}

func TestScheduleKindChecks(t *testing.T) {
	expr := "0 2 * * *"
	cronSched := Schedule{Kind: ScheduleKindCron, CronExpression: &expr}
	if !cronSched.IsCron() || cronSched.IsInterval() {
		t.Error("cron schedule misidentified")
	}

	secs := 3600
	intervalSched := Schedule{Kind: ScheduleKindInterval, IntervalSeconds: &secs}
	if !intervalSched.IsInterval() || intervalSched.IsCron() {
		t.Error("interval schedule misidentified")
	}
}

func TestRunStatusChecks(t *testing.T) {
	run := Run{Status: RunStatusRunning, TriggeredBy: TriggerSchedule}

	if !run.IsRunning() || run.IsSuccess() || run.IsFailed() {
		t.Error("running run misidentified")
	}

	run.Status = RunStatusSuccess
	if run.IsRunning() || !run.IsSuccess() {
		t.Error("successful run misidentified")
	}

	run.Status = RunStatusFailed
	if !run.IsFailed() {
		t.Error("failed run misidentified")
	}
}
