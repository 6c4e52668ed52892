package domain

import (
	"testing"
	"time"
)

func TestStagesOrderIsFixed(t *testing.T) {
	want := []Stage{StageDownload, StageParse, StageIndex, StageDeliver, StageCleanup}
	got := Stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStageStatusRoundTrip(t *testing.T) {
	doc := NewDocument("doc-1", "https://files.example.com/doc.pdf")
	for _, stage := range Stages() {
		if got := doc.StageStatus(stage); got != StatusPending {
			t.Fatalf("new document stage %s = %s, want pending", stage, got)
		}
		doc.SetStageStatus(stage, StatusCompleted)
		if got := doc.StageStatus(stage); got != StatusCompleted {
			t.Fatalf("stage %s = %s after set", stage, got)
		}
	}
	if !doc.AllStagesCompleted() {
		t.Fatal("expected all stages completed")
	}
}

func TestAllStagesSettledCountsSkipped(t *testing.T) {
	doc := NewDocument("doc-1", "https://files.example.com/doc.pdf")
	for _, stage := range Stages() {
		doc.SetStageStatus(stage, StatusCompleted)
	}
	doc.DeliverStatus = StatusSkipped

	if doc.AllStagesCompleted() {
		t.Fatal("skipped stage must not count as completed")
	}
	if !doc.AllStagesSettled() {
		t.Fatal("skipped stage counts as settled")
	}

	doc.IndexStatus = StatusFailed
	if doc.AllStagesSettled() {
		t.Fatal("failed stage is not settled")
	}
}

func TestLockedExpiresWithStaleness(t *testing.T) {
	now := time.Now()
	doc := NewDocument("doc-1", "https://files.example.com/doc.pdf")

	if doc.Locked(30*time.Minute, now) {
		t.Fatal("document without token is unlocked")
	}

	doc.LockToken = "worker-a"
	doc.LockAcquiredAt = now.Add(-5 * time.Minute)
	if !doc.Locked(30*time.Minute, now) {
		t.Fatal("fresh lock must hold")
	}

	doc.LockAcquiredAt = now.Add(-31 * time.Minute)
	if doc.Locked(30*time.Minute, now) {
		t.Fatal("stale lock counts as abandoned")
	}
}

func TestIdealStateRequiresAllThreeConditions(t *testing.T) {
	doc := NewDocument("doc-1", "https://files.example.com/doc.pdf")
	content := &ExtractedContent{DocumentID: "doc-1", Text: "body"}

	if IdealState(nil, content) || IdealState(doc, nil) {
		t.Fatal("nil inputs are never ideal")
	}
	if IdealState(doc, content) {
		t.Fatal("missing artifact and index must not be ideal")
	}

	doc.ArtifactID = "artifact-1"
	doc.IndexStatus = StatusCompleted
	if !IdealState(doc, content) {
		t.Fatal("expected ideal state")
	}

	content.Text = ""
	if IdealState(doc, content) {
		t.Fatal("empty text must not be ideal")
	}
}
