package usecase

import (
	"context"
	"testing"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

func idealDocument(id string) domain.Document {
	doc := domain.NewDocument(id, "https://files.example.com/"+id+".pdf")
	doc.ArtifactID = "artifact-" + id
	doc.IndexStatus = domain.StatusCompleted
	return *doc
}

func TestSweepHealsIdealDocumentWithStaleRecord(t *testing.T) {
	repo := &docRepoFake{listDocs: []domain.Document{idealDocument("doc-1")}}
	contents := &contentRepoFake{content: &domain.ExtractedContent{DocumentID: "doc-1", Text: "body"}}
	queue := &queueFake{}

	sweeper := NewSweeper(repo, contents, queue, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Healed != 1 {
		t.Fatalf("healed = %d, want 1", report.Healed)
	}
	if len(repo.forcedIDs) != 1 || repo.forcedIDs[0] != "doc-1" {
		t.Fatalf("forced ids = %v", repo.forcedIDs)
	}
	if len(repo.completed) != 1 || !repo.completed[0] {
		t.Fatalf("completed calls = %v, want [true]", repo.completed)
	}
	if len(queue.published) != 0 {
		t.Fatal("healing must not re-enqueue")
	}
}

func TestSweepLeavesAgreedIdealDocumentAlone(t *testing.T) {
	doc := idealDocument("doc-1")
	doc.Completed = true
	for _, stage := range domain.Stages() {
		doc.SetStageStatus(stage, domain.StatusCompleted)
	}
	repo := &docRepoFake{listDocs: []domain.Document{doc}}
	contents := &contentRepoFake{content: &domain.ExtractedContent{DocumentID: "doc-1", Text: "body"}}

	sweeper := NewSweeper(repo, contents, &queueFake{}, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Healed != 0 || report.Reset != 0 {
		t.Fatalf("report = %+v, want untouched", report)
	}
	if len(repo.forcedIDs) != 0 || len(repo.completed) != 0 {
		t.Fatal("document in agreement must not be written")
	}
}

func TestSweepResetsSettledDocumentWithoutArtifact(t *testing.T) {
	doc := *domain.NewDocument("doc-1", "https://files.example.com/doc-1.pdf")
	for _, stage := range domain.Stages() {
		doc.SetStageStatus(stage, domain.StatusCompleted)
	}
	doc.DeliverStatus = domain.StatusSkipped
	doc.CleanupStatus = domain.StatusSkipped
	repo := &docRepoFake{listDocs: []domain.Document{doc}}
	contents := &contentRepoFake{content: &domain.ExtractedContent{DocumentID: "doc-1", Text: "body"}}
	queue := &queueFake{}

	sweeper := NewSweeper(repo, contents, queue, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reset != 1 {
		t.Fatalf("reset = %d, want 1", report.Reset)
	}
	if len(repo.resetIDs) != 1 || repo.resetIDs[0] != "doc-1" {
		t.Fatalf("reset ids = %v", repo.resetIDs)
	}
	if len(repo.completed) != 1 || repo.completed[0] {
		t.Fatalf("completed calls = %v, want [false]", repo.completed)
	}
	if len(queue.published) != 1 || queue.published[0] != "doc-1" {
		t.Fatalf("published = %v", queue.published)
	}
}

func TestSweepResetsCompletedParseWithoutText(t *testing.T) {
	doc := *domain.NewDocument("doc-1", "https://files.example.com/doc-1.pdf")
	doc.ParseStatus = domain.StatusCompleted
	repo := &docRepoFake{listDocs: []domain.Document{doc}}
	queue := &queueFake{}

	sweeper := NewSweeper(repo, &contentRepoFake{}, queue, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reset != 1 {
		t.Fatalf("reset = %d, want 1", report.Reset)
	}
	if len(queue.published) != 1 {
		t.Fatalf("published = %v", queue.published)
	}
}

func TestSweepSkipsBlockedDocuments(t *testing.T) {
	doc := *domain.NewDocument("doc-1", "https://files.example.com/doc-1.pdf")
	doc.Completed = true
	repo := &docRepoFake{listDocs: []domain.Document{doc}}
	contents := &contentRepoFake{content: &domain.ExtractedContent{DocumentID: "doc-1", Blocked: true}}
	queue := &queueFake{}

	sweeper := NewSweeper(repo, contents, queue, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Reset != 0 {
		t.Fatalf("reset = %d, blocked documents await the operator", report.Reset)
	}
	if len(queue.published) != 0 {
		t.Fatal("blocked documents must not be re-enqueued")
	}
}

func TestSweepLeavesInProgressDocumentsAlone(t *testing.T) {
	doc := *domain.NewDocument("doc-1", "https://files.example.com/doc-1.pdf")
	doc.DownloadStatus = domain.StatusCompleted
	repo := &docRepoFake{listDocs: []domain.Document{doc}}

	sweeper := NewSweeper(repo, &contentRepoFake{}, &queueFake{}, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Healed != 0 || report.Reset != 0 {
		t.Fatalf("report = %+v, want untouched", report)
	}
}

func TestSweepReportsReclaimedLocks(t *testing.T) {
	repo := &docRepoFake{reclaimed: 3}

	sweeper := NewSweeper(repo, &contentRepoFake{}, &queueFake{}, nil, SweeperConfig{})
	report, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.LocksReclaimed != 3 {
		t.Fatalf("locks reclaimed = %d, want 3", report.LocksReclaimed)
	}
}
