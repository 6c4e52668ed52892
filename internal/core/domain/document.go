package domain

import "time"

type Stage string

const (
	StageDownload Stage = "download"
	StageParse    Stage = "parse"
	StageIndex    Stage = "index"
	StageDeliver  Stage = "deliver"
	StageCleanup  Stage = "cleanup"
)

// Stages returns the fixed processing order. The orchestrator walks this
// list; nothing else decides stage ordering.
func Stages() []Stage {
	return []Stage{StageDownload, StageParse, StageIndex, StageDeliver, StageCleanup}
}

type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
	StatusSkipped    StageStatus = "skipped"
)

type Document struct {
	ID        string         `json:"id"`
	SourceURL string         `json:"source_url"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	DownloadStatus StageStatus `json:"download_status"`
	ParseStatus    StageStatus `json:"parse_status"`
	IndexStatus    StageStatus `json:"index_status"`
	DeliverStatus  StageStatus `json:"deliver_status"`
	CleanupStatus  StageStatus `json:"cleanup_status"`

	Completed  bool   `json:"completed"`
	ArtifactID string `json:"artifact_id,omitempty"`

	LockToken      string    `json:"-"`
	LockAcquiredAt time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDocument(id, sourceURL string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:             id,
		SourceURL:      sourceURL,
		DownloadStatus: StatusPending,
		ParseStatus:    StatusPending,
		IndexStatus:    StatusPending,
		DeliverStatus:  StatusPending,
		CleanupStatus:  StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (d *Document) StageStatus(stage Stage) StageStatus {
	switch stage {
	case StageDownload:
		return d.DownloadStatus
	case StageParse:
		return d.ParseStatus
	case StageIndex:
		return d.IndexStatus
	case StageDeliver:
		return d.DeliverStatus
	case StageCleanup:
		return d.CleanupStatus
	}
	return ""
}

func (d *Document) SetStageStatus(stage Stage, status StageStatus) {
	switch stage {
	case StageDownload:
		d.DownloadStatus = status
	case StageParse:
		d.ParseStatus = status
	case StageIndex:
		d.IndexStatus = status
	case StageDeliver:
		d.DeliverStatus = status
	case StageCleanup:
		d.CleanupStatus = status
	}
}

// Locked reports whether the document's pipeline lock is currently held.
// A token older than the staleness threshold counts as abandoned.
func (d *Document) Locked(staleness time.Duration, now time.Time) bool {
	if d.LockToken == "" {
		return false
	}
	return now.Sub(d.LockAcquiredAt) < staleness
}

func (d *Document) AllStagesCompleted() bool {
	for _, stage := range Stages() {
		if d.StageStatus(stage) != StatusCompleted {
			return false
		}
	}
	return true
}

// AllStagesSettled reports whether every stage finished without an open
// failure, counting skipped stages as settled.
func (d *Document) AllStagesSettled() bool {
	for _, stage := range Stages() {
		switch d.StageStatus(stage) {
		case StatusCompleted, StatusSkipped:
		default:
			return false
		}
	}
	return true
}

// IdealState is the single canonical predicate for a fully processed
// document: the artifact was delivered, extraction produced text, and the
// text was indexed. Both the orchestrator's closing check and the sweeper
// use this function and nothing else.
func IdealState(doc *Document, content *ExtractedContent) bool {
	if doc == nil || content == nil {
		return false
	}
	return doc.ArtifactID != "" && content.Text != "" && doc.IndexStatus == StatusCompleted
}
