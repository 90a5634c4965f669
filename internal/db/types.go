package db

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses. Every stage invocation opens a run record and finalizes it
// exactly once with one of the terminal statuses.
const (
	RunStarted    = "Started"
	RunProcessing = "Processing"
	RunCompleted  = "Completed"
	RunSkipped    = "Skipped"
	RunFailed     = "Failed"
)

// Pipeline stage names recorded on run history rows.
const (
	StageFetch = "fetch"
	StageParse = "parse"
)

// SourceArchive is one retrieved copy of the upstream catalog container.
type SourceArchive struct {
	ID           uuid.UUID
	FileName     string
	ObjectPath   string
	Fingerprint  string
	SizeBytes    int64
	DownloadedAt time.Time
	Processed    bool
	ProcessedAt  *time.Time
}

// SourceArchiveInput carries the fields needed to register a new archive.
type SourceArchiveInput struct {
	FileName    string
	ObjectPath  string
	Fingerprint string
	SizeBytes   int64
}

// UpdateRecord is one software update extracted from catalog XML, keyed by
// the vendor's stable external update identifier.
type UpdateRecord struct {
	ID                 uuid.UUID
	UpdateID           string
	Title              string
	Description        string
	Classification     string
	Product            string
	ProductFamily      string
	KBArticleID        string
	SecurityBulletinID string
	MsrcSeverity       string
	Categories         []string
	IsSuperseded       bool
	SupersededBy       []string
	ReleaseDate        *time.Time
	LastModified       *time.Time
	OsVersion          string
	Year               *int
	Month              *int
	Metadata           []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PackagedArchive is one rebuilt output archive for a (strategy, group
// value) pair. The pair is unique; an existing row makes the rebuilder skip
// the group.
type PackagedArchive struct {
	ID            uuid.UUID
	FileName      string
	GroupStrategy string
	GroupValue    string
	ObjectPath    string
	SizeBytes     int64
	UpdateCount   int
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// PackagedArchiveInput carries the fields needed to register a rebuilt
// archive.
type PackagedArchiveInput struct {
	FileName      string
	GroupStrategy string
	GroupValue    string
	ObjectPath    string
	SizeBytes     int64
	UpdateCount   int
}

// RunRecord is one audit row for a pipeline stage execution.
type RunRecord struct {
	ID              uuid.UUID
	Stage           string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          string
	SourceArchiveID *uuid.UUID
	UpdatesAdded    int
	UpdatesModified int
	ErrorMessage    string
}
