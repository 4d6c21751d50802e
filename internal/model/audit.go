package model

import "time"

// IngestionRun groups all files processed during a single orchestrator
// drain cycle.
type IngestionRun struct {
	ID          int64
	OpenedAt    time.Time
	ClosedAt    *time.Time
	FilesTotal  int
	FilesOK     int
	FilesFailed int
}

// IngestionFileAudit is one-per-file under a Run.
type IngestionFileAudit struct {
	ID               int64
	RunID            int64
	IngestionFileID  *int64
	FileName         string
	CorrelationID    string
	Source           string
	Status           FileStatus
	ExpectedClaims   int
	PersistedClaims  int
	ExpectedActivities int
	PersistedActivities int
	VerifyPassed     bool
	AckAttempted     bool
	AckSucceeded     bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// IngestionError attaches to a file+stage+object-key.
type IngestionError struct {
	ID            int64
	FileAuditID   int64
	Stage         string
	ObjectType    string
	ObjectKey     string
	Code          string
	Severity      string
	Message       string
	Retryable     bool
	CreatedAt     time.Time
}

// IngestionBatchMetric records per-stage per-batch counts and timings.
type IngestionBatchMetric struct {
	ID              int64
	FileAuditID     int64
	Stage           string
	BatchNo         int
	Attempted       int
	Inserted        int
	ConflictsIgnored int
	DurationMS      int64
}
