// Package pipeline wires the per-file path the orchestrator drives: parse,
// persist, verify, acknowledge, and audit one WorkItem end to end. It is
// the internal/orchestrator.FileProcessor implementation cmd/ingestiond
// constructs at startup, grounded on the teacher's own split of "cmd does
// construction, an internal package does the work" (cmd/agent-controller
// builds a controller.Controller and calls Start; here the orchestrator
// already plays that role, and Pipeline is the per-item unit it drives).
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/ack"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/audit"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/model"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/orchestrator"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/parser"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/persist"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/queue"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/telemetry"
	"github.com/haramkhor2011-ship-it/claims-app-sub015/internal/verify"
)

// Pipeline implements internal/orchestrator.FileProcessor.
type Pipeline struct {
	parserCfg parser.Config
	persist   *persist.Service
	verifier  *verify.Verifier
	acker     ack.Acker
	audit     *audit.Sink
	runs      *RunTracker
	log       *zap.Logger
}

// New builds a Pipeline.
func New(parserCfg parser.Config, persistSvc *persist.Service, verifier *verify.Verifier, acker ack.Acker, auditSink *audit.Sink, runs *RunTracker, log *zap.Logger) *Pipeline {
	return &Pipeline{
		parserCfg: parserCfg,
		persist:   persistSvc,
		verifier:  verifier,
		acker:     acker,
		audit:     auditSink,
		runs:      runs,
		log:       log,
	}
}

var _ orchestrator.FileProcessor = (*Pipeline)(nil)

// Process parses item's bytes, installs the resulting graph, verifies it,
// attempts acknowledgement, and records the audit trail, in the order
// spec.md §4 lays the pipeline out. A single file's failure at any stage
// downgrades its own status; it never aborts sibling files in the batch.
func (p *Pipeline) Process(ctx context.Context, item queue.WorkItem) orchestrator.FileOutcome {
	startedAt := time.Now()
	log := telemetry.WithFile(p.log, item.FileID, item.CorrelationID)

	result := parser.Parse(item.Bytes, p.parserCfg)

	var (
		ingestionFileID int64
		status          model.FileStatus
		expected        verify.Expected
		counts          persist.Counts
		source          string
		persistProblems []persist.Problem
		batchMetrics    []persist.BatchMetric
	)

	switch result.Root {
	case parser.RootSubmission:
		source = "submission"
		if result.Submission == nil {
			status = model.FileFail
			break
		}
		outcome, err := p.persist.IngestSubmission(ctx, item.FileID, string(item.Bytes), result.Submission, item.Bytes)
		if err != nil {
			log.Error("persist submission failed", zap.Error(err))
			status = model.FileFail
			break
		}
		ingestionFileID = outcome.IngestionFileID
		status = outcome.Status
		counts = outcome.Counts
		persistProblems = outcome.Problems
		batchMetrics = outcome.BatchMetrics
		expected.Claims = len(result.Submission.Claims)
		for _, c := range result.Submission.Claims {
			expected.Activities += len(c.Activities)
		}
	case parser.RootRemittance:
		source = "remittance"
		if result.Remittance == nil {
			status = model.FileFail
			break
		}
		outcome, err := p.persist.IngestRemittance(ctx, item.FileID, string(item.Bytes), result.Remittance, item.Bytes)
		if err != nil {
			log.Error("persist remittance failed", zap.Error(err))
			status = model.FileFail
			break
		}
		ingestionFileID = outcome.IngestionFileID
		status = outcome.Status
		counts = outcome.Counts
		persistProblems = outcome.Problems
		batchMetrics = outcome.BatchMetrics
		expected.Claims = len(result.Remittance.Claims)
	default:
		status = model.FileFail
		log.Error("unrecognized root element, file rejected")
	}

	// A file is only OK if neither the parser nor the persist stage
	// rejected any claim (spec.md scenario S6): rejections at either
	// stage downgrade OK to PARTIAL (or to FAIL if nothing survived).
	if status == model.FileOK && (len(result.Problems) > 0 || len(persistProblems) > 0) {
		if counts.Claims > 0 {
			status = model.FilePartial
		} else {
			status = model.FileFail
		}
	}

	verifyResult := verify.Result{OK: true}
	if status != model.FileFail && ingestionFileID != 0 {
		verifyResult = p.verifier.Verify(ctx, ingestionFileID, expected)
		if !verifyResult.OK {
			log.Warn("verification failed", zap.String("reason", verifyResult.Reason))
			status = model.FileFail
		}
	}

	ackAttempted := status != model.FileFail
	var ackSucceeded bool
	if ackAttempted {
		if err := p.acker.Ack(ctx, item.FileID, true); err != nil {
			log.Error("acknowledgement failed", zap.Error(err))
		} else {
			ackSucceeded = true
		}
	}

	var ifID *int64
	if ingestionFileID != 0 {
		ifID = &ingestionFileID
	}

	fileAuditID, err := p.audit.RecordFile(ctx, audit.FileAuditInput{
		RunID:               p.runs.CurrentRunID(),
		IngestionFileID:      ifID,
		FileName:             item.SourcePath,
		CorrelationID:        item.CorrelationID,
		Source:               source,
		Status:               status,
		ExpectedClaims:       expected.Claims,
		PersistedClaims:      counts.Claims,
		ExpectedActivities:   expected.Activities,
		PersistedActivities:  counts.Activities,
		VerifyPassed:         verifyResult.OK,
		AckAttempted:         ackAttempted,
		AckSucceeded:         ackSucceeded,
		StartedAt:            startedAt,
		FinishedAt:           time.Now(),
	})
	if err != nil {
		log.Error("record file audit failed", zap.Error(err))
		return orchestrator.FileOutcome{Status: status}
	}

	for _, problem := range result.Problems {
		if err := p.audit.RecordError(ctx, fileAuditID, "parse", problem.ObjectType, problem.ObjectKey, problem.Code, string(problem.Severity), problem.Message, false); err != nil {
			log.Error("record parse problem failed", zap.String("code", problem.Code), zap.Error(err))
		}
	}

	for _, problem := range persistProblems {
		if err := p.audit.RecordError(ctx, fileAuditID, "persist", problem.ObjectType, problem.ObjectKey, problem.Code, "ERROR", problem.Message, false); err != nil {
			log.Error("record persist problem failed", zap.String("code", problem.Code), zap.Error(err))
		}
	}

	for _, m := range batchMetrics {
		if err := p.audit.RecordBatchMetric(ctx, fileAuditID, m.Stage, m.BatchNo, m.Attempted, m.Inserted, m.ConflictsIgnored, m.Duration); err != nil {
			log.Error("record batch metric failed", zap.String("stage", m.Stage), zap.Error(err))
		}
	}

	return orchestrator.FileOutcome{Status: status}
}
