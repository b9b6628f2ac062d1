package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/ledgerline/internal/store"
)

type JobStatus string

const (
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type JobResult struct {
	Success        bool    `json:"success" yaml:"success"`
	CreatedCount   int     `json:"created_count" yaml:"created_count"`
	TransactionIDs []int64 `json:"transaction_ids" yaml:"transaction_ids"`
	Message        string  `json:"message" yaml:"message"`
	Error          string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// JobReport is what external triggers (cron, the serve loop, the CLI) get
// back from one scheduler pass.
type JobReport struct {
	RunID     uuid.UUID  `json:"run_id" yaml:"run_id"`
	JobStatus JobStatus  `json:"job_status" yaml:"job_status"`
	StartTime time.Time  `json:"start_time" yaml:"start_time"`
	EndTime   time.Time  `json:"end_time" yaml:"end_time"`
	OwnerID   int64      `json:"owner_id" yaml:"owner_id"`
	Result    JobResult  `json:"result" yaml:"result"`
	Run       *RunResult `json:"run,omitempty" yaml:"run,omitempty"`
}

// RunJob runs every due rule for scope at the current time. Per-rule
// failures still complete the job; only a failed selection fails it.
func (s *Scheduler) RunJob(ctx context.Context, scope store.Scope) JobReport {
	report := JobReport{StartTime: s.now(), OwnerID: scope.ActorID}

	run, err := s.RunDue(ctx, scope, report.StartTime)
	report.EndTime = s.now()
	if err != nil {
		report.JobStatus = JobFailed
		report.Result = JobResult{
			TransactionIDs: []int64{},
			Message:        fmt.Sprintf("Failed to execute recurring transactions: %v", err),
			Error:          err.Error(),
		}
		if run != nil {
			report.RunID = run.RunID
			report.Run = run
			report.Result.TransactionIDs = run.TransactionIDs
			report.Result.CreatedCount = len(run.TransactionIDs)
		}
		return report
	}

	report.RunID = run.RunID
	report.Run = run
	report.JobStatus = JobCompleted
	report.Result = JobResult{
		Success:        true,
		CreatedCount:   len(run.TransactionIDs),
		TransactionIDs: run.TransactionIDs,
		Message:        fmt.Sprintf("Successfully created %d transactions from recurring rules", len(run.TransactionIDs)),
	}
	return report
}
