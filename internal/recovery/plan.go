package recovery

import (
	"time"

	"crmsync/internal/models"
)

// RecoveryPoint is derived from the most recent successful run; it is never
// persisted itself.
type RecoveryPoint struct {
	RecordsProcessed   int       `json:"records_processed"`
	RecordsUpdated     int       `json:"records_updated"`
	RecordsCreated     int       `json:"records_created"`
	RecordsFailed      int       `json:"records_failed"`
	LastSuccessfulTime time.Time `json:"last_successful_time"`
}

type ResumeParams struct {
	StartFromRecord    int
	SkipRecords        int
	EstimatedRemaining int
}

// BuildRecoveryPoint extracts resumable progress from the last successful run.
// A nil or non-successful run yields a zero point, which resumes from the
// beginning.
func BuildRecoveryPoint(lastRun *models.SyncRun) RecoveryPoint {
	if lastRun == nil || lastRun.Status != models.RunStatusSuccess {
		return RecoveryPoint{}
	}
	point := RecoveryPoint{
		RecordsProcessed: lastRun.RecordsProcessed,
		RecordsUpdated:   lastRun.RecordsUpdated,
		RecordsCreated:   lastRun.RecordsCreated,
		RecordsFailed:    lastRun.RecordsFailed,
	}
	if lastRun.EndTime != nil {
		point.LastSuccessfulTime = *lastRun.EndTime
	}
	return point
}

func (p RecoveryPoint) Resume(totalRecords int) ResumeParams {
	start := p.RecordsProcessed
	if start > totalRecords {
		start = totalRecords
	}
	return ResumeParams{
		StartFromRecord:    start,
		SkipRecords:        start,
		EstimatedRemaining: totalRecords - start,
	}
}

type BatchRecoveryPlan struct {
	RetryBatchNumber  int
	StartIndex        int
	EndIndex          int
	SkipRecordIDs     []uint64
	Strategy          Strategy
	EstimatedDuration time.Duration
}

type FailedBatch struct {
	Number        int
	SkipRecordIDs []uint64
}

// PlanBatchRecovery builds a retry plan per failed batch. More than one failed
// batch aggregates into a single resume-from-last-success plan because
// replaying scattered batches individually cannot preserve ordering
// guarantees.
func PlanBatchRecovery(failed []FailedBatch, batchSize int, avgBatch time.Duration) []BatchRecoveryPlan {
	if len(failed) == 0 || batchSize <= 0 {
		return nil
	}
	if len(failed) > 1 {
		first := failed[0]
		var skip []uint64
		for _, b := range failed {
			skip = append(skip, b.SkipRecordIDs...)
		}
		return []BatchRecoveryPlan{{
			RetryBatchNumber:  first.Number,
			StartIndex:        (first.Number - 1) * batchSize,
			EndIndex:          first.Number * batchSize,
			SkipRecordIDs:     skip,
			Strategy:          ResumeFromLastSuccess,
			EstimatedDuration: time.Duration(len(failed)) * avgBatch,
		}}
	}
	b := failed[0]
	return []BatchRecoveryPlan{{
		RetryBatchNumber:  b.Number,
		StartIndex:        (b.Number - 1) * batchSize,
		EndIndex:          b.Number * batchSize,
		SkipRecordIDs:     b.SkipRecordIDs,
		Strategy:          RetryWithBackoff,
		EstimatedDuration: avgBatch,
	}}
}
