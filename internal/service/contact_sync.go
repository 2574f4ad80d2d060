package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"crmsync/internal/client/pipedrive"
	"crmsync/internal/models"
	"crmsync/internal/recovery"
	"crmsync/internal/repository"
	"crmsync/internal/timeout"
)

const (
	maxCollectedErrors = 10
	maxRecordAttempts  = 3
)

type ContactSyncService struct {
	Store  repository.Repository
	Client RemoteCRM
	Logger *zap.Logger
	Config SyncRunnerConfig
	// Sleep is swapped out in tests. Nil means context-aware real sleeping.
	Sleep func(ctx context.Context, d time.Duration) error
}

type SyncRunnerConfig struct {
	BatchSize        int
	PageSize         int
	RunTimeout       time.Duration
	BatchBaseTimeout time.Duration
	BatchMaxTimeout  time.Duration
}

type RunOptions struct {
	AccountID string
	SyncType  string
	Since     *time.Time
	RecordIDs []int64
	BatchSize int
	Force     bool
}

type RunSummary struct {
	SyncRunID        uint64        `json:"sync_run_id"`
	SyncType         string        `json:"sync_type"`
	Status           string        `json:"status"`
	TotalRecords     int           `json:"total_records"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsUpdated   int           `json:"records_updated"`
	RecordsCreated   int           `json:"records_created"`
	RecordsFailed    int           `json:"records_failed"`
	BatchesTotal     int           `json:"batches_total"`
	BatchesFailed    int           `json:"batches_failed"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration_ms"`
}

type runState struct {
	run          *models.SyncRun
	errs         []string
	extra        int
	failedBatch  []recovery.FailedBatch
	batchElapsed time.Duration
}

func (st *runState) addError(msg string) {
	if len(st.errs) < maxCollectedErrors {
		st.errs = append(st.errs, msg)
		return
	}
	st.extra++
}

func (st *runState) collected() []string {
	if st.extra == 0 {
		return st.errs
	}
	return append(append([]string(nil), st.errs...), fmt.Sprintf("...and %d more", st.extra))
}

// Run drives one synchronization run through its full lifecycle:
// pending -> in_progress -> success|failed. While the run is in progress the
// account's last-sync timestamp stays cleared, so an interrupted run always
// forces a full resync instead of a false incremental.
func (s *ContactSyncService) Run(ctx context.Context, opts RunOptions) (RunSummary, error) {
	accountID := strings.TrimSpace(opts.AccountID)
	if accountID == "" {
		return RunSummary{}, fmt.Errorf("account id is required")
	}
	syncType, err := normalizeSyncType(opts.SyncType)
	if err != nil {
		return RunSummary{}, err
	}

	// A started run is bounded only by the timeout guard. The caller going
	// away (client disconnect, request context teardown) must not abort it
	// mid-batch and poison the stored sync state.
	ctx = context.WithoutCancel(ctx)

	since := opts.Since
	if syncType == models.SyncTypeIncremental && since == nil && !opts.Force {
		state, err := s.Store.GetUserSyncState(ctx, accountID)
		if err != nil {
			return RunSummary{}, fmt.Errorf("database error: %w", err)
		}
		if state != nil {
			since = state.LastSyncTimestamp
		}
	}

	now := time.Now().UTC()
	run := &models.SyncRun{
		AccountID: accountID,
		SyncType:  syncType,
		Status:    models.RunStatusPending,
		StartTime: now,
	}
	if err := s.Store.CreateSyncRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("database error: %w", err)
	}

	run.Status = models.RunStatusInProgress
	st := &runState{run: run}
	if err := s.checkpoint(ctx, st); err != nil {
		return s.finalize(ctx, st, 0, err)
	}
	if err := s.Store.SaveUserSyncState(ctx, &models.UserSyncState{
		AccountID:         accountID,
		LastSyncTimestamp: nil,
		SyncStatus:        models.SyncStateInProgress,
	}); err != nil {
		return s.finalize(ctx, st, 0, fmt.Errorf("database error: %w", err))
	}

	if s.Logger != nil {
		s.Logger.Info("sync run started",
			zap.Uint64("run_id", run.ID),
			zap.String("account_id", accountID),
			zap.String("sync_type", syncType),
		)
	}

	elapsed, syncErr := timeout.Run(ctx, s.runTimeout(), func(runCtx context.Context) error {
		return s.execute(runCtx, st, accountID, syncType, since, opts)
	})
	return s.finalize(ctx, st, elapsed, syncErr)
}

func (s *ContactSyncService) execute(ctx context.Context, st *runState, accountID, syncType string, since *time.Time, opts RunOptions) error {
	persons, err := s.Client.ListPersons(ctx, s.pageSize())
	if err != nil {
		return err
	}
	persons = filterPersons(persons, syncType, since, opts.RecordIDs)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.Config.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	st.run.TotalRecords = len(persons)
	if len(persons) > 0 {
		st.run.BatchesTotal = (len(persons) + batchSize - 1) / batchSize
	}
	if err := s.checkpoint(ctx, st); err != nil {
		return err
	}
	// Zero remote persons is a valid, successful empty sync.
	if len(persons) == 0 {
		return nil
	}

	if err := s.resolveOrganizations(ctx, accountID, persons); err != nil {
		return err
	}

	for start := 0; start < len(persons); start += batchSize {
		end := start + batchSize
		if end > len(persons) {
			end = len(persons)
		}
		if err := s.processBatch(ctx, st, accountID, start/batchSize+1, persons[start:end]); err != nil {
			return err
		}
		if err := s.checkpoint(ctx, st); err != nil {
			return err
		}
	}

	if len(st.failedBatch) > 0 && s.Logger != nil {
		var avgBatch time.Duration
		if st.run.BatchesTotal > 0 {
			avgBatch = st.batchElapsed / time.Duration(st.run.BatchesTotal)
		}
		for _, plan := range recovery.PlanBatchRecovery(st.failedBatch, batchSize, avgBatch) {
			s.Logger.Warn("batch recovery plan",
				zap.Uint64("run_id", st.run.ID),
				zap.Int("retry_batch", plan.RetryBatchNumber),
				zap.String("strategy", string(plan.Strategy)),
				zap.Int("skip_records", len(plan.SkipRecordIDs)),
				zap.Duration("estimated", plan.EstimatedDuration),
			)
		}
	}
	return nil
}

// processBatch handles one slice of the person set, each record individually
// so failure attribution stays per-record. Only database failures abort the
// run; everything else is counted and the run continues.
func (s *ContactSyncService) processBatch(ctx context.Context, st *runState, accountID string, batchNum int, batch []pipedrive.Person) error {
	batchTimeout := timeout.Progressive(st.run.TotalRecords, len(batch), s.Config.BatchBaseTimeout, s.Config.BatchMaxTimeout)

	attempted := 0
	failed := 0
	var failedIDs []uint64
	elapsed, err := timeout.Run(ctx, batchTimeout, func(bctx context.Context) error {
		for _, person := range batch {
			if bctx.Err() != nil {
				return bctx.Err()
			}
			outcome, perr := s.processPersonWithRecovery(bctx, accountID, person)
			attempted++
			st.run.RecordsProcessed++
			switch outcome {
			case outcomeCreated:
				st.run.RecordsCreated++
			case outcomeUpdated:
				st.run.RecordsUpdated++
			}
			if perr != nil {
				if recovery.Classify(perr).Type == recovery.ErrorDatabase {
					return perr
				}
				failed++
				failedIDs = append(failedIDs, uint64(person.ID))
				st.run.RecordsFailed++
				st.addError(fmt.Sprintf("person %d: %s", person.ID, perr.Error()))
			}
		}
		return nil
	})
	st.batchElapsed += elapsed
	if err != nil {
		if ctx.Err() != nil {
			// Run-level deadline: abort the whole operation.
			return err
		}
		if recovery.Classify(err).Type == recovery.ErrorDatabase {
			return err
		}
		// Batch timeout aborts only this batch's remaining work.
		remaining := len(batch) - attempted
		if remaining > 0 {
			st.run.RecordsProcessed += remaining
			st.run.RecordsFailed += remaining
			failed += remaining
			st.addError(err.Error())
		}
		if s.Logger != nil {
			s.Logger.Warn("batch aborted", zap.Uint64("run_id", st.run.ID), zap.Error(err))
		}
	}

	if len(batch) > 0 && failed == len(batch) {
		st.run.BatchesFailed++
		st.failedBatch = append(st.failedBatch, recovery.FailedBatch{
			Number:        batchNum,
			SkipRecordIDs: failedIDs,
		})
	}
	return nil
}

// processPersonWithRecovery runs one record through the classifier and
// strategy selector before it is counted failed: backoff-class failures
// (rate limits, unknowns) are retried with a growing delay that honors the
// remote Retry-After, everything else is definitive on the first attempt.
func (s *ContactSyncService) processPersonWithRecovery(ctx context.Context, accountID string, person pipedrive.Person) (personOutcome, error) {
	var lastErr error
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		outcome, err := s.processPerson(ctx, accountID, person)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		classified := recovery.Classify(err)
		if recovery.SelectStrategy(classified) != recovery.RetryWithBackoff {
			return outcomeNone, err
		}
		if attempt == maxRecordAttempts-1 {
			break
		}
		delay := classified.RetryAfter
		if delay <= 0 {
			delay = recovery.DefaultRetryAfter
		}
		if err := s.sleep(ctx, time.Duration(attempt+1)*delay); err != nil {
			break
		}
	}
	return outcomeNone, lastErr
}

func (s *ContactSyncService) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type personOutcome string

const (
	outcomeNone    personOutcome = ""
	outcomeCreated personOutcome = "created"
	outcomeUpdated personOutcome = "updated"
)

func (s *ContactSyncService) processPerson(ctx context.Context, accountID string, person pipedrive.Person) (personOutcome, error) {
	if person.ID == 0 {
		return outcomeNone, fmt.Errorf("validation: person without remote id")
	}

	contact, err := s.Store.FindContactByPipedriveID(ctx, accountID, person.ID)
	if err != nil {
		return outcomeNone, fmt.Errorf("database error: %w", err)
	}
	if contact == nil {
		// Unlinked local rows are matched by normalized name/email so a
		// later push does not create a remote duplicate.
		contact, err = s.Store.FindContactByIdentity(ctx, accountID, normalizeName(person.Name), primaryValue(person.Email))
		if err != nil {
			return outcomeNone, fmt.Errorf("database error: %w", err)
		}
	}

	now := time.Now().UTC()
	remoteUpdate := person.UpdateTime.Time
	var orgID *int64
	orgName := ""
	if person.OrgID != nil && person.OrgID.ID != 0 {
		id := person.OrgID.ID
		orgID = &id
		orgName = person.OrgID.Name
	}

	if contact == nil {
		item := &models.Contact{
			AccountID:        accountID,
			PipedriveID:      &person.ID,
			Name:             person.Name,
			Email:            primaryValue(person.Email),
			Phone:            primaryValue(person.Phone),
			OrgName:          orgName,
			PipedriveOrgID:   orgID,
			UpdateSyncStatus: models.UpdateStatusSynced,
			LastSeenAt:       now,
			RawJSON:          mustJSON(person),
		}
		if !remoteUpdate.IsZero() {
			item.LastPipedriveUpdate = &remoteUpdate
		}
		if err := s.Store.CreateContact(ctx, item); err != nil {
			return outcomeNone, fmt.Errorf("database error: %w", err)
		}
		return outcomeCreated, nil
	}

	// Pending local edits win: push them to the remote CRM before overwriting
	// the local row with remote state. An identity-matched row is linked to
	// the remote id first so the push targets the right remote record instead
	// of the remote state silently clobbering the edit.
	if contact.UpdateSyncStatus == models.UpdateStatusPending {
		if contact.PipedriveID == nil {
			contact.PipedriveID = &person.ID
			if err := s.Store.UpdateContact(ctx, contact); err != nil {
				return outcomeNone, fmt.Errorf("database error: %w", err)
			}
		}
		res, callErr := s.Client.UpdatePerson(ctx, *contact.PipedriveID, pipedrive.PersonInput{
			Name:  contact.Name,
			Email: contact.Email,
			Phone: contact.Phone,
			OrgID: contact.PipedriveOrgID,
		})
		if callErr != nil {
			return outcomeNone, callErr
		}
		if !res.Success {
			return outcomeNone, res.Err
		}
		if err := s.Store.SetContactSyncStatus(ctx, contact.ID, models.UpdateStatusSynced, &now); err != nil {
			return outcomeNone, fmt.Errorf("database error: %w", err)
		}
		return outcomeUpdated, nil
	}

	changed := false
	if contact.PipedriveID == nil {
		contact.PipedriveID = &person.ID
		changed = true
	}
	if !remoteUpdate.IsZero() &&
		(contact.LastPipedriveUpdate == nil || remoteUpdate.After(*contact.LastPipedriveUpdate)) {
		contact.Name = person.Name
		contact.Email = primaryValue(person.Email)
		contact.Phone = primaryValue(person.Phone)
		contact.OrgName = orgName
		contact.PipedriveOrgID = orgID
		contact.LastPipedriveUpdate = &remoteUpdate
		contact.RawJSON = mustJSON(person)
		changed = true
	}
	if !changed {
		return outcomeNone, nil
	}
	contact.UpdateSyncStatus = models.UpdateStatusSynced
	contact.LastSeenAt = now
	if err := s.Store.UpdateContact(ctx, contact); err != nil {
		return outcomeNone, fmt.Errorf("database error: %w", err)
	}
	return outcomeUpdated, nil
}

// resolveOrganizations upserts every distinct remote organization referenced
// by the incoming person set before any person is processed, so linkage is
// always resolvable.
func (s *ContactSyncService) resolveOrganizations(ctx context.Context, accountID string, persons []pipedrive.Person) error {
	seen := map[int64]string{}
	for _, person := range persons {
		if person.OrgID == nil || person.OrgID.ID == 0 {
			continue
		}
		if _, ok := seen[person.OrgID.ID]; !ok {
			seen[person.OrgID.ID] = person.OrgID.Name
		}
	}
	if len(seen) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for remoteID, name := range seen {
		org, err := s.Store.FindOrganizationByPipedriveID(ctx, accountID, remoteID)
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		if org == nil && name != "" {
			org, err = s.Store.FindOrganizationByNormalizedName(ctx, accountID, normalizeName(name))
			if err != nil {
				return fmt.Errorf("database error: %w", err)
			}
		}

		if name == "" {
			name = fmt.Sprintf("Organization %d", remoteID)
		}
		row := org
		if row == nil {
			row = &models.Organization{AccountID: accountID}
		}
		id := remoteID
		row.PipedriveID = &id
		row.Name = name
		row.NormalizedName = normalizeName(name)
		row.UpdateSyncStatus = models.UpdateStatusSynced
		row.LastSeenAt = now
		if err := s.Store.UpsertOrganization(ctx, row); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
	}
	return nil
}

func (s *ContactSyncService) finalize(ctx context.Context, st *runState, elapsed time.Duration, syncErr error) (RunSummary, error) {
	now := time.Now().UTC()
	run := st.run
	run.EndTime = &now
	durationMs := elapsed.Milliseconds()
	run.DurationMs = &durationMs
	run.ErrorsJSON = mustJSON(st.collected())

	stateStatus := models.SyncStateCompleted
	var lastSync *time.Time
	if syncErr != nil {
		run.Status = models.RunStatusFailed
		msg := syncErr.Error()
		run.Error = &msg
		stateStatus = models.SyncStateFailed
	} else {
		run.Status = models.RunStatusSuccess
		lastSync = &now
	}

	if err := s.Store.UpdateSyncRun(ctx, run); err != nil && s.Logger != nil {
		s.Logger.Warn("persisting final run state failed", zap.Uint64("run_id", run.ID), zap.Error(err))
	}
	if err := s.Store.SaveUserSyncState(ctx, &models.UserSyncState{
		AccountID:         run.AccountID,
		LastSyncTimestamp: lastSync,
		SyncStatus:        stateStatus,
	}); err != nil && s.Logger != nil {
		s.Logger.Warn("persisting user sync state failed", zap.String("account_id", run.AccountID), zap.Error(err))
	}

	if s.Logger != nil {
		s.Logger.Info("sync run finished",
			zap.Uint64("run_id", run.ID),
			zap.String("status", run.Status),
			zap.Int("total", run.TotalRecords),
			zap.Int("processed", run.RecordsProcessed),
			zap.Int("created", run.RecordsCreated),
			zap.Int("updated", run.RecordsUpdated),
			zap.Int("failed", run.RecordsFailed),
			zap.Duration("elapsed", elapsed),
		)
	}

	summary := RunSummary{
		SyncRunID:        run.ID,
		SyncType:         run.SyncType,
		Status:           run.Status,
		TotalRecords:     run.TotalRecords,
		RecordsProcessed: run.RecordsProcessed,
		RecordsUpdated:   run.RecordsUpdated,
		RecordsCreated:   run.RecordsCreated,
		RecordsFailed:    run.RecordsFailed,
		BatchesTotal:     run.BatchesTotal,
		BatchesFailed:    run.BatchesFailed,
		Errors:           st.collected(),
		Duration:         elapsed,
	}
	return summary, syncErr
}

func (s *ContactSyncService) checkpoint(ctx context.Context, st *runState) error {
	st.run.ErrorsJSON = mustJSON(st.collected())
	if err := s.Store.UpdateSyncRun(ctx, st.run); err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

func (s *ContactSyncService) runTimeout() time.Duration {
	if s.Config.RunTimeout > 0 {
		return s.Config.RunTimeout
	}
	return 10 * time.Minute
}

func (s *ContactSyncService) pageSize() int {
	if s.Config.PageSize > 0 {
		return s.Config.PageSize
	}
	return 100
}

// Incremental and search runs execute the full-sync pipeline over a narrower
// input set; they are not a differential diff against the remote side.
func filterPersons(persons []pipedrive.Person, syncType string, since *time.Time, recordIDs []int64) []pipedrive.Person {
	switch syncType {
	case models.SyncTypeIncremental:
		if since == nil {
			return persons
		}
		out := make([]pipedrive.Person, 0, len(persons))
		for _, person := range persons {
			if !person.UpdateTime.IsZero() && person.UpdateTime.After(*since) {
				out = append(out, person)
			}
		}
		return out
	case models.SyncTypeSearch:
		if len(recordIDs) == 0 {
			return nil
		}
		wanted := make(map[int64]struct{}, len(recordIDs))
		for _, id := range recordIDs {
			wanted[id] = struct{}{}
		}
		out := make([]pipedrive.Person, 0, len(recordIDs))
		for _, person := range persons {
			if _, ok := wanted[person.ID]; ok {
				out = append(out, person)
			}
		}
		return out
	default:
		return persons
	}
}

func normalizeSyncType(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", models.SyncTypeFull:
		return models.SyncTypeFull, nil
	case models.SyncTypeIncremental:
		return models.SyncTypeIncremental, nil
	case models.SyncTypeSearch:
		return models.SyncTypeSearch, nil
	default:
		return "", fmt.Errorf("unsupported sync type: %s", raw)
	}
}

func normalizeName(name string) string {
	return models.NormalizeContactName(name)
}

func primaryValue(values []pipedrive.LabelValue) string {
	for _, v := range values {
		if v.Primary && v.Value != "" {
			return v.Value
		}
	}
	for _, v := range values {
		if v.Value != "" {
			return v.Value
		}
	}
	return ""
}

func mustJSON(v any) datatypes.JSON {
	payload, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(payload)
}
