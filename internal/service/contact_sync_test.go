package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"crmsync/internal/client/pipedrive"
	"crmsync/internal/models"
)

func newSyncService(repo *stubRepo, crm *fakeCRM) *ContactSyncService {
	return &ContactSyncService{
		Store:  repo,
		Client: crm,
		Config: SyncRunnerConfig{
			BatchSize:        50,
			RunTimeout:       time.Minute,
			BatchBaseTimeout: 30 * time.Second,
			BatchMaxTimeout:  120 * time.Second,
		},
	}
}

func remotePerson(id int64, name string, updated time.Time) pipedrive.Person {
	p := pipedrive.Person{
		ID:    id,
		Name:  name,
		Email: []pipedrive.LabelValue{{Value: strings.ToLower(name) + "@example.com", Primary: true}},
	}
	p.UpdateTime.Time = updated
	return p
}

func TestRun_EmptyDataset(t *testing.T) {
	repo := newStubRepo()
	svc := newSyncService(repo, &fakeCRM{})

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1", SyncType: "full"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusSuccess || summary.TotalRecords != 0 {
		t.Fatalf("summary=%+v", summary)
	}
	state := repo.states["acct-1"]
	if state == nil || state.SyncStatus != models.SyncStateCompleted {
		t.Fatalf("state=%+v", state)
	}
	if state.LastSyncTimestamp == nil {
		t.Fatalf("last sync timestamp must be set after success")
	}
}

func TestRun_ValidatesOptions(t *testing.T) {
	svc := newSyncService(newStubRepo(), &fakeCRM{})
	if _, err := svc.Run(context.Background(), RunOptions{AccountID: " "}); err == nil {
		t.Fatalf("expected error for empty account id")
	}
	if _, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1", SyncType: "weekly"}); err == nil {
		t.Fatalf("expected error for unsupported sync type")
	}
}

func TestRun_CreatesContactsAndOrganizations(t *testing.T) {
	repo := newStubRepo()
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p1 := remotePerson(1, "Alice", updated)
	p1.OrgID = &pipedrive.OrgRef{ID: 500, Name: "Acme Inc"}
	p2 := remotePerson(2, "Bob", updated)
	crm := &fakeCRM{persons: []pipedrive.Person{p1, p2}}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.RecordsCreated != 2 || summary.RecordsFailed != 0 {
		t.Fatalf("summary=%+v", summary)
	}
	if len(repo.contacts) != 2 {
		t.Fatalf("contacts=%d want 2", len(repo.contacts))
	}
	if len(repo.orgs) != 1 {
		t.Fatalf("orgs=%d want 1", len(repo.orgs))
	}
	for _, org := range repo.orgs {
		if org.Name != "Acme Inc" || org.PipedriveID == nil || *org.PipedriveID != 500 {
			t.Fatalf("org=%+v", org)
		}
	}
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{
		remotePerson(1, "Alice", updated),
		remotePerson(2, "Bob", updated),
	}}
	svc := newSyncService(repo, crm)

	if _, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"}); err != nil {
		t.Fatalf("first run err=%v", err)
	}
	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("second run err=%v", err)
	}
	if summary.RecordsCreated != 0 || summary.RecordsUpdated != 0 {
		t.Fatalf("rerun summary=%+v want no writes", summary)
	}
	if len(repo.contacts) != 2 {
		t.Fatalf("contacts=%d want 2", len(repo.contacts))
	}
}

func TestRun_LinksUnmatchedLocalByIdentity(t *testing.T) {
	repo := newStubRepo()
	repo.contacts[1] = &models.Contact{
		ID:        1,
		AccountID: "acct-1",
		Name:      "Alice",
		Email:     "alice@example.com",
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "Alice", updated)}}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.RecordsCreated != 0 || summary.RecordsUpdated != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	linked := repo.contacts[1]
	if linked.PipedriveID == nil || *linked.PipedriveID != 10 {
		t.Fatalf("contact not linked: %+v", linked)
	}
	if crm.createPersonCalls != 0 {
		t.Fatalf("remote creates=%d want 0", crm.createPersonCalls)
	}
}

func TestRun_PushesPendingLocalEdits(t *testing.T) {
	repo := newStubRepo()
	remoteID := int64(10)
	repo.contacts[1] = &models.Contact{
		ID:               1,
		AccountID:        "acct-1",
		PipedriveID:      &remoteID,
		Name:             "Alice Edited",
		Email:            "alice@example.com",
		UpdateSyncStatus: models.UpdateStatusPending,
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "Alice", updated)}}
	var pushed pipedrive.PersonInput
	crm.updatePersonFn = func(id int64, in pipedrive.PersonInput) (pipedrive.Result, error) {
		pushed = in
		return ok(id), nil
	}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.RecordsUpdated != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	if pushed.Name != "Alice Edited" {
		t.Fatalf("pushed=%+v want local edit", pushed)
	}
	if repo.contacts[1].UpdateSyncStatus != models.UpdateStatusSynced {
		t.Fatalf("status=%s want synced", repo.contacts[1].UpdateSyncStatus)
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	repo := newStubRepo()
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(1, "Alice", updated)}}
	svc := newSyncService(repo, crm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := svc.Run(ctx, RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusSuccess || summary.RecordsCreated != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	state := repo.states["acct-1"]
	if state == nil || state.SyncStatus != models.SyncStateCompleted || state.LastSyncTimestamp == nil {
		t.Fatalf("state=%+v", state)
	}
}

func TestRun_RateLimitedRecordRetriedWithBackoff(t *testing.T) {
	repo := newStubRepo()
	remoteID := int64(10)
	repo.contacts[1] = &models.Contact{
		ID:               1,
		AccountID:        "acct-1",
		PipedriveID:      &remoteID,
		Name:             "Alice",
		UpdateSyncStatus: models.UpdateStatusPending,
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "Alice", updated)}}
	crm.updatePersonFn = func(id int64, in pipedrive.PersonInput) (pipedrive.Result, error) {
		if crm.updatePersonCalls < 3 {
			return pipedrive.Result{Err: &pipedrive.APIError{
				Status:     429,
				Message:    "rate limit exceeded",
				RetryAfter: 2 * time.Second,
			}}, nil
		}
		return ok(id), nil
	}

	var delays []time.Duration
	svc := newSyncService(repo, crm)
	svc.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.RecordsUpdated != 1 || summary.RecordsFailed != 0 {
		t.Fatalf("summary=%+v", summary)
	}
	if crm.updatePersonCalls != 3 {
		t.Fatalf("calls=%d want 3", crm.updatePersonCalls)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("delays=%v want growing multiples of retry-after", delays)
	}
}

func TestRun_RateLimitExhaustionCountsFailure(t *testing.T) {
	repo := newStubRepo()
	remoteID := int64(10)
	repo.contacts[1] = &models.Contact{
		ID:               1,
		AccountID:        "acct-1",
		PipedriveID:      &remoteID,
		Name:             "Alice",
		UpdateSyncStatus: models.UpdateStatusPending,
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "Alice", updated)}}
	crm.updatePersonFn = func(id int64, in pipedrive.PersonInput) (pipedrive.Result, error) {
		return pipedrive.Result{Err: &pipedrive.APIError{Status: 429, Message: "rate limit exceeded"}}, nil
	}
	svc := newSyncService(repo, crm)
	svc.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusSuccess || summary.RecordsFailed != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	if crm.updatePersonCalls != 3 {
		t.Fatalf("calls=%d want retry ceiling of 3", crm.updatePersonCalls)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "rate limit") {
		t.Fatalf("errors=%v", summary.Errors)
	}
}

func TestRun_AuthFailureNotRetried(t *testing.T) {
	repo := newStubRepo()
	remoteID := int64(10)
	repo.contacts[1] = &models.Contact{
		ID:               1,
		AccountID:        "acct-1",
		PipedriveID:      &remoteID,
		Name:             "Alice",
		UpdateSyncStatus: models.UpdateStatusPending,
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "Alice", updated)}}
	crm.updatePersonFn = func(id int64, in pipedrive.PersonInput) (pipedrive.Result, error) {
		return pipedrive.Result{Err: &pipedrive.APIError{Status: 401, Message: "invalid credentials"}}, nil
	}
	svc := newSyncService(repo, crm)

	if _, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if crm.updatePersonCalls != 1 {
		t.Fatalf("calls=%d want 1 for non-backoff failure", crm.updatePersonCalls)
	}
}

func TestRun_IdentityMatchCollapsesWhitespace(t *testing.T) {
	repo := newStubRepo()
	repo.contacts[1] = &models.Contact{
		ID:        1,
		AccountID: "acct-1",
		Name:      "John  Smith",
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "John Smith", updated)}}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.RecordsCreated != 0 || summary.RecordsUpdated != 1 {
		t.Fatalf("summary=%+v want link, not duplicate", summary)
	}
	if len(repo.contacts) != 1 {
		t.Fatalf("contacts=%d want 1", len(repo.contacts))
	}
	if repo.contacts[1].PipedriveID == nil || *repo.contacts[1].PipedriveID != 10 {
		t.Fatalf("contact not linked: %+v", repo.contacts[1])
	}
}

func TestRun_PendingWithoutRemoteIDLinkedThenPushed(t *testing.T) {
	repo := newStubRepo()
	repo.contacts[1] = &models.Contact{
		ID:               1,
		AccountID:        "acct-1",
		Name:             "Alice",
		Email:            "edited@example.com",
		UpdateSyncStatus: models.UpdateStatusPending,
	}
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(10, "Alice", updated)}}
	var pushed pipedrive.PersonInput
	var pushedID int64
	crm.updatePersonFn = func(id int64, in pipedrive.PersonInput) (pipedrive.Result, error) {
		pushedID = id
		pushed = in
		return ok(id), nil
	}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.RecordsUpdated != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	if pushedID != 10 || pushed.Email != "edited@example.com" {
		t.Fatalf("pushed id=%d input=%+v want the local edit", pushedID, pushed)
	}
	contact := repo.contacts[1]
	if contact.PipedriveID == nil || *contact.PipedriveID != 10 {
		t.Fatalf("contact not linked: %+v", contact)
	}
	if contact.Email != "edited@example.com" {
		t.Fatalf("local edit overwritten: %+v", contact)
	}
	if contact.UpdateSyncStatus != models.UpdateStatusSynced {
		t.Fatalf("status=%s want synced after push", contact.UpdateSyncStatus)
	}
}

func TestRun_BatchCountersAndErrorCap(t *testing.T) {
	repo := newStubRepo()
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	persons := make([]pipedrive.Person, 0, 120)
	for i := 0; i < 120; i++ {
		// The middle batch carries persons without a remote id, which fail
		// validation one by one.
		if i >= 50 && i < 100 {
			persons = append(persons, remotePerson(0, fmt.Sprintf("Broken%d", i), updated))
			continue
		}
		persons = append(persons, remotePerson(int64(i+1), fmt.Sprintf("Person%d", i), updated))
	}
	crm := &fakeCRM{persons: persons}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusSuccess {
		t.Fatalf("status=%s", summary.Status)
	}
	if summary.TotalRecords != 120 || summary.BatchesTotal != 3 {
		t.Fatalf("summary=%+v", summary)
	}
	if summary.BatchesFailed != 1 {
		t.Fatalf("batchesFailed=%d want 1", summary.BatchesFailed)
	}
	if summary.RecordsFailed != 50 || summary.RecordsCreated != 70 {
		t.Fatalf("summary=%+v", summary)
	}
	if len(summary.Errors) != 11 {
		t.Fatalf("errors=%d want 10 + overflow marker", len(summary.Errors))
	}
	if summary.Errors[10] != "...and 40 more" {
		t.Fatalf("overflow marker=%q", summary.Errors[10])
	}
}

func TestRun_DatabaseErrorAbortsRun(t *testing.T) {
	repo := newStubRepo()
	repo.createContactErr = errors.New("insert failed: constraint violation")
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{remotePerson(1, "Alice", updated)}}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"})
	if err == nil {
		t.Fatalf("expected run failure")
	}
	if summary.Status != models.RunStatusFailed {
		t.Fatalf("status=%s want failed", summary.Status)
	}
	state := repo.states["acct-1"]
	if state == nil || state.SyncStatus != models.SyncStateFailed {
		t.Fatalf("state=%+v", state)
	}
	if state.LastSyncTimestamp != nil {
		t.Fatalf("failed run must not advance the sync timestamp")
	}
	run := repo.runs[summary.SyncRunID]
	if run == nil || run.Error == nil || !strings.Contains(*run.Error, "database error") {
		t.Fatalf("run=%+v", run)
	}
}

func TestRun_IncrementalFiltersBySince(t *testing.T) {
	repo := newStubRepo()
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	repo.states["acct-1"] = &models.UserSyncState{
		AccountID:         "acct-1",
		LastSyncTimestamp: &since,
		SyncStatus:        models.SyncStateCompleted,
	}
	crm := &fakeCRM{persons: []pipedrive.Person{
		remotePerson(1, "Old", since.Add(-time.Hour)),
		remotePerson(2, "New", since.Add(time.Hour)),
	}}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1", SyncType: "incremental"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.TotalRecords != 1 || summary.RecordsCreated != 1 {
		t.Fatalf("summary=%+v", summary)
	}
	for _, c := range repo.contacts {
		if c.Name != "New" {
			t.Fatalf("unexpected contact %q", c.Name)
		}
	}
}

func TestRun_SearchFiltersByRecordID(t *testing.T) {
	repo := newStubRepo()
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	crm := &fakeCRM{persons: []pipedrive.Person{
		remotePerson(1, "Alice", updated),
		remotePerson(2, "Bob", updated),
		remotePerson(3, "Cara", updated),
	}}
	svc := newSyncService(repo, crm)

	summary, err := svc.Run(context.Background(), RunOptions{
		AccountID: "acct-1",
		SyncType:  "search",
		RecordIDs: []int64{2},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.TotalRecords != 1 || summary.RecordsCreated != 1 {
		t.Fatalf("summary=%+v", summary)
	}
}

func TestRun_StateClearedWhileInProgress(t *testing.T) {
	repo := newStubRepo()
	before := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	repo.states["acct-1"] = &models.UserSyncState{
		AccountID:         "acct-1",
		LastSyncTimestamp: &before,
		SyncStatus:        models.SyncStateCompleted,
	}
	crm := &fakeCRM{listErr: errors.New("connection refused")}
	svc := newSyncService(repo, crm)

	if _, err := svc.Run(context.Background(), RunOptions{AccountID: "acct-1"}); err == nil {
		t.Fatalf("expected failure")
	}
	state := repo.states["acct-1"]
	if state.SyncStatus != models.SyncStateFailed || state.LastSyncTimestamp != nil {
		t.Fatalf("state=%+v want failed with cleared timestamp", state)
	}
}

func TestFilterPersons_FullPassthrough(t *testing.T) {
	persons := []pipedrive.Person{remotePerson(1, "A", time.Now()), remotePerson(2, "B", time.Now())}
	if got := filterPersons(persons, models.SyncTypeFull, nil, nil); len(got) != 2 {
		t.Fatalf("got=%d want 2", len(got))
	}
}

func TestNormalizeName(t *testing.T) {
	if got := normalizeName("  Alice   SMITH "); got != "alice smith" {
		t.Fatalf("got=%q", got)
	}
}

func TestPrimaryValue(t *testing.T) {
	values := []pipedrive.LabelValue{
		{Value: "second@example.com"},
		{Value: "first@example.com", Primary: true},
	}
	if got := primaryValue(values); got != "first@example.com" {
		t.Fatalf("got=%q", got)
	}
	if got := primaryValue(nil); got != "" {
		t.Fatalf("got=%q want empty", got)
	}
}
