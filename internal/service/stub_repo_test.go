package service

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"crmsync/internal/client/pipedrive"
	"crmsync/internal/models"
	"crmsync/internal/repository"
)

// stubRepo is an in-memory repository.Repository for service tests.
type stubRepo struct {
	contacts  map[uint64]*models.Contact
	orgs      map[uint64]*models.Organization
	acts      map[uint64]*models.Activity
	deals     map[uint64]*models.Deal
	campaigns map[uint64]*models.Campaign
	runs      map[uint64]*models.SyncRun
	states    map[string]*models.UserSyncState
	nextID    uint64

	createContactErr error
	findContactErr   error
	updateRunErr     error

	statusWrites []string
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		contacts:  map[uint64]*models.Contact{},
		orgs:      map[uint64]*models.Organization{},
		acts:      map[uint64]*models.Activity{},
		deals:     map[uint64]*models.Deal{},
		campaigns: map[uint64]*models.Campaign{},
		runs:      map[uint64]*models.SyncRun{},
		states:    map[string]*models.UserSyncState{},
	}
}

var _ repository.Repository = (*stubRepo)(nil)

func (r *stubRepo) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) GetContactByID(ctx context.Context, id uint64) (*models.Contact, error) {
	if r.findContactErr != nil {
		return nil, r.findContactErr
	}
	return r.contacts[id], nil
}

func (r *stubRepo) FindContactByPipedriveID(ctx context.Context, accountID string, pipedriveID int64) (*models.Contact, error) {
	if r.findContactErr != nil {
		return nil, r.findContactErr
	}
	for _, c := range r.contacts {
		if c.AccountID == accountID && c.PipedriveID != nil && *c.PipedriveID == pipedriveID {
			return c, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) FindContactByIdentity(ctx context.Context, accountID, normalizedName, email string) (*models.Contact, error) {
	if r.findContactErr != nil {
		return nil, r.findContactErr
	}
	for _, c := range r.contacts {
		if c.AccountID != accountID || c.PipedriveID != nil {
			continue
		}
		if normalizedName != "" && (c.NormalizedName == normalizedName || normalizeName(c.Name) == normalizedName) {
			return c, nil
		}
		if email != "" && strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) CreateContact(ctx context.Context, item *models.Contact) error {
	if r.createContactErr != nil {
		return r.createContactErr
	}
	if item.ID == 0 {
		item.ID = r.id()
	}
	r.contacts[item.ID] = item
	return nil
}

func (r *stubRepo) UpdateContact(ctx context.Context, item *models.Contact) error {
	r.contacts[item.ID] = item
	return nil
}

func (r *stubRepo) SetContactSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	r.statusWrites = append(r.statusWrites, "contact:"+status)
	if c, ok := r.contacts[id]; ok {
		c.UpdateSyncStatus = status
		c.LastPipedriveUpdate = lastUpdate
	}
	return nil
}

func (r *stubRepo) CountContacts(ctx context.Context, accountID string) (int64, error) {
	var n int64
	for _, c := range r.contacts {
		if c.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) GetOrganizationByID(ctx context.Context, id uint64) (*models.Organization, error) {
	return r.orgs[id], nil
}

func (r *stubRepo) FindOrganizationByPipedriveID(ctx context.Context, accountID string, pipedriveID int64) (*models.Organization, error) {
	for _, o := range r.orgs {
		if o.AccountID == accountID && o.PipedriveID != nil && *o.PipedriveID == pipedriveID {
			return o, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) FindOrganizationByNormalizedName(ctx context.Context, accountID, normalizedName string) (*models.Organization, error) {
	for _, o := range r.orgs {
		if o.AccountID == accountID && o.NormalizedName == normalizedName {
			return o, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) UpsertOrganization(ctx context.Context, item *models.Organization) error {
	if existing, err := r.FindOrganizationByNormalizedName(ctx, item.AccountID, item.NormalizedName); err == nil && existing != nil && item.ID == 0 {
		item.ID = existing.ID
	}
	if item.ID == 0 {
		item.ID = r.id()
	}
	r.orgs[item.ID] = item
	return nil
}

func (r *stubRepo) SetOrganizationSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	r.statusWrites = append(r.statusWrites, "organization:"+status)
	if o, ok := r.orgs[id]; ok {
		o.UpdateSyncStatus = status
		o.LastPipedriveUpdate = lastUpdate
	}
	return nil
}

func (r *stubRepo) GetActivityByID(ctx context.Context, id uint64) (*models.Activity, error) {
	return r.acts[id], nil
}

func (r *stubRepo) SetActivitySyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	r.statusWrites = append(r.statusWrites, "activity:"+status)
	if a, ok := r.acts[id]; ok {
		a.UpdateSyncStatus = status
		a.LastPipedriveUpdate = lastUpdate
	}
	return nil
}

func (r *stubRepo) GetDealByID(ctx context.Context, id uint64) (*models.Deal, error) {
	return r.deals[id], nil
}

func (r *stubRepo) SetDealSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	r.statusWrites = append(r.statusWrites, "deal:"+status)
	if d, ok := r.deals[id]; ok {
		d.UpdateSyncStatus = status
		d.LastPipedriveUpdate = lastUpdate
	}
	return nil
}

func (r *stubRepo) GetCampaignByID(ctx context.Context, id uint64) (*models.Campaign, error) {
	return r.campaigns[id], nil
}

func (r *stubRepo) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == 0 {
		run.ID = r.id()
	}
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

func (r *stubRepo) UpdateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if r.updateRunErr != nil {
		return r.updateRunErr
	}
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

func (r *stubRepo) GetSyncRunByID(ctx context.Context, id uint64) (*models.SyncRun, error) {
	return r.runs[id], nil
}

func (r *stubRepo) GetLastSuccessfulRun(ctx context.Context, accountID string) (*models.SyncRun, error) {
	var last *models.SyncRun
	for _, run := range r.runs {
		if run.AccountID != accountID || run.Status != models.RunStatusSuccess {
			continue
		}
		if last == nil || run.StartTime.After(last.StartTime) {
			last = run
		}
	}
	return last, nil
}

func (r *stubRepo) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	var out []models.SyncRun
	for _, run := range r.runs {
		if params.AccountID != "" && run.AccountID != params.AccountID {
			continue
		}
		if params.Status != nil && run.Status != *params.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (r *stubRepo) CountSyncRuns(ctx context.Context, accountID string) (int64, error) {
	runs, _ := r.ListSyncRuns(ctx, repository.ListSyncRunsParams{AccountID: accountID})
	return int64(len(runs)), nil
}

func (r *stubRepo) GetUserSyncState(ctx context.Context, accountID string) (*models.UserSyncState, error) {
	return r.states[accountID], nil
}

func (r *stubRepo) SaveUserSyncState(ctx context.Context, state *models.UserSyncState) error {
	copied := *state
	r.states[state.AccountID] = &copied
	return nil
}

// fakeCRM is a scriptable RemoteCRM. Unset hooks answer success.
type fakeCRM struct {
	persons []pipedrive.Person
	listErr error

	updatePersonFn func(id int64, in pipedrive.PersonInput) (pipedrive.Result, error)
	updateOrgFn    func(id int64, in pipedrive.OrganizationInput) (pipedrive.Result, error)
	updateActFn    func(id int64, in pipedrive.ActivityInput) (pipedrive.Result, error)
	updateDealFn   func(id int64, in pipedrive.DealInput) (pipedrive.Result, error)

	createPersonCalls int
	updatePersonCalls int
	updateActCalls    int
	lastActivityInput pipedrive.ActivityInput
}

var _ RemoteCRM = (*fakeCRM)(nil)

func ok(id int64) pipedrive.Result {
	return pipedrive.Result{Success: true, ID: id}
}

func (f *fakeCRM) CreatePerson(ctx context.Context, in pipedrive.PersonInput) (pipedrive.Result, error) {
	f.createPersonCalls++
	return ok(int64(f.createPersonCalls)), nil
}

func (f *fakeCRM) UpdatePerson(ctx context.Context, id int64, in pipedrive.PersonInput) (pipedrive.Result, error) {
	f.updatePersonCalls++
	if f.updatePersonFn != nil {
		return f.updatePersonFn(id, in)
	}
	return ok(id), nil
}

func (f *fakeCRM) CreateOrganization(ctx context.Context, in pipedrive.OrganizationInput) (pipedrive.Result, error) {
	return ok(1), nil
}

func (f *fakeCRM) UpdateOrganization(ctx context.Context, id int64, in pipedrive.OrganizationInput) (pipedrive.Result, error) {
	if f.updateOrgFn != nil {
		return f.updateOrgFn(id, in)
	}
	return ok(id), nil
}

func (f *fakeCRM) CreateActivity(ctx context.Context, in pipedrive.ActivityInput) (pipedrive.Result, error) {
	return ok(1), nil
}

func (f *fakeCRM) UpdateActivity(ctx context.Context, id int64, in pipedrive.ActivityInput) (pipedrive.Result, error) {
	f.updateActCalls++
	f.lastActivityInput = in
	if f.updateActFn != nil {
		return f.updateActFn(id, in)
	}
	return ok(id), nil
}

func (f *fakeCRM) CreateDeal(ctx context.Context, in pipedrive.DealInput) (pipedrive.Result, error) {
	return ok(1), nil
}

func (f *fakeCRM) UpdateDeal(ctx context.Context, id int64, in pipedrive.DealInput) (pipedrive.Result, error) {
	if f.updateDealFn != nil {
		return f.updateDealFn(id, in)
	}
	return ok(id), nil
}

func (f *fakeCRM) ListPersons(ctx context.Context, pageSize int) ([]pipedrive.Person, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.persons, nil
}

func (f *fakeCRM) ListOrganizations(ctx context.Context, pageSize int) ([]pipedrive.RemoteOrganization, error) {
	return nil, nil
}

func (f *fakeCRM) TestConnection(ctx context.Context) error {
	return nil
}
