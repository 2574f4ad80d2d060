package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"crmsync/internal/models"
)

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Contacts
	GetContactByID(ctx context.Context, id uint64) (*models.Contact, error)
	FindContactByPipedriveID(ctx context.Context, accountID string, pipedriveID int64) (*models.Contact, error)
	FindContactByIdentity(ctx context.Context, accountID, normalizedName, email string) (*models.Contact, error)
	CreateContact(ctx context.Context, item *models.Contact) error
	UpdateContact(ctx context.Context, item *models.Contact) error
	SetContactSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error
	CountContacts(ctx context.Context, accountID string) (int64, error)

	// Organizations
	GetOrganizationByID(ctx context.Context, id uint64) (*models.Organization, error)
	FindOrganizationByPipedriveID(ctx context.Context, accountID string, pipedriveID int64) (*models.Organization, error)
	FindOrganizationByNormalizedName(ctx context.Context, accountID, normalizedName string) (*models.Organization, error)
	UpsertOrganization(ctx context.Context, item *models.Organization) error
	SetOrganizationSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error

	// Activities
	GetActivityByID(ctx context.Context, id uint64) (*models.Activity, error)
	SetActivitySyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error

	// Deals
	GetDealByID(ctx context.Context, id uint64) (*models.Deal, error)
	SetDealSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error

	// Campaigns
	GetCampaignByID(ctx context.Context, id uint64) (*models.Campaign, error)

	// Sync runs
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	UpdateSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRunByID(ctx context.Context, id uint64) (*models.SyncRun, error)
	GetLastSuccessfulRun(ctx context.Context, accountID string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, params ListSyncRunsParams) ([]models.SyncRun, error)
	CountSyncRuns(ctx context.Context, accountID string) (int64, error)

	// Per-account sync state
	GetUserSyncState(ctx context.Context, accountID string) (*models.UserSyncState, error)
	SaveUserSyncState(ctx context.Context, state *models.UserSyncState) error
}

type ListSyncRunsParams struct {
	AccountID string
	Status    *string
	Limit     int
	Offset    int
}
