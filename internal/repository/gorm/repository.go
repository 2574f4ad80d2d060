package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmsync/internal/models"
	"crmsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- contacts ---------------------------------------------------------------

func (s *Store) GetContactByID(ctx context.Context, id uint64) (*models.Contact, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Contact
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindContactByPipedriveID(ctx context.Context, accountID string, pipedriveID int64) (*models.Contact, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Contact
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("pipedrive_id = ?", pipedriveID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindContactByIdentity(ctx context.Context, accountID, normalizedName, email string) (*models.Contact, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("pipedrive_id IS NULL")
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		query = query.Where("normalized_name = ? OR lower(email) = ?", normalizedName, email)
	} else {
		query = query.Where("normalized_name = ?", normalizedName)
	}
	var item models.Contact
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateContact(ctx context.Context, item *models.Contact) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateContact(ctx context.Context, item *models.Contact) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) SetContactSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	return s.setSyncStatus(ctx, &models.Contact{}, id, status, lastUpdate)
}

func (s *Store) CountContacts(ctx context.Context, accountID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Contact{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	return count, err
}

// --- organizations ----------------------------------------------------------

func (s *Store) GetOrganizationByID(ctx context.Context, id uint64) (*models.Organization, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Organization
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindOrganizationByPipedriveID(ctx context.Context, accountID string, pipedriveID int64) (*models.Organization, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Organization
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("pipedrive_id = ?", pipedriveID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindOrganizationByNormalizedName(ctx context.Context, accountID, normalizedName string) (*models.Organization, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Organization
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("normalized_name = ?", normalizedName).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertOrganization(ctx context.Context, item *models.Organization) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.NormalizedName) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "normalized_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"pipedrive_id",
			"name",
			"update_sync_status",
			"last_pipedrive_update",
			"last_seen_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) SetOrganizationSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	return s.setSyncStatus(ctx, &models.Organization{}, id, status, lastUpdate)
}

// --- activities -------------------------------------------------------------

func (s *Store) GetActivityByID(ctx context.Context, id uint64) (*models.Activity, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Activity
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SetActivitySyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	return s.setSyncStatus(ctx, &models.Activity{}, id, status, lastUpdate)
}

// --- deals ------------------------------------------------------------------

func (s *Store) GetDealByID(ctx context.Context, id uint64) (*models.Deal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Deal
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SetDealSyncStatus(ctx context.Context, id uint64, status string, lastUpdate *time.Time) error {
	return s.setSyncStatus(ctx, &models.Deal{}, id, status, lastUpdate)
}

func (s *Store) setSyncStatus(ctx context.Context, model any, id uint64, status string, lastUpdate *time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	updates := map[string]any{
		"update_sync_status": status,
		"updated_at":         time.Now().UTC(),
	}
	if lastUpdate != nil {
		updates["last_pipedrive_update"] = *lastUpdate
	}
	return s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(updates).Error
}

// --- campaigns --------------------------------------------------------------

func (s *Store) GetCampaignByID(ctx context.Context, id uint64) (*models.Campaign, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Campaign
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- sync runs --------------------------------------------------------------

func (s *Store) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if s == nil || s.db == nil || run == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *Store) UpdateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if s == nil || s.db == nil || run == nil || run.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(run).Error
}

func (s *Store) GetSyncRunByID(ctx context.Context, id uint64) (*models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncRun
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLastSuccessfulRun(ctx context.Context, accountID string) (*models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncRun
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("status = ?", models.RunStatusSuccess).
		Order("start_time desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SyncRun{})
	if strings.TrimSpace(params.AccountID) != "" {
		query = query.Where("account_id = ?", params.AccountID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var items []models.SyncRun
	if err := query.Order("start_time desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSyncRuns(ctx context.Context, accountID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SyncRun{})
	if strings.TrimSpace(accountID) != "" {
		query = query.Where("account_id = ?", accountID)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// --- user sync state --------------------------------------------------------

func (s *Store) GetUserSyncState(ctx context.Context, accountID string) (*models.UserSyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UserSyncState
	err := s.db.WithContext(ctx).First(&item, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveUserSyncState(ctx context.Context, state *models.UserSyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	if strings.TrimSpace(state.AccountID) == "" {
		return nil
	}
	state.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_sync_timestamp",
			"sync_status",
			"updated_at",
		}),
	}).Create(state).Error
}
