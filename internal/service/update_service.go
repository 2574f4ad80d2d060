package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crmsync/internal/client/pipedrive"
	"crmsync/internal/models"
	"crmsync/internal/repository"
)

// RemoteCRM is the surface of the pipedrive client the sync services use.
// *pipedrive.Client satisfies it; tests substitute fakes.
type RemoteCRM interface {
	CreatePerson(ctx context.Context, in pipedrive.PersonInput) (pipedrive.Result, error)
	UpdatePerson(ctx context.Context, id int64, in pipedrive.PersonInput) (pipedrive.Result, error)
	CreateOrganization(ctx context.Context, in pipedrive.OrganizationInput) (pipedrive.Result, error)
	UpdateOrganization(ctx context.Context, id int64, in pipedrive.OrganizationInput) (pipedrive.Result, error)
	CreateActivity(ctx context.Context, in pipedrive.ActivityInput) (pipedrive.Result, error)
	UpdateActivity(ctx context.Context, id int64, in pipedrive.ActivityInput) (pipedrive.Result, error)
	CreateDeal(ctx context.Context, in pipedrive.DealInput) (pipedrive.Result, error)
	UpdateDeal(ctx context.Context, id int64, in pipedrive.DealInput) (pipedrive.Result, error)
	ListPersons(ctx context.Context, pageSize int) ([]pipedrive.Person, error)
	ListOrganizations(ctx context.Context, pageSize int) ([]pipedrive.RemoteOrganization, error)
	TestConnection(ctx context.Context) error
}

const (
	maxUpdateAttempts = 3
	throttleEvery     = 10
	defaultThrottle   = time.Second
	defaultRetryDelay = 500 * time.Millisecond
)

type UpdateService struct {
	Store          repository.Repository
	Client         RemoteCRM
	Logger         *zap.Logger
	MaxAttempts    int
	RetryDelay     time.Duration
	RateLimitDelay time.Duration
	// NoThrottle disables the per-ten-records pause in UpdateBatch.
	NoThrottle bool
	// Sleep is swapped out in tests. Nil means context-aware real sleeping.
	Sleep func(ctx context.Context, d time.Duration) error
}

type UpdateRequest struct {
	RecordType string
	RecordID   uint64
}

type UpdateResult struct {
	Success    bool   `json:"success"`
	RecordType string `json:"record_type"`
	RecordID   uint64 `json:"record_id"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

type BatchUpdateResult struct {
	Success bool           `json:"success"`
	Results []UpdateResult `json:"results"`
	Summary BatchSummary   `json:"summary"`
}

type BatchSummary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// UpdateRecord pushes one local record to the remote CRM. Conflict rejections
// (the remote row was modified by another actor) are retried up to three
// attempts; every other failure is definitive on the first attempt. The local
// sync status is written exactly once, after the outcome is known.
func (s *UpdateService) UpdateRecord(ctx context.Context, req UpdateRequest) UpdateResult {
	result := UpdateResult{RecordType: req.RecordType, RecordID: req.RecordID}

	call, err := s.resolveCall(ctx, req)
	if err != nil {
		result.Error = err.Error()
		s.persistOutcome(ctx, req, false)
		return result
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		if attempt > 0 {
			result.RetryCount = attempt
			delay := s.RetryDelay
			if delay <= 0 {
				delay = defaultRetryDelay
			}
			if err := s.sleep(ctx, time.Duration(attempt)*delay); err != nil {
				lastErr = err
				break
			}
		}

		res, callErr := call(ctx)
		if callErr != nil {
			lastErr = callErr
			break
		}
		if res.Success {
			result.Success = true
			s.persistOutcome(ctx, req, true)
			return result
		}

		lastErr = res.Err
		if !isConflict(res.Err) {
			break
		}
		if s.Logger != nil {
			s.Logger.Debug("remote conflict, retrying",
				zap.String("record_type", req.RecordType),
				zap.Uint64("record_id", req.RecordID),
				zap.Int("attempt", attempt+1),
			)
		}
	}

	if isConflict(asAPIError(lastErr)) {
		result.RetryCount = s.maxAttempts()
	}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	s.persistOutcome(ctx, req, false)
	return result
}

type remoteCall func(ctx context.Context) (pipedrive.Result, error)

func (s *UpdateService) resolveCall(ctx context.Context, req UpdateRequest) (remoteCall, error) {
	switch strings.ToLower(strings.TrimSpace(req.RecordType)) {
	case "person":
		contact, err := s.Store.GetContactByID(ctx, req.RecordID)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if contact == nil {
			return nil, fmt.Errorf("person %d not found", req.RecordID)
		}
		if contact.PipedriveID == nil {
			return nil, fmt.Errorf("person %d has no remote id", req.RecordID)
		}
		in := pipedrive.PersonInput{
			Name:  contact.Name,
			Email: contact.Email,
			Phone: contact.Phone,
			OrgID: contact.PipedriveOrgID,
		}
		remoteID := *contact.PipedriveID
		return func(ctx context.Context) (pipedrive.Result, error) {
			return s.Client.UpdatePerson(ctx, remoteID, in)
		}, nil
	case "organization":
		org, err := s.Store.GetOrganizationByID(ctx, req.RecordID)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if org == nil {
			return nil, fmt.Errorf("organization %d not found", req.RecordID)
		}
		if org.PipedriveID == nil {
			return nil, fmt.Errorf("organization %d has no remote id", req.RecordID)
		}
		in := pipedrive.OrganizationInput{Name: org.Name}
		remoteID := *org.PipedriveID
		return func(ctx context.Context) (pipedrive.Result, error) {
			return s.Client.UpdateOrganization(ctx, remoteID, in)
		}, nil
	case "activity":
		activity, err := s.Store.GetActivityByID(ctx, req.RecordID)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if activity == nil {
			return nil, fmt.Errorf("activity %d not found", req.RecordID)
		}
		if activity.PipedriveID == nil {
			return nil, fmt.Errorf("activity %d has no remote id", req.RecordID)
		}
		in, err := s.activityInput(ctx, activity)
		if err != nil {
			return nil, err
		}
		remoteID := *activity.PipedriveID
		return func(ctx context.Context) (pipedrive.Result, error) {
			return s.Client.UpdateActivity(ctx, remoteID, in)
		}, nil
	case "deal":
		deal, err := s.Store.GetDealByID(ctx, req.RecordID)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if deal == nil {
			return nil, fmt.Errorf("deal %d not found", req.RecordID)
		}
		if deal.PipedriveID == nil {
			return nil, fmt.Errorf("deal %d has no remote id", req.RecordID)
		}
		in := pipedrive.DealInput{
			Title:    deal.Title,
			Value:    deal.Value,
			Currency: deal.Currency,
			Stage:    deal.Stage,
		}
		remoteID := *deal.PipedriveID
		return func(ctx context.Context) (pipedrive.Result, error) {
			return s.Client.UpdateDeal(ctx, remoteID, in)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported record type: %s", req.RecordType)
	}
}

func (s *UpdateService) activityInput(ctx context.Context, activity *models.Activity) (pipedrive.ActivityInput, error) {
	in := pipedrive.ActivityInput{
		Subject: activity.Subject,
		Note:    activity.Note,
		Type:    activity.Type,
		DueDate: activity.DueDate,
		Done:    activity.Done,
	}
	if activity.CampaignID != nil {
		campaign, err := s.Store.GetCampaignByID(ctx, *activity.CampaignID)
		if err != nil {
			return in, fmt.Errorf("database error: %w", err)
		}
		if campaign != nil {
			in.CampaignCode = campaign.ShortCode
		}
	}
	return in, nil
}

// UpdateBatch routes heterogeneous records to the single-record path with a
// throttling pause after every tenth record processed.
func (s *UpdateService) UpdateBatch(ctx context.Context, items []UpdateRequest) BatchUpdateResult {
	out := BatchUpdateResult{Results: make([]UpdateResult, 0, len(items))}
	out.Summary.Total = len(items)

	for i, item := range items {
		result := s.UpdateRecord(ctx, item)
		out.Results = append(out.Results, result)
		if result.Success {
			out.Summary.Successful++
		} else {
			out.Summary.Failed++
			if result.Error != "" {
				out.Summary.Errors = append(out.Summary.Errors,
					fmt.Sprintf("%s %d: %s", item.RecordType, item.RecordID, result.Error))
			}
		}

		if !s.NoThrottle && (i+1)%throttleEvery == 0 && i+1 < len(items) {
			delay := s.RateLimitDelay
			if delay <= 0 {
				delay = defaultThrottle
			}
			if err := s.sleep(ctx, delay); err != nil {
				break
			}
		}
	}

	out.Success = out.Summary.Failed == 0 && len(out.Results) == len(items)
	return out
}

func (s *UpdateService) persistOutcome(ctx context.Context, req UpdateRequest, success bool) {
	status := models.UpdateStatusFailed
	var lastUpdate *time.Time
	if success {
		status = models.UpdateStatusSynced
		now := time.Now().UTC()
		lastUpdate = &now
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(req.RecordType)) {
	case "person":
		err = s.Store.SetContactSyncStatus(ctx, req.RecordID, status, lastUpdate)
	case "organization":
		err = s.Store.SetOrganizationSyncStatus(ctx, req.RecordID, status, lastUpdate)
	case "activity":
		err = s.Store.SetActivitySyncStatus(ctx, req.RecordID, status, lastUpdate)
	case "deal":
		err = s.Store.SetDealSyncStatus(ctx, req.RecordID, status, lastUpdate)
	default:
		return
	}
	if err != nil && s.Logger != nil {
		s.Logger.Warn("persisting sync status failed",
			zap.String("record_type", req.RecordType),
			zap.Uint64("record_id", req.RecordID),
			zap.Error(err),
		)
	}
}

func (s *UpdateService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return maxUpdateAttempts
}

func (s *UpdateService) sleep(ctx context.Context, d time.Duration) error {
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

func isConflict(apiErr *pipedrive.APIError) bool {
	if apiErr == nil {
		return false
	}
	message := strings.ToLower(apiErr.Message)
	return strings.Contains(message, "conflict") ||
		strings.Contains(message, "modified by another") ||
		strings.Contains(message, "was changed")
}

func asAPIError(err error) *pipedrive.APIError {
	if apiErr, ok := err.(*pipedrive.APIError); ok {
		return apiErr
	}
	return nil
}
