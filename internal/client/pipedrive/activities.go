package pipedrive

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type ActivityInput struct {
	Subject      string
	Note         string
	Type         string
	DueDate      *time.Time
	Done         bool
	PersonID     *int64
	CampaignCode string
}

func (c *Client) activityPayload(in ActivityInput) map[string]any {
	subject := c.cleanText(in.Subject, c.limits.Subject)
	if subject == "" {
		subject = defaultSubject(time.Now())
	}
	// The campaign marker is applied after truncation so the prefix itself is
	// never cut.
	subject = ComposeSubject(subject, in.CampaignCode)

	activityType := in.Type
	if activityType == "" {
		activityType = "task"
	}
	payload := map[string]any{
		"subject": subject,
		"type":    activityType,
		"done":    boolToAPIFlag(in.Done),
	}
	if note := c.cleanText(in.Note, c.limits.Note); note != "" {
		payload["note"] = note
	}
	if in.DueDate != nil {
		payload["due_date"] = in.DueDate.UTC().Format("2006-01-02")
	}
	if in.PersonID != nil {
		payload["person_id"] = *in.PersonID
	}
	return payload
}

func (c *Client) CreateActivity(ctx context.Context, in ActivityInput) (Result, error) {
	env, apiErr, err := c.doRequest(ctx, http.MethodPost, "/activities", nil, c.activityPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

func (c *Client) UpdateActivity(ctx context.Context, id int64, in ActivityInput) (Result, error) {
	path := fmt.Sprintf("/activities/%d", id)
	env, apiErr, err := c.doRequest(ctx, http.MethodPut, path, nil, c.activityPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

// The activities endpoint expects done as 0/1, not a JSON bool.
func boolToAPIFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
