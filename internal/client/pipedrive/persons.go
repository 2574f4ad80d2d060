package pipedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type PersonInput struct {
	Name  string
	Email string
	Phone string
	OrgID *int64
}

// Person is the remote CRM's person shape as returned by GET /persons.
type Person struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Email      []LabelValue `json:"email"`
	Phone      []LabelValue `json:"phone"`
	OrgID      *OrgRef      `json:"org_id"`
	UpdateTime RemoteTime   `json:"update_time"`
	AddTime    RemoteTime   `json:"add_time"`
}

type LabelValue struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

// OrgRef tolerates both the bare-integer and embedded-object encodings the
// remote API uses for org_id.
type OrgRef struct {
	ID   int64  `json:"value"`
	Name string `json:"name"`
}

func (o *OrgRef) UnmarshalJSON(raw []byte) error {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		o.ID = id
		return nil
	}
	type alias OrgRef
	var obj alias
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	*o = OrgRef(obj)
	return nil
}

// RemoteTime parses the API's "2006-01-02 15:04:05" timestamps.
type RemoteTime struct {
	time.Time
}

func (t *RemoteTime) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

func (c *Client) personPayload(in PersonInput) map[string]any {
	payload := map[string]any{
		"name": c.cleanText(in.Name, c.limits.Name),
	}
	if email := c.cleanText(in.Email, c.limits.Email); email != "" {
		payload["email"] = []map[string]any{{"value": email, "primary": true}}
	}
	if phone := c.cleanText(in.Phone, c.limits.Phone); phone != "" {
		payload["phone"] = []map[string]any{{"value": phone, "primary": true}}
	}
	if in.OrgID != nil {
		payload["org_id"] = *in.OrgID
	}
	return payload
}

func (c *Client) CreatePerson(ctx context.Context, in PersonInput) (Result, error) {
	env, apiErr, err := c.doRequest(ctx, http.MethodPost, "/persons", nil, c.personPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

func (c *Client) UpdatePerson(ctx context.Context, id int64, in PersonInput) (Result, error) {
	path := fmt.Sprintf("/persons/%d", id)
	env, apiErr, err := c.doRequest(ctx, http.MethodPut, path, nil, c.personPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

// ListPersons pages through the full remote person set. A zero-person account
// returns an empty slice, not an error.
func (c *Client) ListPersons(ctx context.Context, pageSize int) ([]Person, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	start := 0
	var out []Person
	for {
		query := url.Values{}
		query.Set("start", strconv.Itoa(start))
		query.Set("limit", strconv.Itoa(pageSize))
		env, apiErr, err := c.doRequest(ctx, http.MethodGet, "/persons", query, nil)
		if err != nil {
			return nil, err
		}
		if apiErr != nil {
			return nil, apiErr
		}

		var page []Person
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &page); err != nil {
				return nil, &APIError{Status: http.StatusOK, Message: "invalid response from pipedrive"}
			}
		}
		out = append(out, page...)

		more := env.AdditionalData != nil &&
			env.AdditionalData.Pagination != nil &&
			env.AdditionalData.Pagination.MoreItemsInCollection
		if !more || len(page) == 0 {
			return out, nil
		}
		start += len(page)
	}
}
