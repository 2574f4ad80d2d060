package pipedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

type OrganizationInput struct {
	Name string
}

type RemoteOrganization struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	UpdateTime RemoteTime `json:"update_time"`
}

func (c *Client) organizationPayload(in OrganizationInput) map[string]any {
	return map[string]any{
		"name": c.cleanText(in.Name, c.limits.OrgName),
	}
}

func (c *Client) CreateOrganization(ctx context.Context, in OrganizationInput) (Result, error) {
	env, apiErr, err := c.doRequest(ctx, http.MethodPost, "/organizations", nil, c.organizationPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

func (c *Client) UpdateOrganization(ctx context.Context, id int64, in OrganizationInput) (Result, error) {
	path := fmt.Sprintf("/organizations/%d", id)
	env, apiErr, err := c.doRequest(ctx, http.MethodPut, path, nil, c.organizationPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

func (c *Client) ListOrganizations(ctx context.Context, pageSize int) ([]RemoteOrganization, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	start := 0
	var out []RemoteOrganization
	for {
		query := url.Values{}
		query.Set("start", strconv.Itoa(start))
		query.Set("limit", strconv.Itoa(pageSize))
		env, apiErr, err := c.doRequest(ctx, http.MethodGet, "/organizations", query, nil)
		if err != nil {
			return nil, err
		}
		if apiErr != nil {
			return nil, apiErr
		}

		var page []RemoteOrganization
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
