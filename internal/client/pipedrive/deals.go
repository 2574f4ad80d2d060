package pipedrive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type DealInput struct {
	Title    string
	Value    decimal.Decimal
	Currency string
	Stage    string
	PersonID *int64
}

func (c *Client) dealPayload(in DealInput) map[string]any {
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}
	payload := map[string]any{
		"title":    c.cleanText(in.Title, c.limits.Name),
		"value":    in.Value.String(),
		"currency": currency,
	}
	if in.Stage != "" {
		payload["stage_id"] = in.Stage
	}
	if in.PersonID != nil {
		payload["person_id"] = *in.PersonID
	}
	return payload
}

func (c *Client) CreateDeal(ctx context.Context, in DealInput) (Result, error) {
	env, apiErr, err := c.doRequest(ctx, http.MethodPost, "/deals", nil, c.dealPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}

func (c *Client) UpdateDeal(ctx context.Context, id int64, in DealInput) (Result, error) {
	path := fmt.Sprintf("/deals/%d", id)
	env, apiErr, err := c.doRequest(ctx, http.MethodPut, path, nil, c.dealPayload(in))
	if err != nil {
		return Result{}, err
	}
	return resultFrom(env, apiErr), nil
}
