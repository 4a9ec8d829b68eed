package clinicapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

// AccessToken fetches a federation token. The readiness probe uses it to
// confirm the clinic API is reachable.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	const op = "access_token"
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.aws("/access-token")})
	if err != nil {
		return "", err
	}
	var res struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		var bare string
		if json.Unmarshal(body, &bare) == nil && bare != "" {
			return bare, nil
		}
		return "", errors.Decode(op, err)
	}
	if res.AccessToken != "" {
		return res.AccessToken, nil
	}
	return res.Token, nil
}

func (c *Client) OrganizationDetails(ctx context.Context, orgID model.ID) (*model.OrganizationDetails, error) {
	const op = "organization_details"
	q := url.Values{"organization_id": {orgID.String()}}
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.aws("/organization-details"), query: q})
	if err != nil {
		return nil, err
	}
	details := &model.OrganizationDetails{}
	if err := c.decode(op, body, details, false); err != nil {
		return nil, err
	}
	return details, nil
}

func (c *Client) UserDetails(ctx context.Context, userID model.ID) (*model.UserDetails, error) {
	const op = "user_details"
	q := url.Values{"user_id": {userID.String()}}
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.aws("/user-details"), query: q})
	if err != nil {
		return nil, err
	}
	details := &model.UserDetails{}
	if err := c.decode(op, body, details, false); err != nil {
		return nil, err
	}
	return details, nil
}

func (c *Client) Organizations(ctx context.Context) ([]model.Organization, error) {
	const op = "organizations"
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.aws("/organizations")})
	if err != nil {
		return nil, err
	}
	return decodeSlice[model.Organization](op, body)
}

func (c *Client) ModalityRequestTypes(ctx context.Context) ([]model.ModalityRequestType, error) {
	const op = "modality_request_types"
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.aws("/modality-request-types")})
	if err != nil {
		return nil, err
	}
	return decodeSlice[model.ModalityRequestType](op, body)
}

// CreateCaseLink posts the case record. The server upserts on request_id.
func (c *Client) CreateCaseLink(ctx context.Context, link model.CaseLink) error {
	const op = "case_details"
	if err := c.validate.Struct(link); err != nil {
		return errors.Validation(fmt.Sprintf("invalid case link: %v", err))
	}
	cl, err := jsonCall(op, http.MethodPost, c.aws("/case-details"), link)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, cl)
	return err
}

func (c *Client) PushNotification(ctx context.Context, n model.PushNotification) error {
	const op = "push_notification"
	if err := c.validate.Struct(n); err != nil {
		return errors.Validation(fmt.Sprintf("invalid notification: %v", err))
	}
	cl, err := jsonCall(op, http.MethodPost, c.aws("/push-notification"), n)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, cl)
	return err
}

func (c *Client) ReportURL(ctx context.Context, requestID model.ID) (string, error) {
	const op = "report_url"
	q := url.Values{"request_id": {requestID.String()}}
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.aws("/report-url"), query: q})
	if err != nil {
		return "", err
	}
	var res struct {
		URL       string `json:"url"`
		ReportURL string `json:"report_url"`
	}
	if err := c.decode(op, body, &res, true); err != nil {
		return "", err
	}
	if res.URL != "" {
		return res.URL, nil
	}
	if res.ReportURL != "" {
		return res.ReportURL, nil
	}
	return "", errors.Decode(op, fmt.Errorf("report url missing"))
}
