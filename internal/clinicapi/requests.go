package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

func (c *Client) ListRequests(ctx context.Context, q model.ListQuery) (*model.RequestList, error) {
	const op = "list_requests"
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.api("/clinic-requests"), query: q.Values()})
	if err != nil {
		return nil, err
	}

	list := &model.RequestList{}
	if err := c.decode(op, body, list, false); err != nil {
		return nil, err
	}
	if list.Data == nil {
		list.Data = []model.ClinicRequest{}
	}
	for i := range list.Data {
		if err := c.validate.Struct(&list.Data[i]); err != nil {
			return nil, errors.Decode(op, fmt.Errorf("row %d: %w", i, err))
		}
	}
	return list, nil
}

func (c *Client) GetRequest(ctx context.Context, id model.ID) (*model.ClinicRequest, error) {
	const op = "get_request"
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.api("/clinic-requests/" + url.PathEscape(id.String()))})
	if err != nil {
		return nil, err
	}
	req := &model.ClinicRequest{}
	if err := c.decode(op, body, req, true); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) Stats(ctx context.Context, orgID model.ID) (*model.RequestStats, error) {
	const op = "request_stats"
	q := url.Values{}
	if !orgID.IsZero() {
		q.Set("organization_id", orgID.String())
	}
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.api("/clinic-requests/stats"), query: q})
	if err != nil {
		return nil, err
	}
	stats := &model.RequestStats{}
	if err := c.decode(op, body, stats, true); err != nil {
		return nil, err
	}
	return stats, nil
}

// CreateRequest submits the multipart create form.
func (c *Client) CreateRequest(ctx context.Context, in model.RequestInput) (*model.ClinicRequest, error) {
	const op = "create_request"

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeRequestForm(w, in); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: failed to encode form: %w", op, err))
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: failed to encode form: %w", op, err))
	}

	body, err := c.do(ctx, call{
		op:          op,
		method:      http.MethodPost,
		url:         c.api("/clinic-requests"),
		body:        &buf,
		contentType: w.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	req := &model.ClinicRequest{}
	if err := c.decode(op, body, req, true); err != nil {
		return nil, err
	}
	return req, nil
}

func writeRequestForm(w *multipart.Writer, in model.RequestInput) error {
	types, err := json.Marshal(in.RequestTypes)
	if err != nil {
		return err
	}
	patient, err := json.Marshal(in.Patient)
	if err != nil {
		return err
	}

	fields := []struct{ key, val string }{
		{"clinic_receiver_id", in.ClinicReceiverID.String()},
		{"clinic_provider_id", in.ClinicProviderID.String()},
		{"request_types", string(types)},
		{"is_emergency", strconv.FormatBool(in.IsEmergency)},
		{"hospital", in.Hospital},
		{"patient", string(patient)},
		{"full_name", in.Patient.FullName},
		{"nationality_id", in.Patient.NationalityID},
		{"phone", in.Patient.Phone},
	}
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		if err := w.WriteField(f.key, f.val); err != nil {
			return err
		}
	}

	if in.Attachment != nil {
		return writeFile(w, "attachment", in.Attachment)
	}
	return nil
}

func writeFile(w *multipart.Writer, field string, f *model.Upload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Filename))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}

func (c *Client) UpdateRequest(ctx context.Context, id model.ID, in model.RequestInput) (*model.ClinicRequest, error) {
	const op = "update_request"
	payload := map[string]interface{}{
		"clinic_receiver_id": in.ClinicReceiverID,
		"clinic_provider_id": in.ClinicProviderID,
		"request_types":      in.RequestTypes,
		"is_emergency":       in.IsEmergency,
		"hospital":           in.Hospital,
		"patient":            in.Patient,
	}
	cl, err := jsonCall(op, http.MethodPut, c.api("/clinic-requests/"+url.PathEscape(id.String())), payload)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	req := &model.ClinicRequest{}
	if err := c.decode(op, body, req, true); err != nil {
		return nil, err
	}
	return req, nil
}

// UpdateStatus issues the status-only transition.
func (c *Client) UpdateStatus(ctx context.Context, id model.ID, status model.RequestStatus) error {
	const op = "update_status"
	cl, err := jsonCall(op, http.MethodPatch, c.api("/clinic-requests/"+url.PathEscape(id.String())+"/status"),
		map[string]string{"status": string(status)})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, cl)
	return err
}

func (c *Client) RecordPayment(ctx context.Context, id model.ID, paymentType model.PaymentType, price float64) error {
	const op = "record_payment"
	cl, err := jsonCall(op, http.MethodPut, c.api("/clinic-requests/"+url.PathEscape(id.String())+"/payment"),
		map[string]interface{}{"payment_type": paymentType, "price": price})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, cl)
	return err
}

func (c *Client) AttachReport(ctx context.Context, id model.ID, reportURL string) error {
	const op = "attach_report"
	cl, err := jsonCall(op, http.MethodPost, c.api("/clinic-requests/"+url.PathEscape(id.String())+"/report"),
		map[string]string{"report_file": reportURL})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, cl)
	return err
}

func (c *Client) DeleteRequest(ctx context.Context, id model.ID) error {
	_, err := c.do(ctx, call{op: "delete_request", method: http.MethodDelete, url: c.api("/clinic-requests/" + url.PathEscape(id.String()))})
	return err
}

func (c *Client) CheckPatient(ctx context.Context, nationalityID string, clinicID model.ID) (*model.PatientCheck, error) {
	const op = "check_patient"
	q := url.Values{}
	if !clinicID.IsZero() {
		q.Set("clinic_id", clinicID.String())
	}
	body, err := c.do(ctx, call{op: op, method: http.MethodGet, url: c.api("/patients/check/" + url.PathEscape(nationalityID)), query: q})
	if err != nil {
		return nil, err
	}
	check := &model.PatientCheck{}
	if err := c.decode(op, body, check, false); err != nil {
		return nil, err
	}
	if check.Patient != nil && !check.Exists {
		check.Exists = true
	}
	return check, nil
}

func (c *Client) Upload(ctx context.Context, f model.Upload) (*model.UploadResult, error) {
	const op = "upload"
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFile(w, "file", &f); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: failed to encode file: %w", op, err))
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("%s: failed to encode file: %w", op, err))
	}

	body, err := c.do(ctx, call{op: op, method: http.MethodPost, url: c.api("/uploads"), body: &buf, contentType: w.FormDataContentType()})
	if err != nil {
		return nil, err
	}
	res := &model.UploadResult{}
	if err := c.decode(op, body, res, true); err != nil {
		return nil, err
	}
	if res.Location() == "" {
		return nil, errors.Decode(op, fmt.Errorf("upload response carries no file location"))
	}
	return res, nil
}

// SendPayment creates the external invoice and returns its redirect URL.
func (c *Client) SendPayment(ctx context.Context, id model.ID) (string, error) {
	const op = "send_payment"
	cl, err := jsonCall(op, http.MethodPost, c.api("/payment/send-payment"), map[string]interface{}{"request_id": id})
	if err != nil {
		return "", err
	}
	body, err := c.do(ctx, cl)
	if err != nil {
		return "", err
	}
	var res struct {
		InvoiceURL string `json:"invoiceUrl"`
		URL        string `json:"url"`
	}
	if err := c.decode(op, body, &res, true); err != nil {
		return "", err
	}
	if res.InvoiceURL != "" {
		return res.InvoiceURL, nil
	}
	if res.URL != "" {
		return res.URL, nil
	}
	return "", errors.Decode(op, fmt.Errorf("payment response carries no invoice url"))
}
