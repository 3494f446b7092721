// Package client is a typed HTTP client for the records API.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ehr/records/internal/domain/fields"
	"github.com/ehr/records/internal/domain/patient"
	"github.com/ehr/records/internal/platform/apperr"
)

const apiPrefix = "/api/v1"

type Client struct {
	http *resty.Client
}

// New returns a client for the API at baseURL. Only reads are retried;
// writes, deletions in particular, are attempted once.
func New(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL+apiPrefix).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() == http.StatusServiceUnavailable
		})
	return &Client{http: rc}
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&apperr.Body{})
}

// -- Patients --

func (c *Client) ListPatients(ctx context.Context, req patient.ListRequest) ([]patient.Summary, error) {
	var out []patient.Summary
	resp, err := c.req(ctx).
		SetQueryParamsFromValues(req.Encode()).
		SetResult(&out).
		Get("/patients")
	if err := check(resp, err, "list patients"); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportPatients streams the XLSX export for req into w.
func (c *Client) ExportPatients(ctx context.Context, req patient.ListRequest, w io.Writer) error {
	resp, err := c.req(ctx).
		SetQueryParamsFromValues(req.Encode()).
		SetHeader("Accept", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet").
		Get("/patients/export")
	if err := check(resp, err, "export patients"); err != nil {
		return err
	}
	_, err = w.Write(resp.Body())
	return err
}

// GetPatient returns nil when the patient does not exist.
func (c *Client) GetPatient(ctx context.Context, id uuid.UUID) (*patient.Detail, error) {
	var out patient.Detail
	resp, err := c.req(ctx).SetResult(&out).Get("/patients/" + id.String())
	if err := check(resp, err, "get patient"); err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePatient(ctx context.Context, in patient.PatientInput) (*patient.Patient, error) {
	var out patient.Patient
	resp, err := c.req(ctx).SetBody(in).SetResult(&out).Post("/patients")
	if err := check(resp, err, "create patient"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePatient(ctx context.Context, id uuid.UUID, in patient.PatientInput) (*patient.Patient, error) {
	var out patient.Patient
	resp, err := c.req(ctx).SetBody(in).SetResult(&out).Put("/patients/" + id.String())
	if err := check(resp, err, "update patient"); err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Addresses --

func (c *Client) CreateAddress(ctx context.Context, patientID uuid.UUID, in patient.AddressRequest) (*patient.Address, error) {
	var out patient.Address
	resp, err := c.req(ctx).SetBody(in).SetResult(&out).Post("/patients/" + patientID.String() + "/addresses")
	if err := check(resp, err, "create address"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAddress(ctx context.Context, id uuid.UUID, in patient.AddressRequest) (*patient.Address, error) {
	var out patient.Address
	resp, err := c.req(ctx).SetBody(in).SetResult(&out).Put("/addresses/" + id.String())
	if err := check(resp, err, "update address"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAddress(ctx context.Context, id uuid.UUID) error {
	resp, err := c.req(ctx).Delete("/addresses/" + id.String())
	return check(resp, err, "delete address")
}

// -- Additional fields --

func (c *Client) ListFields(ctx context.Context) ([]fields.Field, error) {
	var out []fields.Field
	resp, err := c.req(ctx).SetResult(&out).Get("/fields")
	if err := check(resp, err, "list fields"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateField(ctx context.Context, in fields.FieldInput) (*fields.Field, error) {
	var out fields.Field
	resp, err := c.req(ctx).SetBody(in).SetResult(&out).Post("/fields")
	if err := check(resp, err, "create field"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteField(ctx context.Context, id uuid.UUID) error {
	resp, err := c.req(ctx).Delete("/fields/" + id.String())
	return check(resp, err, "delete field")
}

func (c *Client) UpdateAdditionalInfo(ctx context.Context, patientID uuid.UUID, values map[uuid.UUID]string) error {
	body := make(map[string]string, len(values))
	for id, v := range values {
		body[id.String()] = v
	}
	resp, err := c.req(ctx).SetBody(body).Put("/patients/" + patientID.String() + "/additional-info")
	return check(resp, err, "update additional info")
}

// check turns transport failures and error responses into apperr values so
// callers can branch on them the same way the server does.
func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return apperr.Store(op, err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := resp.Status()
	field := ""
	if body, ok := resp.Error().(*apperr.Body); ok && body.Error != "" {
		msg, field = strings.TrimPrefix(body.Error, body.Field+": "), body.Field
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return &apperr.ValidationError{Field: field, Message: msg}
	case http.StatusNotFound:
		return &apperr.NotFoundError{Resource: op, ID: path.Base(resp.Request.URL)}
	case http.StatusConflict:
		return apperr.Constraint("%s", msg)
	case http.StatusServiceUnavailable:
		return apperr.Store(op, fmt.Errorf("%s", msg))
	default:
		return fmt.Errorf("%s: %s", op, msg)
	}
}
