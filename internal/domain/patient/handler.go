package patient

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc   *Service
	addrs *AddressManager
}

func NewHandler(svc *Service, addrs *AddressManager) *Handler {
	return &Handler{svc: svc, addrs: addrs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/export", h.ExportPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)

	api.POST("/patients/:id/addresses", h.CreateAddress)
	api.PUT("/addresses/:id", h.UpdateAddress)
	api.DELETE("/addresses/:id", h.DeleteAddress)
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	req := ParseListRequest(c.QueryParams())
	out, err := h.svc.List(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ExportPatients(c echo.Context) error {
	req := ParseListRequest(c.QueryParams())
	out, err := h.svc.List(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, out); err != nil {
		return apperr.HTTP(err)
	}
	name := fmt.Sprintf("patients-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxMIME, buf.Bytes())
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if d == nil {
		return apperr.HTTP(apperr.NotFound("patient", id.String()))
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Addresses --

// AddressRequest is the address form payload. IsPrimary is "Yes" or "No";
// it may be omitted for a patient's only address.
type AddressRequest struct {
	AddressFields
	IsPrimary string `json:"is_primary"`
}

func (h *Handler) CreateAddress(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req AddressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	choice, err := h.addrs.ChoiceForCreate(ctx, patientID)
	if err != nil {
		return apperr.HTTP(err)
	}
	makePrimary, err := choice.Resolve(req.IsPrimary)
	if err != nil {
		return apperr.HTTP(err)
	}

	a, err := h.addrs.CreateAddress(ctx, patientID, req.AddressFields, makePrimary)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAddress(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req AddressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	choice, err := h.addrs.ChoiceForUpdate(ctx, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	makePrimary, err := choice.Resolve(req.IsPrimary)
	if err != nil {
		return apperr.HTTP(err)
	}

	a, err := h.addrs.UpdateAddress(ctx, id, req.AddressFields, makePrimary)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAddress(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.addrs.DeleteAddress(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
