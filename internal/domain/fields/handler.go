package fields

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/fields", h.ListFields)
	api.POST("/fields", h.CreateField)
	api.DELETE("/fields/:id", h.DeleteField)
	api.GET("/patients/:id/additional-info", h.GetAdditionalInfo)
	api.PUT("/patients/:id/additional-info", h.UpdateAdditionalInfo)
}

func (h *Handler) ListFields(c echo.Context) error {
	out, err := h.svc.ListFields(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	if out == nil {
		out = []*Field{}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateField(c echo.Context) error {
	var in FieldInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := h.svc.CreateField(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) DeleteField(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteField(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAdditionalInfo(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	out, err := h.svc.AdditionalInfo(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if out == nil {
		out = []Info{}
	}
	return c.JSON(http.StatusOK, out)
}

// UpdateAdditionalInfo takes a JSON object of field id to value.
func (h *Handler) UpdateAdditionalInfo(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body map[string]string
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be an object of field id to value")
	}
	values := make(map[uuid.UUID]string, len(body))
	for k, v := range body {
		fieldID, err := uuid.Parse(k)
		if err != nil {
			return apperr.HTTP(apperr.Validation("field_id", "invalid field id %q", k))
		}
		values[fieldID] = v
	}
	if err := h.svc.UpdateAdditionalInfo(c.Request().Context(), id, values); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
