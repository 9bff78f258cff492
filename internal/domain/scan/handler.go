package scan

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/retinascan/retinascan/internal/platform/auth"
	"github.com/retinascan/retinascan/internal/platform/blobstore"
	"github.com/retinascan/retinascan/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scan API on g, which must already require an
// authenticated user.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	patient := g.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/upload", h.Upload)
	patient.GET("/history", h.MyHistory)

	doctor := g.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("", h.List)
	doctor.GET("/doctor-queue", h.DoctorQueue)
	doctor.GET("/patient/:patientId/history", h.PatientHistory)
	doctor.GET("/stats", h.Stats)
	doctor.GET("/stats/export", h.ExportStats)
	doctor.PUT("/:id/validate", h.Validate)
	doctor.PUT("/:id/archive", h.Archive)
	doctor.GET("/:id/report", h.Report)

	// Owner or doctor, checked per request.
	g.GET("/:id", h.Get)
	g.GET("/:id/image", h.Image)
}

func (h *Handler) Upload(c echo.Context) error {
	patientID, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read file")
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return mapError(err)
	}

	consent, err := parseConsent(c.FormValue("consent"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "consent must be a boolean")
	}

	scan, err := h.svc.SubmitScan(c.Request().Context(), SubmitRequest{
		PatientID:   patientID,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Image:       data,
		Symptoms:    optionalForm(c, "symptoms"),
		Anamnesis:   optionalForm(c, "anamnesis"),
		Consent:     consent,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, scan)
}

func (h *Handler) MyHistory(c echo.Context) error {
	patientID, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	scans, err := h.svc.PatientHistory(c.Request().Context(), patientID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, scans)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	scans, err := h.svc.PatientHistory(c.Request().Context(), patientID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, scans)
}

func (h *Handler) DoctorQueue(c echo.Context) error {
	queue, err := h.svc.DoctorQueue(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, queue)
}

func (h *Handler) Validate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reviewer, ok := auth.UserUUIDFromContext(c.Request().Context()); ok && reviewer != auth.DevUserID {
		req.ReviewerID = &reviewer
	}
	scan, err := h.svc.ValidateScan(c.Request().Context(), id, req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, scan)
}

func (h *Handler) Archive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	scan, err := h.svc.ArchiveScan(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, scan)
}

func (h *Handler) Stats(c echo.Context) error {
	snap, err := h.svc.GlobalStats(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ExportStats(c echo.Context) error {
	data, err := h.svc.ExportStats(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	name := "retinascan-stats-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) Get(c echo.Context) error {
	scan, err := h.authorizedScan(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scan)
}

func (h *Handler) Image(c echo.Context) error {
	scan, err := h.authorizedScan(c)
	if err != nil {
		return err
	}
	rc, meta, err := h.svc.OpenImage(c.Request().Context(), scan)
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) Report(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	report, err := h.svc.GenerateReport(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"report": report})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListScans(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL.Path))
}

// authorizedScan loads :id and allows the owning patient or a doctor.
func (h *Handler) authorizedScan(c echo.Context) (*Scan, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	scan, err := h.svc.GetScan(c.Request().Context(), id)
	if err != nil {
		return nil, mapError(err)
	}

	ctx := c.Request().Context()
	if auth.HasRole(auth.RolesFromContext(ctx), auth.RoleDoctor) {
		return scan, nil
	}
	if uid, ok := auth.UserUUIDFromContext(ctx); ok && uid == scan.PatientID {
		return scan, nil
	}
	return nil, echo.NewHTTPError(http.StatusForbidden, "scan belongs to another patient")
}

func optionalForm(c echo.Context, name string) *string {
	v := strings.TrimSpace(c.FormValue(name))
	if v == "" {
		return nil
	}
	return &v
}

func parseConsent(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "off", "no":
		return false, nil
	case "on", "yes":
		return true, nil
	}
	return strconv.ParseBool(v)
}

func mapError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPatientNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidImage), errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
