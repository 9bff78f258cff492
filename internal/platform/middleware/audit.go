package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/retinascan/retinascan/internal/platform/auth"
)

// AuditEntry records one access to scan data: who, what and the outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string // scan, stats, queue, history
	ScanID     string
	PatientID  string
	Action     string // read, create, update
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. The zerolog line is always written
// regardless of the recorder.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

const scansPrefix = "/api/scans"

// Audit logs every request under /api/scans after the handler has run.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if path != scansPrefix && !strings.HasPrefix(path, scansPrefix+"/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Action:     httpMethodToAction(req.Method),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				StatusCode: status,
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Resource, entry.ScanID, entry.PatientID = classifyScanPath(path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "scan_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("scan_id", entry.ScanID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("scan_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// classifyScanPath maps a /api/scans path to the resource touched and any
// scan or patient id it names.
//
//	/api/scans/stats[/export]          -> stats
//	/api/scans/doctor-queue            -> queue
//	/api/scans/history                 -> history
//	/api/scans/patient/<id>/history    -> history, patient <id>
//	/api/scans/<id>[/...]              -> scan <id>
func classifyScanPath(path string) (resource, scanID, patientID string) {
	rest := strings.Trim(strings.TrimPrefix(path, scansPrefix), "/")
	if rest == "" {
		return "scan", "", ""
	}
	segments := strings.Split(rest, "/")
	switch segments[0] {
	case "stats":
		return "stats", "", ""
	case "doctor-queue":
		return "queue", "", ""
	case "history":
		return "history", "", ""
	case "upload":
		return "scan", "", ""
	case "patient":
		if len(segments) > 1 && isUUID(segments[1]) {
			return "history", "", segments[1]
		}
		return "history", "", ""
	}
	if isUUID(segments[0]) {
		return "scan", segments[0], ""
	}
	return "scan", "", ""
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
