package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/retinascan/retinascan/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	tokens *auth.TokenIssuer
}

func NewHandler(svc *Service, tokens *auth.TokenIssuer) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

// RegisterRoutes mounts register and login on public and me on authed.
func (h *Handler) RegisterRoutes(public *echo.Group, authed *echo.Group) {
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)
	authed.GET("/me", h.Me)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return h.respondWithToken(c, http.StatusCreated, u)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}
	return h.respondWithToken(c, http.StatusOK, u)
}

func (h *Handler) Me(c echo.Context) error {
	id, ok := auth.UserUUIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) respondWithToken(c echo.Context, status int, u *User) error {
	token, exp, err := h.tokens.Issue(u.ID, u.Email, u.FullName, u.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
	}
	return c.JSON(status, TokenResponse{Token: token, ExpiresAt: exp, User: u})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
