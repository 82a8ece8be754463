package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-tcp/internal/core"
)

// UserHandlers exposes the presence registry over HTTP.
type UserHandlers struct {
	registry *core.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(registry *core.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		registry: registry,
		log:      logger,
	}
}

// UserResponse represents a registered user in API responses.
type UserResponse struct {
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	Addr         string    `json:"addr"`
	LastActivity time.Time `json:"last_activity"`
}

// UsersResponse is the body of GET /api/users.
type UsersResponse struct {
	Server    string         `json:"server"`
	Connected int            `json:"connected"`
	MaxUsers  int            `json:"max_users"`
	Users     []UserResponse `json:"users"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListUsers returns registered users, or one user when ?name= is given.
// GET /api/users
func (h *UserHandlers) ListUsers(c *gin.Context) {
	views := h.registry.Snapshot()

	if name := c.Query("name"); name != "" {
		view, ok := lo.Find(views, func(v core.View) bool { return v.Name == name })
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: core.MsgUserNotFound})
			return
		}
		c.JSON(http.StatusOK, userToResponse(view))
		return
	}

	c.JSON(http.StatusOK, UsersResponse{
		Server:    h.registry.Sentinel().Name,
		Connected: h.registry.Count(),
		MaxUsers:  h.registry.MaxUsers(),
		Users:     lo.Map(views, func(v core.View, _ int) UserResponse { return userToResponse(v) }),
	})
}

func userToResponse(v core.View) UserResponse {
	return UserResponse{
		Username:     v.Name,
		Status:       v.Status.String(),
		Addr:         v.Addr,
		LastActivity: v.LastActivity,
	}
}
