package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// UserHandler serves user lookups
type UserHandler struct {
	directory auth.Directory
	logger    *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(directory auth.Directory, logger *zap.Logger) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{directory: directory, logger: logger}
}

// GetUser handles GET /users/:name
func (h *UserHandler) GetUser(c *gin.Context) {
	name := c.Param("name")

	user, err := h.directory.FindByUsername(c.Request.Context(), name)
	if errors.Is(err, auth.ErrUserNotFound) {
		abortWithError(c, http.StatusNotFound, codeNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("User lookup failed",
			zap.String("username", name),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, codeInternal, "an error occurred while processing the request")
		return
	}

	c.JSON(http.StatusOK, types.UserDto{ID: user.ID, Name: user.Username})
}

// Me handles GET /api/me
func (h *UserHandler) Me(c *gin.Context) {
	principal, err := auth.GetPrincipal(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}

	roles := principal.Roles
	if roles == nil {
		roles = []string{}
	}

	c.JSON(http.StatusOK, MeResponse{
		ID:    principal.ID,
		Name:  principal.Username,
		Roles: roles,
	})
}
