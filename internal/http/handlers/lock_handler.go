// README: Edit lock handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shinua/internal/http/middleware"
	"shinua/internal/types"

	"shinua/internal/modules/locks"
)

type LockHandler struct {
	locks *locks.Service
}

func NewLockHandler(svc *locks.Service) *LockHandler {
	return &LockHandler{locks: svc}
}

type lockReq struct {
	Force bool `json:"force"`
}

func (h *LockHandler) Lock(c *gin.Context) {
	actor := middleware.Actor(c)
	var req lockReq
	_ = c.ShouldBindJSON(&req)
	// Only admins may take a lock over.
	force := req.Force && actor.Admin
	err := h.locks.Lock(c.Request.Context(), types.ID(c.Param("id")), actor.UserID, force)
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *LockHandler) Unlock(c *gin.Context) {
	actor := middleware.Actor(c)
	if err := h.locks.Unlock(c.Request.Context(), types.ID(c.Param("id")), actor.UserID); err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
