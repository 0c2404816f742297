// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shinua/internal/http/handlers"
	"shinua/internal/http/middleware"
	"shinua/internal/infra"
	"shinua/internal/updates"

	"shinua/internal/modules/locks"
	"shinua/internal/modules/task"
	"shinua/internal/modules/user"
)

func NewRouter(
	taskService *task.Service,
	lockService *locks.Service,
	bus *updates.RedisBus,
	verifier infra.TokenVerifier,
	users *user.Store,
) http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	taskHandler := handlers.NewTaskHandler(taskService)
	lockHandler := handlers.NewLockHandler(lockService)
	updatesHandler := handlers.NewUpdatesHandler(bus)

	// New requests may come from the public form without a signed-in user.
	r.POST("/api/tasks", middleware.Auth(verifier, users, false), taskHandler.Create)

	api := r.Group("/api", middleware.Auth(verifier, users, true))
	{
		api.GET("/tasks", taskHandler.List)
		api.GET("/tasks/:id", taskHandler.Get)
		api.PUT("/tasks/:id", taskHandler.Update)

		api.POST("/tasks/:id/assign", taskHandler.Claim)
		api.POST("/tasks/:id/release", taskHandler.Release)
		api.POST("/tasks/:id/not-relevant", taskHandler.MarkNotRelevant)
		api.POST("/tasks/:id/problem", taskHandler.MarkOtherProblem)
		api.POST("/tasks/:id/complete", taskHandler.MarkCompleted)
		api.POST("/tasks/:id/undo-status", taskHandler.UndoStatusClick)
		api.POST("/tasks/:id/return-to-driver", taskHandler.ReturnToDriver)
		api.POST("/tasks/:id/return-to-active", taskHandler.ReturnToActive)
		api.POST("/tasks/:id/mark-draft", taskHandler.MarkDraft)

		api.GET("/tasks/:id/contact-info", taskHandler.ContactInfo)
		api.GET("/tasks/:id/history", taskHandler.History)

		api.POST("/tasks/:id/lock", lockHandler.Lock)
		api.POST("/tasks/:id/unlock", lockHandler.Unlock)

		api.GET("/updates", updatesHandler.Stream)
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
