package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/voxnote/internal/middleware"
)

type RouterDeps struct {
	Notes        *NoteHandler
	Search       *SearchHandler
	UploadWindow time.Duration
	AnswerWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	owned := api.Group("")
	owned.Use(middleware.RequireOwner())

	owned.POST("/notes", middleware.RateLimit(deps.UploadWindow), deps.Notes.Upload)
	owned.GET("/notes", deps.Notes.List)
	owned.GET("/notes/:id", deps.Notes.Get)
	owned.PUT("/notes/:id", deps.Notes.Edit)
	owned.DELETE("/notes/:id", deps.Notes.Delete)

	owned.GET("/search", deps.Search.Search)
	owned.GET("/notes/:id/similar", deps.Search.Similar)
	owned.POST("/answer", middleware.RateLimit(deps.AnswerWindow), deps.Search.Answer)
}
