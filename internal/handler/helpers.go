package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/ai"
	"github.com/xxxsen/voxnote/internal/middleware"
	"github.com/xxxsen/voxnote/internal/pkg/errcode"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
	"github.com/xxxsen/voxnote/internal/pkg/response"
)

func getOwnerID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextOwnerIDKey)
	ownerID, _ := value.(string)
	return ownerID
}

func queryInt(c *gin.Context, name string, fallback int) int {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func queryFloat32(c *gin.Context, name string, fallback float32) float32 {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return fallback
	}
	return float32(parsed)
}

func handleError(c *gin.Context, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, appErr.ErrForbidden):
		response.Error(c, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrQueueFull):
		response.Error(c, errcode.ErrQueueFull, "pipeline queue full, retry later")
	case errors.Is(err, appErr.ErrNotEmbedded):
		response.Error(c, errcode.ErrNotEmbedded, "note is not indexed yet")
	case errors.Is(err, ai.ErrUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "ai provider unavailable")
	default:
		logutil.GetLogger(c.Request.Context()).Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
