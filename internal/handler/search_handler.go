package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/voxnote/internal/pkg/errcode"
	"github.com/xxxsen/voxnote/internal/pkg/response"
	"github.com/xxxsen/voxnote/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.Error(c, errcode.ErrInvalid, "query is required")
		return
	}
	topK := queryInt(c, "limit", 0)
	minScore := queryFloat32(c, "min_score", 0)
	results, err := h.search.Search(c.Request.Context(), getOwnerID(c), query, topK, minScore)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

func (h *SearchHandler) Similar(c *gin.Context) {
	topK := queryInt(c, "limit", 0)
	results, err := h.search.Similar(c.Request.Context(), getOwnerID(c), c.Param("id"), topK)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

type answerRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit"`
}

func (h *SearchHandler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.Error(c, errcode.ErrInvalid, "question is required")
		return
	}
	result, err := h.search.Answer(c.Request.Context(), getOwnerID(c), req.Question, req.Limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
