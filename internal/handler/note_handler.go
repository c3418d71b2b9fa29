package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/voxnote/internal/pkg/errcode"
	appErr "github.com/xxxsen/voxnote/internal/pkg/errors"
	"github.com/xxxsen/voxnote/internal/pkg/response"
	"github.com/xxxsen/voxnote/internal/service"
)

type NoteHandler struct {
	notes          *service.NoteService
	maxUploadBytes int64
}

func NewNoteHandler(notes *service.NoteService, maxUploadBytes int64) *NoteHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &NoteHandler{notes: notes, maxUploadBytes: maxUploadBytes}
}

func (h *NoteHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("audio")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "audio file is required")
		return
	}
	if file.Size > h.maxUploadBytes {
		response.Error(c, errcode.ErrUploadFailed, "audio exceeds upload limit "+formatUploadLimit(h.maxUploadBytes))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "failed to open audio file")
		return
	}
	defer opened.Close()

	note, err := h.notes.Upload(c.Request.Context(), getOwnerID(c), file.Filename, opened)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, note)
}

func (h *NoteHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	notes, err := h.notes.List(c.Request.Context(), getOwnerID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"notes": notes, "total": len(notes)})
}

// Get returns the note with its outstanding pipeline job, so a client can
// poll processing progress with the same call it uses to read the note.
func (h *NoteHandler) Get(c *gin.Context) {
	detail, err := h.notes.Get(c.Request.Context(), getOwnerID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

type editRequest struct {
	Transcript string `json:"transcript"`
}

func (h *NoteHandler) Edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	note, err := h.notes.Edit(c.Request.Context(), getOwnerID(c), c.Param("id"), req.Transcript)
	if err != nil {
		if appErr.IsConflict(err) {
			response.Error(c, errcode.ErrConflict, "note is still processing")
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, note)
}

func (h *NoteHandler) Delete(c *gin.Context) {
	if err := h.notes.Delete(c.Request.Context(), getOwnerID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
