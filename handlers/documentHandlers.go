package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/workflow"
	"gorm.io/datatypes"
)

// HeaderIdempotencyKey makes POST /events safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

const httpEventsHandlerName = "http-events"

type createVersionRequest struct {
	Snapshot      datatypes.JSON `json:"snapshot"`
	ChangedFields []string       `json:"changed_fields"`
	ChangeReason  *string        `json:"change_reason"`
	ChangeSummary *string        `json:"change_summary"`
}

func (h *Handler) getVersions(c *gin.Context) {
	docType, docId, ok := documentRef(c)
	if !ok {
		return
	}
	versions, err := h.Engine.GetVersions(c.Request.Context(), docType, docId)
	if err != nil {
		h.respondError(c, "getVersions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_type": docType, "document_id": docId, "versions": versions})
}

func (h *Handler) createVersion(c *gin.Context) {
	docType, docId, ok := documentRef(c)
	if !ok {
		return
	}
	var req createVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	version, err := h.Engine.CreateVersion(c.Request.Context(), models.NewDocumentVersion{
		DocumentType:  docType,
		DocumentId:    docId,
		Snapshot:      req.Snapshot,
		ChangedFields: req.ChangedFields,
		ChangeReason:  req.ChangeReason,
		ChangeSummary: req.ChangeSummary,
	})
	if err != nil {
		h.respondError(c, "createVersion", err)
		return
	}
	c.JSON(http.StatusCreated, version)
}

func (h *Handler) getLatestVersion(c *gin.Context) {
	docType, docId, ok := documentRef(c)
	if !ok {
		return
	}
	version, err := h.Engine.GetLatestVersion(c.Request.Context(), docType, docId)
	if err != nil {
		h.respondError(c, "getLatestVersion", err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (h *Handler) getVersion(c *gin.Context) {
	docType, docId, ok := documentRef(c)
	if !ok {
		return
	}
	no, err := strconv.Atoi(c.Param("no"))
	if err != nil || no < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   models.ErrKindValidation,
			"message": "version number must be a positive integer",
			"fields":  map[string]string{"version_no": "min"},
		})
		return
	}
	version, err := h.Engine.GetVersion(c.Request.Context(), docType, docId, no)
	if err != nil {
		h.respondError(c, "getVersion", err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// recordEvent applies a document event synchronously. With an Idempotency-Key header a
// retried request returns the chain of the first one.
func (h *Handler) recordEvent(c *gin.Context) {
	var ev workflow.DocumentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err)
		return
	}
	var (
		res *workflow.RecordResult
		err error
	)
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		res, err = h.Engine.RecordOnce(c.Request.Context(), httpEventsHandlerName, key, ev)
	} else {
		res, err = h.Engine.Record(c.Request.Context(), ev)
	}
	if err != nil {
		h.respondError(c, "recordEvent", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
