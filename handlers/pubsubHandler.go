package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/sirupsen/logrus"
)

// PubSubHandlerName keys idempotency records of push deliveries.
const PubSubHandlerName = "pubsub-document-events"

const documentLockTTL = 30 * time.Second

type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DocumentEventMessage is what document services publish for the recorder.
type DocumentEventMessage struct {
	BusinessProfileId string                 `json:"business_profile_id"`
	UserId            string                 `json:"user_id"`
	UserName          string                 `json:"user_name"`
	CorrelationId     string                 `json:"correlation_id"`
	Event             workflow.DocumentEvent `json:"event"`
}

// permanentKinds are acked after logging: redelivering them cannot succeed.
var permanentKinds = map[models.ErrorKind]bool{
	models.ErrKindValidation:             true,
	models.ErrKindNotFound:               true,
	models.ErrKindInvalidTransition:      true,
	models.ErrKindOverSettlement:         true,
	models.ErrKindDuplicatePrimaryObject: true,
	models.ErrKindCrossTenantAccess:      true,
}

func (h *Handler) documentEventsPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := h.Logger

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "handlers", "documentEventsPushHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "handlers", "documentEventsPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var m DocumentEventMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "handlers", "documentEventsPushHandler", "Unmarshal pubsub message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if m.BusinessProfileId == "" || msg.Message.ID == "" {
			config.LogError(logger, "handlers", "documentEventsPushHandler", "Invalid pubsub message (missing required fields)", m,
				errors.New("business_profile_id and message id are required"))
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationId := m.CorrelationId
		if correlationId == "" {
			correlationId = msg.Message.ID
		}
		fields := logrus.Fields{
			"field":               "documentEventsPushHandler",
			"business_profile_id": m.BusinessProfileId,
			"document_type":       m.Event.DocumentType,
			"document_id":         m.Event.DocumentId,
			"message_id":          msg.Message.ID,
			"correlation_id":      correlationId,
		}

		lock := h.obtainDocumentLock(c.Request.Context(), m, fields)
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(context.WithoutCancel(c.Request.Context())); releaseErr != nil && logger != nil {
				logger.WithFields(fields).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx := utils.SetBusinessProfileIdInContext(c.Request.Context(), m.BusinessProfileId)
		userId := m.UserId
		if userId == "" {
			userId = "system"
		}
		ctx = utils.SetUserIdInContext(ctx, userId)
		if m.UserName != "" {
			ctx = utils.SetUserNameInContext(ctx, m.UserName)
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

		res, err := h.Engine.RecordOnce(ctx, PubSubHandlerName, msg.Message.ID, m.Event)
		if err != nil {
			if permanentKinds[models.KindOf(err)] {
				if logger != nil {
					logger.WithFields(fields).Error("document event rejected, dropping: " + err.Error())
				}
				c.Status(http.StatusNoContent)
				return
			}
			if logger != nil {
				logger.WithFields(fields).Error("pubsub processing failed: " + err.Error())
			}
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}
		if res.Skipped && logger != nil {
			logger.WithFields(fields).Info("duplicate delivery skipped")
		}
		c.Status(http.StatusNoContent)
	}
}

// obtainDocumentLock is best-effort: without Redis, or when the lock is taken, the
// delivery proceeds and relies on row locks.
func (h *Handler) obtainDocumentLock(ctx context.Context, m DocumentEventMessage, fields logrus.Fields) *redislock.Lock {
	if h.Locker == nil {
		return nil
	}
	locker := h.Locker()
	if locker == nil {
		return nil
	}
	key := fmt.Sprintf("lock:document:%s:%s:%s", m.BusinessProfileId, m.Event.DocumentType, m.Event.DocumentId)
	lock, err := locker.Obtain(ctx, key, documentLockTTL, nil)
	if err == nil {
		return lock
	}
	if h.Logger != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			h.Logger.WithFields(fields).Warn("could not obtain redis lock; proceeding without redis lock")
		} else {
			h.Logger.WithFields(fields).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		}
	}
	return nil
}
