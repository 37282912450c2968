package workflow

import (
	"errors"
	"time"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// staleStartedAfter is how long a STARTED key blocks redelivery before it is taken over.
const staleStartedAfter = 5 * time.Minute

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, profileId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		BusinessProfileId: profileId,
		HandlerName:       handlerName,
		MessageId:         messageId,
		Status:            models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !utils.IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("business_profile_id = ? AND handler_name = ? AND message_id = ?", profileId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker is processing; the caller should let Pub/Sub redeliver.
		if time.Since(existing.UpdatedAt) < staleStartedAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, profileId, handlerName, messageId string, chainId string) error {
	values := map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}
	if chainId != "" {
		values["result_chain_id"] = chainId
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_profile_id = ? AND handler_name = ? AND message_id = ?", profileId, handlerName, messageId).
		Updates(values).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, profileId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_profile_id = ? AND handler_name = ? AND message_id = ?", profileId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

func getIdempotencyKey(tx *gorm.DB, profileId, handlerName, messageId string) (*models.IdempotencyKey, error) {
	var key models.IdempotencyKey
	err := tx.Where("business_profile_id = ? AND handler_name = ? AND message_id = ?", profileId, handlerName, messageId).
		Take(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}
