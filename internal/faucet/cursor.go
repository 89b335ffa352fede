package faucet

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCursorCurrent = "faucet.cursor.current"
	opCursorAdvance = "faucet.cursor.advance"

	watermarkName = "current"
)

// StreamCursor persists the resume point in the inbound message stream.
type StreamCursor struct {
	db      *gorm.DB
	initial int64
}

// NewStreamCursor constructs the cursor. initialMessageID is the resume point
// used before the first watermark has been written.
func NewStreamCursor(db *gorm.DB, initialMessageID int64) (*StreamCursor, error) {
	if db == nil {
		return nil, newServiceError(opCursorCurrent, "missing_database", errMissingDatabase)
	}
	return &StreamCursor{db: db, initial: initialMessageID}, nil
}

// Current returns the highest processed message id, falling back to the
// configured initial id when no watermark exists yet.
func (c *StreamCursor) Current(ctx context.Context) (int64, error) {
	var watermark StreamWatermark
	err := c.db.WithContext(ctx).Take(&watermark, "name = ?", watermarkName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.initial, nil
	}
	if err != nil {
		return 0, newServiceError(opCursorCurrent, "watermark_select_failed", err)
	}
	return watermark.MessageID, nil
}

// Advance moves the watermark forward. Ids at or below the current watermark
// are ignored so the cursor stays monotonically non-decreasing.
func (c *StreamCursor) Advance(ctx context.Context, messageID int64) error {
	current, err := c.Current(ctx)
	if err != nil {
		return err
	}
	if messageID <= current {
		return nil
	}

	watermark := StreamWatermark{Name: watermarkName, MessageID: messageID}
	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"message_id": messageID}),
		}).
		Create(&watermark).Error
	if err != nil {
		return newServiceError(opCursorAdvance, "watermark_upsert_failed", err)
	}
	return nil
}
