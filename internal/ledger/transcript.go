package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
)

// sequenceAttempts bounds how often an append is retried after another
// writer took the same sequence number.
const sequenceAttempts = 3

// AppendTranscript inserts one transcript entry for sessionID and waits for
// it to commit. Conversations go through a Recorder instead so the turn is
// never held up by the insert.
func (l *Ledger) AppendTranscript(ctx context.Context, sessionID, speaker, content string) (models.TranscriptEntry, error) {
	if !models.IsSpeakerType(speaker) {
		return models.TranscriptEntry{}, fmt.Errorf("ledger: invalid speaker type %q", speaker)
	}
	for attempt := 1; ; attempt++ {
		entry, err := db.Query(ctx, l.gw, "ledger.append_transcript", func(tx *gorm.DB) (models.TranscriptEntry, error) {
			var count int64
			if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
				return models.TranscriptEntry{}, err
			}
			if count == 0 {
				return models.TranscriptEntry{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
			}
			return l.appendTx(tx, sessionID, speaker, content)
		})
		if err == nil || !db.IsDuplicateKey(err) || attempt == sequenceAttempts {
			return entry, err
		}
		l.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"attempt":    attempt,
		}).Warn("ledger: transcript sequence taken, retrying")
	}
}

// appendTx inserts an entry inside tx. The sequence is one past the
// session's last entry; the timestamp is the current instant at millisecond
// precision, bumped past the previous entry's when the clock has not moved.
func (l *Ledger) appendTx(tx *gorm.DB, sessionID, speaker, content string) (models.TranscriptEntry, error) {
	var last models.TranscriptEntry
	err := tx.Where("session_id = ?", sessionID).
		Order("sequence DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return models.TranscriptEntry{}, fmt.Errorf("ledger: last transcript entry: %w", err)
	}

	ts := l.now().UTC().Truncate(time.Millisecond)
	if last.ID != 0 && !ts.After(last.Timestamp) {
		ts = last.Timestamp.UTC().Add(time.Millisecond)
	}

	entry := models.TranscriptEntry{
		SessionID:   sessionID,
		Sequence:    last.Sequence + 1,
		SpeakerType: speaker,
		Content:     content,
		Timestamp:   ts,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return models.TranscriptEntry{}, fmt.Errorf("ledger: insert transcript entry: %w", err)
	}
	return entry, nil
}

// Transcript returns the entries of sessionID in insertion order.
func (l *Ledger) Transcript(ctx context.Context, sessionID string) ([]models.TranscriptEntry, error) {
	return db.Query(ctx, l.gw, "ledger.transcript", func(tx *gorm.DB) ([]models.TranscriptEntry, error) {
		var count int64
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		var entries []models.TranscriptEntry
		err := tx.Where("session_id = ?", sessionID).Order("sequence ASC").Find(&entries).Error
		return entries, err
	})
}
