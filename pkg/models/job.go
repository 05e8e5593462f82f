package models

import (
	"time"
)

// Mode selects the kind of artwork being generated
type Mode string

const (
	ModeImage   Mode = "image"
	ModeSticker Mode = "sticker"
)

// ParseMode validates a mode string coming from a client
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeImage, ModeSticker:
		return Mode(s), true
	}
	return "", false
}

// GenerationRecord counts one successful generation against a user's quota
type GenerationRecord struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Mode       Mode      `json:"mode" db:"mode"`
	ExternalID string    `json:"external_id" db:"external_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// JobStatus constants as reported by the generation provider
const (
	JobStatusStarting   = "starting"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
	JobStatusCanceled   = "canceled"
)

// IsTerminalJobStatus reports whether a provider status will not change again
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Transport names the way an image reached the generation provider
type Transport string

const (
	TransportInline   Transport = "inline"
	TransportFileHost Transport = "file_host"
)
