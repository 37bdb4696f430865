package eventbus

import "time"

// Event types published by the bot.
const (
	TypeUserBanned    = "user.banned"
	TypeUserUnbanned  = "user.unbanned"
	TypeBroadcastDone = "broadcast.done"
	TypeBackupWritten = "backup.written"
)

// UserBanned is the Data of TypeUserBanned.
type UserBanned struct {
	UserID int64
	Reason string
	By     int64
	At     time.Time
}

// UserUnbanned is the Data of TypeUserUnbanned.
type UserUnbanned struct {
	UserID int64
	By     int64
}

// BroadcastDone is the Data of TypeBroadcastDone.
type BroadcastDone struct {
	JobID       string
	InitiatedBy int64
	Targets     int
	Delivered   int
	Failed      int
	Cancelled   int
	Skipped     int
	Took        time.Duration
}

// BackupWritten is the Data of TypeBackupWritten.
type BackupWritten struct {
	Path  string
	Size  int64
	Users int
}
