package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stickerbot/internal/eventbus"
	"stickerbot/internal/storage"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyBanned = errors.New("user already banned")
	ErrNotBanned     = errors.New("user not banned")
)

// DefaultBanReason replaces an empty ban reason.
const DefaultBanReason = "No reason provided"

// UserStore is the part of users.Store the engine needs.
type UserStore interface {
	UpsertOnContact(ctx context.Context, c users.Contact) (users.Record, error)
	Get(ctx context.Context, userID int64) (users.Record, error)
	SetBanned(ctx context.Context, userID int64, reason string, by int64, at time.Time) (users.Record, error)
	ClearBan(ctx context.Context, userID int64) (users.Record, error)
}

// Auditor persists admin actions.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Decision is the outcome of Gate.
type Decision struct {
	User    users.Record
	Allowed bool
}

// Engine applies the ACTIVE <-> BANNED state machine and gates inbound traffic.
type Engine struct {
	users  UserStore
	admins AdminSet
	bus    eventbus.Bus
	audit  Auditor
	log    logx.Logger
	now    func() time.Time
}

// New wires the engine. bus and audit may be nil.
func New(us UserStore, admins AdminSet, bus eventbus.Bus, audit Auditor, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		users:  us,
		admins: admins,
		bus:    bus,
		audit:  audit,
		log:    log.With(logx.String("comp", "moderation")),
		now:    time.Now,
	}
}

func (e *Engine) Admins() AdminSet { return e.admins }

func (e *Engine) IsAdmin(id int64) bool { return e.admins.IsAdmin(id) }

// Ban moves userID to BANNED. The owner cannot be banned.
func (e *Engine) Ban(ctx context.Context, userID int64, reason string, actedBy int64) (users.Record, error) {
	if !e.admins.IsAdmin(actedBy) || e.admins.IsOwner(userID) {
		e.log.Warn("ban rejected", logx.Int64("actor", actedBy), logx.Int64("user_id", userID))
		return users.Record{}, ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultBanReason
	}

	at := e.now()
	rec, err := e.users.SetBanned(ctx, userID, reason, actedBy, at)
	if errors.Is(err, users.ErrStateConflict) {
		return users.Record{}, ErrAlreadyBanned
	}
	if err != nil {
		return users.Record{}, err
	}

	e.log.Info("user banned", logx.Int64("user_id", userID), logx.Int64("actor", actedBy), logx.String("reason", reason))
	e.record(ctx, storage.AuditEntry{At: at, ActorID: actedBy, Action: "ban", TargetID: userID, Detail: reason})
	e.publish(eventbus.TypeUserBanned, eventbus.UserBanned{UserID: userID, Reason: reason, By: actedBy, At: at})
	return rec, nil
}

// Unban moves userID back to ACTIVE.
func (e *Engine) Unban(ctx context.Context, userID int64, actedBy int64) (users.Record, error) {
	if !e.admins.IsAdmin(actedBy) {
		e.log.Warn("unban rejected", logx.Int64("actor", actedBy), logx.Int64("user_id", userID))
		return users.Record{}, ErrForbidden
	}
	rec, err := e.users.ClearBan(ctx, userID)
	if errors.Is(err, users.ErrStateConflict) {
		return users.Record{}, ErrNotBanned
	}
	if err != nil {
		return users.Record{}, err
	}

	e.log.Info("user unbanned", logx.Int64("user_id", userID), logx.Int64("actor", actedBy))
	e.record(ctx, storage.AuditEntry{ActorID: actedBy, Action: "unban", TargetID: userID})
	e.publish(eventbus.TypeUserUnbanned, eventbus.UserUnbanned{UserID: userID, By: actedBy})
	return rec, nil
}

// IsEligible reports whether userID is ACTIVE. Unknown users yield users.ErrNotFound.
func (e *Engine) IsEligible(ctx context.Context, userID int64) (bool, error) {
	rec, err := e.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.Eligible(), nil
}

// Gate records the contact and decides whether it may be served.
// Banned users are recorded (last_seen_at only) and rejected.
func (e *Engine) Gate(ctx context.Context, c users.Contact) (Decision, error) {
	rec, err := e.users.UpsertOnContact(ctx, c)
	if err != nil {
		return Decision{}, fmt.Errorf("gate %d: %w", c.UserID, err)
	}
	if !rec.Eligible() {
		e.log.Debug("contact rejected", logx.Int64("user_id", c.UserID))
	}
	return Decision{User: rec, Allowed: rec.Eligible()}, nil
}

func (e *Engine) record(ctx context.Context, entry storage.AuditEntry) {
	if e.audit == nil {
		return
	}
	if err := e.audit.AppendAudit(ctx, entry); err != nil {
		e.log.Warn("audit append failed", logx.String("action", entry.Action), logx.Err(err))
	}
}

func (e *Engine) publish(typ string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
