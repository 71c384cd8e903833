// ABOUTME: Entity model for the synchronized reminders domain.
// ABOUTME: Defines kinds, identity, and versioning shared by cache, transport, and push.

package entity

import (
	"fmt"
	"time"
)

// Kind identifies the type of a synchronized entity.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindList     Kind = "list"
	KindUser     Kind = "user"
	KindDevice   Kind = "device"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindReminder, KindList, KindUser, KindDevice:
		return true
	}
	return false
}

// Entity is any server-owned record the engine synchronizes.
// ID is immutable and unique within its kind. Version increases
// monotonically on the server with every accepted write; reconciliation
// uses it to reject stale payloads.
type Entity interface {
	EntityKind() Kind
	EntityID() string
	EntityVersion() int64
}

// Priority levels mirror the server's enum.
type Priority string

const (
	PriorityNone   Priority = "NONE"
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Reminder is a single to-do item.
type Reminder struct {
	ID           string          `json:"id"`
	Version      int64           `json:"version"`
	ListID       string          `json:"listId"`
	Title        string          `json:"title"`
	Notes        string          `json:"notes,omitempty"`
	Priority     Priority        `json:"priority,omitempty"`
	DueAt        *time.Time      `json:"dueAt,omitempty"`
	SnoozedUntil *time.Time      `json:"snoozedUntil,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Recurrence   *RecurrenceRule `json:"recurrence,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (r *Reminder) EntityKind() Kind     { return KindReminder }
func (r *Reminder) EntityID() string     { return r.ID }
func (r *Reminder) EntityVersion() int64 { return r.Version }

// Completed reports whether the reminder has been marked done.
func (r *Reminder) Completed() bool { return r.CompletedAt != nil }

// EffectiveDueAt returns the snoozed time when set, otherwise the due time.
// Nil when the reminder has no schedule at all.
func (r *Reminder) EffectiveDueAt() *time.Time {
	if r.SnoozedUntil != nil {
		return r.SnoozedUntil
	}
	return r.DueAt
}

// ReminderList groups reminders. ReminderCount is computed server-side and
// is only as fresh as the last fetch; the engine refetches lists after
// reminder changes rather than recomputing it locally.
type ReminderList struct {
	ID            string    `json:"id"`
	Version       int64     `json:"version"`
	Name          string    `json:"name"`
	Color         string    `json:"color,omitempty"`
	ReminderCount int       `json:"reminderCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (l *ReminderList) EntityKind() Kind     { return KindList }
func (l *ReminderList) EntityID() string     { return l.ID }
func (l *ReminderList) EntityVersion() int64 { return l.Version }

// User is the account profile.
type User struct {
	ID          string `json:"id"`
	Version     int64  `json:"version"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Premium     bool   `json:"premium"`
}

func (u *User) EntityKind() Kind     { return KindUser }
func (u *User) EntityID() string     { return u.ID }
func (u *User) EntityVersion() int64 { return u.Version }

// Device is another client registered to the account.
type Device struct {
	ID         string     `json:"id"`
	Version    int64      `json:"version"`
	Name       string     `json:"name"`
	Platform   string     `json:"platform,omitempty"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

func (d *Device) EntityKind() Kind     { return KindDevice }
func (d *Device) EntityID() string     { return d.ID }
func (d *Device) EntityVersion() int64 { return d.Version }

// NewOfKind returns a zero value of the concrete type for a kind, for
// decoding payloads whose kind is only known at runtime.
func NewOfKind(k Kind) (Entity, error) {
	switch k {
	case KindReminder:
		return &Reminder{}, nil
	case KindList:
		return &ReminderList{}, nil
	case KindUser:
		return &User{}, nil
	case KindDevice:
		return &Device{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", k)
}
