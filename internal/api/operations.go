// ABOUTME: Typed operations for the reminders schema: queries, mutations, refresh.
// ABOUTME: Each operation names its envelope, cache policy, and entity extraction.

package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/remindful/sync-engine/internal/entity"
)

// CachePolicy controls the pipeline's cache-read stage.
type CachePolicy int

const (
	// NetworkOnly always executes the network call. Results are still
	// written to the cache.
	NetworkOnly CachePolicy = iota

	// CacheFirst short-circuits with cached data when present; the
	// network is only consulted on a cache miss.
	CacheFirst
)

// Eviction names a cache entry removed when the operation succeeds.
type Eviction struct {
	Kind entity.Kind
	ID   string
}

// Operation is one logical request through the transport pipeline.
type Operation struct {
	Name      string
	Variables map[string]any
	Mutation  bool
	Policy    CachePolicy

	// Kind and ID describe what a read covers, for cache-first serving:
	// ID empty means the whole collection of Kind.
	Kind entity.Kind
	ID   string

	// Extract decodes the response data into entities for the
	// cache-write stage. Nil for operations with no cacheable result.
	Extract func(data json.RawMessage) ([]entity.Entity, error)

	// Evictions are applied to the cache after a successful response.
	Evictions []Eviction
}

// ---- queries ----

// Reminders fetches reminders, optionally scoped to a list.
func Reminders(listID string, includeCompleted bool) Operation {
	vars := map[string]any{"includeCompleted": includeCompleted}
	if listID != "" {
		vars["listId"] = listID
	}
	return Operation{
		Name:      "reminders",
		Variables: vars,
		Policy:    CacheFirst,
		Kind:      entity.KindReminder,
		Extract:   extractMany[*entity.Reminder]("reminders"),
	}
}

// ReminderByID fetches a single reminder for detail views.
func ReminderByID(id string) Operation {
	return Operation{
		Name:      "reminder",
		Variables: map[string]any{"id": id},
		Policy:    CacheFirst,
		Kind:      entity.KindReminder,
		ID:        id,
		Extract:   extractOne[*entity.Reminder]("reminder"),
	}
}

// Lists fetches all reminder lists with their server-computed counts.
func Lists() Operation {
	return Operation{
		Name:    "reminderLists",
		Policy:  CacheFirst,
		Kind:    entity.KindList,
		Extract: extractMany[*entity.ReminderList]("reminderLists"),
	}
}

// Me fetches the account profile.
func Me() Operation {
	return Operation{
		Name:    "me",
		Policy:  CacheFirst,
		Kind:    entity.KindUser,
		Extract: extractOne[*entity.User]("me"),
	}
}

// Devices fetches the account's registered devices.
func Devices() Operation {
	return Operation{
		Name:    "devices",
		Policy:  CacheFirst,
		Kind:    entity.KindDevice,
		Extract: extractMany[*entity.Device]("devices"),
	}
}

// ---- mutations ----

// ReminderInput carries the writable fields of a reminder.
type ReminderInput struct {
	ListID     string                 `json:"listId,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Priority   entity.Priority        `json:"priority,omitempty"`
	DueAt      *time.Time             `json:"dueAt,omitempty"`
	Recurrence *entity.RecurrenceRule `json:"recurrence,omitempty"`
}

// CreateReminder creates a reminder in the given list.
func CreateReminder(input ReminderInput) Operation {
	return mutation("createReminder", map[string]any{"input": input},
		entity.KindReminder, extractOne[*entity.Reminder]("createReminder"))
}

// UpdateReminder applies a partial update to a reminder.
func UpdateReminder(id string, input ReminderInput) Operation {
	return mutation("updateReminder", map[string]any{"id": id, "input": input},
		entity.KindReminder, extractOne[*entity.Reminder]("updateReminder"))
}

// CompleteReminder marks a reminder done.
func CompleteReminder(id string) Operation {
	return mutation("completeReminder", map[string]any{"id": id},
		entity.KindReminder, extractOne[*entity.Reminder]("completeReminder"))
}

// SnoozeReminder pushes a reminder's effective due time to until.
func SnoozeReminder(id string, until time.Time) Operation {
	return mutation("snoozeReminder", map[string]any{"id": id, "until": until},
		entity.KindReminder, extractOne[*entity.Reminder]("snoozeReminder"))
}

// DeleteReminder removes a reminder; the cache entry is evicted on success.
func DeleteReminder(id string) Operation {
	op := mutation("deleteReminder", map[string]any{"id": id}, entity.KindReminder, nil)
	op.Evictions = []Eviction{{Kind: entity.KindReminder, ID: id}}
	return op
}

// CreateList creates a reminder list.
func CreateList(name, color string) Operation {
	return mutation("createList", map[string]any{"name": name, "color": color},
		entity.KindList, extractOne[*entity.ReminderList]("createList"))
}

// DeleteList removes a list and evicts it from the cache.
func DeleteList(id string) Operation {
	op := mutation("deleteList", map[string]any{"id": id}, entity.KindList, nil)
	op.Evictions = []Eviction{{Kind: entity.KindList, ID: id}}
	return op
}

// mutation builds a write operation with a client-generated idempotency key
// so a call retried after a token refresh is safe server-side.
func mutation(name string, vars map[string]any, kind entity.Kind,
	extract func(json.RawMessage) ([]entity.Entity, error)) Operation {
	vars["idempotencyKey"] = uuid.New().String()
	return Operation{
		Name:      name,
		Variables: vars,
		Mutation:  true,
		Kind:      kind,
		Extract:   extract,
	}
}

// ---- session refresh ----

// SessionData is the payload of a successful refresh exchange.
type SessionData struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// RefreshSession exchanges a refresh token for a new session. The pipeline
// treats this operation specially: its own auth failure is terminal and
// never recurses into another refresh.
func RefreshSession(refreshToken string) Operation {
	return Operation{
		Name:      "refreshSession",
		Variables: map[string]any{"refreshToken": refreshToken},
		Mutation:  true,
	}
}

// DecodeSession extracts SessionData from a refreshSession response.
func DecodeSession(data json.RawMessage) (SessionData, error) {
	var payload struct {
		RefreshSession SessionData `json:"refreshSession"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return SessionData{}, fmt.Errorf("decoding session: %w", err)
	}
	if payload.RefreshSession.AccessToken == "" {
		return SessionData{}, fmt.Errorf("refresh response missing access token")
	}
	return payload.RefreshSession, nil
}

// ---- extraction helpers ----

func extractMany[T entity.Entity](field string) func(json.RawMessage) ([]entity.Entity, error) {
	return func(data json.RawMessage) ([]entity.Entity, error) {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", field, err)
		}
		var items []T
		if raw, ok := payload[field]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", field, err)
			}
		}
		out := make([]entity.Entity, 0, len(items))
		for _, it := range items {
			out = append(out, it)
		}
		return out, nil
	}
}

func extractOne[T entity.Entity](field string) func(json.RawMessage) ([]entity.Entity, error) {
	return func(data json.RawMessage) ([]entity.Entity, error) {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", field, err)
		}
		raw, ok := payload[field]
		if !ok || string(raw) == "null" {
			return nil, nil
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", field, err)
		}
		return []entity.Entity{item}, nil
	}
}
