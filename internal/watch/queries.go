// ABOUTME: Declarative query descriptors watchers are built from.
// ABOUTME: Each query names its fetch operation, covered kinds, and cache projection.

package watch

import (
	"sort"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/cache"
	"github.com/remindful/sync-engine/internal/entity"
)

// Query binds a fetch operation to a cache projection. The projection is
// re-evaluated on every relevant cache change, so it must be a pure read.
type Query interface {
	// Operation is the network fetch for this query.
	Operation() api.Operation

	// Kinds lists the entity kinds whose cache changes affect the query.
	Kinds() []entity.Kind

	// Project computes the query's current result from cached state.
	Project(c *cache.Cache) []entity.Entity
}

// RemindersQuery watches reminders, optionally scoped to a list, sorted by
// effective due time with undated reminders last.
type RemindersQuery struct {
	ListID           string
	IncludeCompleted bool
}

func (q RemindersQuery) Operation() api.Operation {
	return api.Reminders(q.ListID, q.IncludeCompleted)
}

func (q RemindersQuery) Kinds() []entity.Kind {
	return []entity.Kind{entity.KindReminder}
}

func (q RemindersQuery) Project(c *cache.Cache) []entity.Entity {
	items := c.Query(entity.KindReminder, func(e entity.Entity) bool {
		r := e.(*entity.Reminder)
		if q.ListID != "" && r.ListID != q.ListID {
			return false
		}
		if !q.IncludeCompleted && r.Completed() {
			return false
		}
		return true
	})
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].(*entity.Reminder), items[j].(*entity.Reminder)
		at, bt := a.EffectiveDueAt(), b.EffectiveDueAt()
		switch {
		case at == nil && bt == nil:
			return a.Title < b.Title
		case at == nil:
			return false
		case bt == nil:
			return true
		case !at.Equal(*bt):
			return at.Before(*bt)
		default:
			return a.Title < b.Title
		}
	})
	return items
}

// ReminderQuery watches a single reminder for detail views.
type ReminderQuery struct {
	ID string
}

func (q ReminderQuery) Operation() api.Operation { return api.ReminderByID(q.ID) }

func (q ReminderQuery) Kinds() []entity.Kind { return []entity.Kind{entity.KindReminder} }

func (q ReminderQuery) Project(c *cache.Cache) []entity.Entity {
	if e := c.Get(entity.KindReminder, q.ID); e != nil {
		return []entity.Entity{e}
	}
	return nil
}

// ListsQuery watches all reminder lists, sorted by name.
type ListsQuery struct{}

func (ListsQuery) Operation() api.Operation { return api.Lists() }

func (ListsQuery) Kinds() []entity.Kind { return []entity.Kind{entity.KindList} }

func (ListsQuery) Project(c *cache.Cache) []entity.Entity {
	items := c.List(entity.KindList)
	sort.Slice(items, func(i, j int) bool {
		return items[i].(*entity.ReminderList).Name < items[j].(*entity.ReminderList).Name
	})
	return items
}

// UserQuery watches the account profile.
type UserQuery struct{}

func (UserQuery) Operation() api.Operation { return api.Me() }

func (UserQuery) Kinds() []entity.Kind { return []entity.Kind{entity.KindUser} }

func (UserQuery) Project(c *cache.Cache) []entity.Entity {
	return c.List(entity.KindUser)
}
