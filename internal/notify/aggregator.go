package notify

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/gearmarket/chat-relay/internal/protocol"
	"github.com/gearmarket/chat-relay/internal/store"
	"github.com/gearmarket/chat-relay/pkg/log"
)

// DefaultPollInterval is the reconciliation cadence. Live notification
// events are a latency optimization; the periodic recompute from the
// store is the source of truth and catches anything missed while the
// relay connection was down.
const DefaultPollInterval = 10 * time.Second

// RoomUnread is one room's unread bookkeeping.
type RoomUnread struct {
	Count           int
	LastMessage     time.Time
	CounterpartID   string
	CounterpartName string
	ListingID       string
}

// Aggregator is the process-wide unread-count state. Checkpoints
// ("last checked" per room) are persisted through the store and survive
// restarts.
type Aggregator struct {
	store    store.Store
	selfID   string
	interval time.Duration
	onChange func()

	mu          sync.Mutex
	rooms       map[string]RoomUnread
	total       int
	lastChecked map[string]time.Time
	loaded      bool
}

// Option tweaks an Aggregator.
type Option func(*Aggregator)

// WithPollInterval overrides the reconciliation cadence.
func WithPollInterval(d time.Duration) Option {
	return func(a *Aggregator) { a.interval = d }
}

// WithOnChange registers a callback invoked whenever counts change.
func WithOnChange(fn func()) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

func NewAggregator(st store.Store, selfID string, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       st,
		selfID:      selfID,
		interval:    DefaultPollInterval,
		rooms:       make(map[string]RoomUnread),
		lastChecked: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run recomputes once immediately, then on every tick until ctx is
// cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.Recompute(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Recompute(ctx)
		}
	}
}

// Recompute rebuilds the unread map from the store: per room, messages
// authored by the counterpart and newer than the room's checkpoint.
// Store errors leave the previous in-memory counts intact.
func (a *Aggregator) Recompute(ctx context.Context) {
	a.ensureCheckpoints(ctx)

	byRoom, err := a.store.ListAllRooms(ctx)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("unread reconciliation failed, keeping previous counts")
		return
	}

	a.mu.Lock()

	rooms := make(map[string]RoomUnread)
	total := 0

	for roomID, msgs := range byRoom {
		checkpoint := a.lastChecked[roomID] // zero time when absent

		var u RoomUnread
		if room, ok := protocol.ParseRoomID(roomID); ok {
			u.CounterpartID = room.Counterpart(a.selfID)
			u.ListingID = room.ListingID
		}

		for _, m := range msgs {
			if m.Sender == a.selfID {
				continue
			}
			u.CounterpartName = m.SenderName
			t := m.Time()
			if t.After(checkpoint) {
				u.Count++
				if t.After(u.LastMessage) {
					u.LastMessage = t
				}
			}
		}

		if u.Count > 0 {
			rooms[roomID] = u
			total += u.Count
		}
	}

	changed := total != a.total || !maps.Equal(rooms, a.rooms)
	a.rooms = rooms
	a.total = total
	a.mu.Unlock()

	if changed {
		a.changed()
	}
}

// OnLiveNotification applies an out-of-room notification immediately,
// without waiting for the next reconciliation pass.
func (a *Aggregator) OnLiveNotification(f protocol.NotificationFrame) {
	if f.RecipientID != a.selfID {
		return
	}

	a.mu.Lock()
	u := a.rooms[f.RoomID]
	u.Count++
	u.CounterpartID = f.SenderID
	u.CounterpartName = f.SenderName
	u.ListingID = f.ListingID
	if t, err := time.Parse(time.RFC3339Nano, f.Timestamp); err == nil && t.After(u.LastMessage) {
		u.LastMessage = t
	}
	a.rooms[f.RoomID] = u
	a.total++
	a.mu.Unlock()

	a.changed()
}

// MarkRoomAsRead checkpoints the room at now, zeroes its count and
// persists the checkpoint. The in-memory state is updated even when
// persistence fails (the error is returned for the caller and the next
// restart will resurface the unread messages).
func (a *Aggregator) MarkRoomAsRead(ctx context.Context, roomID string) error {
	now := time.Now().UTC()

	a.mu.Lock()
	a.lastChecked[roomID] = now
	if u, ok := a.rooms[roomID]; ok {
		a.total -= u.Count
		delete(a.rooms, roomID)
	}
	a.mu.Unlock()

	a.changed()

	err := a.store.SetLastChecked(ctx, map[string]time.Time{roomID: now})
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to persist read checkpoint")
	}
	return err
}

// MarkAllAsRead checkpoints every room with unread messages in a single
// persisted update.
func (a *Aggregator) MarkAllAsRead(ctx context.Context) error {
	now := time.Now().UTC()

	a.mu.Lock()
	checkpoints := make(map[string]time.Time, len(a.rooms))
	for roomID := range a.rooms {
		checkpoints[roomID] = now
		a.lastChecked[roomID] = now
	}
	a.rooms = make(map[string]RoomUnread)
	a.total = 0
	a.mu.Unlock()

	a.changed()

	if len(checkpoints) == 0 {
		return nil
	}
	err := a.store.SetLastChecked(ctx, checkpoints)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to persist read checkpoints")
	}
	return err
}

// Unread returns the global badge count and a per-room snapshot.
func (a *Aggregator) Unread() (int, map[string]RoomUnread) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rooms := make(map[string]RoomUnread, len(a.rooms))
	for k, v := range a.rooms {
		rooms[k] = v
	}
	return a.total, rooms
}

// ensureCheckpoints lazily loads the persisted checkpoint map once.
func (a *Aggregator) ensureCheckpoints(ctx context.Context) {
	a.mu.Lock()
	loaded := a.loaded
	a.mu.Unlock()
	if loaded {
		return
	}

	cps, err := a.store.LastChecked(ctx)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to load read checkpoints")
		return
	}

	a.mu.Lock()
	// Marks applied before the load won (they are newer).
	for roomID, t := range cps {
		if existing, ok := a.lastChecked[roomID]; !ok || t.After(existing) {
			a.lastChecked[roomID] = t
		}
	}
	a.loaded = true
	a.mu.Unlock()
}

func (a *Aggregator) changed() {
	if a.onChange != nil {
		a.onChange()
	}
}
