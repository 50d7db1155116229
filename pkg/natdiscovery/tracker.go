package natdiscovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/events"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/storage"
	"github.com/rs/zerolog"
)

// DefaultStorageKey is where the Tracker persists its history, per
// spec.md §6 ("key default nat_behavior").
const DefaultStorageKey = "nat_behavior"

// DiscoverFunc runs one full mapping+filtering probe cycle and returns the
// resulting Record. Tracker is deliberately ignorant of how discovery is
// actually performed (real UDP probes vs. a test fake); see
// NewRecordDiscoverer for the real implementation wiring MappingTest and
// FilteringTest together.
type DiscoverFunc func(ctx context.Context) (Record, error)

// Config bounds a Tracker's behavior (spec.md §6).
type Config struct {
	CheckInterval  time.Duration
	MaxHistorySize int
	Now            func() time.Time
}

// DefaultConfig mirrors spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Minute, MaxHistorySize: 100, Now: time.Now}
}

// Tracker owns the append-only, bounded NAT behavior history (spec.md §3
// "Lifecycles": oldest evicted first) and the single writer lock guarding
// it (spec.md §5). Discovery is triggered on startup, on every network
// interface change, and on a periodic timer (spec.md §4.2 "Tracker").
//
// The design note on cyclic ownership ("NAT tracker ↔ interface monitor ↔
// callback → tracker") is resolved by never handing a *Tracker to the
// interface monitor: callers pass Tracker.OnInterfaceChange — a plain
// method value — to whatever monitors interface changes, so the monitor
// holds only a function, never the Tracker itself.
type Tracker struct {
	mu      sync.Mutex
	history []Record

	discover DiscoverFunc
	store    storage.Store
	storeKey string
	broker   *events.Broker[Record]
	cfg      Config
}

// NewTracker creates a Tracker that persists through store under
// DefaultStorageKey and broadcasts behavior changes on its broker.
func NewTracker(discover DiscoverFunc, store storage.Store, cfg Config) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 100
	}
	return &Tracker{
		discover: discover,
		store:    store,
		storeKey: DefaultStorageKey,
		broker:   events.NewBroker[Record](),
		cfg:      cfg,
	}
}

// Subscribe returns a channel that observes every behavior change this
// Tracker records from here on.
func (t *Tracker) Subscribe() <-chan Record {
	return t.broker.Subscribe()
}

// Current returns the most recently recorded behavior, if any.
func (t *Tracker) Current() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return Record{}, false
	}
	return t.history[len(t.history)-1], true
}

// History returns a defensive copy of the full bounded history.
func (t *Tracker) History() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}

// OnInterfaceChange runs discovery in response to a network-interface
// change notification. Pass this method value to the interface monitor,
// not the Tracker itself (see the type doc).
func (t *Tracker) OnInterfaceChange(ctx context.Context) {
	if err := t.runOnce(ctx); err != nil {
		t.logger().Warn().Err(err).Msg("nat behavior discovery failed after interface change")
	}
}

// Start runs discovery immediately, then again on every CheckInterval
// tick, until ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	if err := t.runOnce(ctx); err != nil {
		t.logger().Warn().Err(err).Msg("initial nat behavior discovery failed")
	}

	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.runOnce(ctx); err != nil {
				t.logger().Warn().Err(err).Msg("periodic nat behavior discovery failed")
			}
		}
	}
}

// runOnce performs one discovery cycle, recording the result only if it
// differs from the current behavior (spec.md §4.2 "A change is detected
// by record-field equality").
func (t *Tracker) runOnce(ctx context.Context) error {
	record, err := t.discover(ctx)
	if err != nil {
		return err
	}
	record.ObservedAt = t.cfg.Now()

	t.mu.Lock()
	changed := len(t.history) == 0 || !t.history[len(t.history)-1].Equal(record)
	if changed {
		t.history = append(t.history, record)
		if len(t.history) > t.cfg.MaxHistorySize {
			t.history = t.history[len(t.history)-t.cfg.MaxHistorySize:]
		}
	}
	snapshot := append([]Record(nil), t.history...)
	t.mu.Unlock()

	if !changed {
		return nil
	}

	if t.store != nil {
		if err := t.persist(snapshot); err != nil {
			t.logger().Warn().Err(err).Msg("failed to persist nat behavior history")
		}
	}
	t.broker.Publish(record)
	return nil
}

// persistedRecord is the JSON-serializable form of Record, stored through
// the Storage abstraction (spec.md §6).
type persistedRecord struct {
	Mapping    Behavior  `json:"mapping"`
	Filtering  Behavior  `json:"filtering"`
	ObservedAt time.Time `json:"observed_at"`
}

func (t *Tracker) persist(history []Record) error {
	out := make([]persistedRecord, len(history))
	for i, r := range history {
		out[i] = persistedRecord{Mapping: r.Mapping, Filtering: r.Filtering, ObservedAt: r.ObservedAt}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return t.store.Save(t.storeKey, string(data))
}

// LoadHistory restores a previously persisted history from store, for use
// before the first Start call.
func LoadHistory(store storage.Store) ([]Record, error) {
	data, err := store.Load(DefaultStorageKey)
	if err != nil {
		return nil, err
	}
	var persisted []persistedRecord
	if err := json.Unmarshal([]byte(data), &persisted); err != nil {
		return nil, err
	}
	out := make([]Record, len(persisted))
	for i, p := range persisted {
		out[i] = Record{Mapping: p.Mapping, Filtering: p.Filtering, ObservedAt: p.ObservedAt}
	}
	return out, nil
}

func (t *Tracker) logger() zerolog.Logger {
	return log.WithComponent("natdiscovery")
}
