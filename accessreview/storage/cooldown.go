package storage

import (
	"log/slog"
	"time"
)

const (
	// AutoApplyWindow is how long one auto-apply attempt blocks the next.
	AutoApplyWindow = 24 * time.Hour
	// BlacklistWindow is how long a blacklist entry stays effective.
	BlacklistWindow = 48 * time.Hour
)

// BlacklistEntry records why and when a user was blocked from the
// application panel. Timestamps are epoch milliseconds, matching the
// wire format served over the cooldown gRPC service.
type BlacklistEntry struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type cooldownDocument struct {
	AutoApply map[string]int64          `json:"auto_apply"`
	Blacklist map[string]BlacklistEntry `json:"new_apply_panel"`
}

// TimeRemaining is the pre-split remainder of a cooldown window.
type TimeRemaining struct {
	HoursLeft        int
	MinutesLeft      int
	TotalSecondsLeft int
}

// Remaining returns nil when the window starting at startMillis has
// expired at now, otherwise the split remainder.
func Remaining(startMillis int64, window time.Duration, now time.Time) *TimeRemaining {
	expiry := startMillis + window.Milliseconds()
	nowMillis := now.UnixMilli()
	if nowMillis >= expiry {
		return nil
	}
	left := (expiry - nowMillis) / 1000
	return &TimeRemaining{
		HoursLeft:        int(left / 3600),
		MinutesLeft:      int((left % 3600) / 60),
		TotalSecondsLeft: int(left),
	}
}

// CooldownStore owns the auto-apply cooldown map and the panel
// blacklist, both persisted in a single JSON document. Expired entries
// are purged lazily on read; there is no background sweep.
type CooldownStore struct {
	path  string
	queue *OpQueue
	now   func() time.Time
}

func NewCooldownStore(path string, queue *OpQueue) *CooldownStore {
	return &CooldownStore{
		path:  path,
		queue: queue,
		now:   time.Now,
	}
}

func (s *CooldownStore) load() (*cooldownDocument, error) {
	var doc cooldownDocument
	found, err := readDocument(s.path, &doc)
	if err != nil {
		return nil, err
	}
	if found && doc.AutoApply == nil && doc.Blacklist == nil {
		// Legacy layout: a flat userId -> timestamp map predating the
		// blacklist. Migrate it into the auto_apply section.
		var legacy map[string]int64
		if _, err := readDocument(s.path, &legacy); err == nil && legacy != nil {
			if ok := legacyTimestamps(legacy); ok {
				doc.AutoApply = legacy
				slog.Info("Migrated legacy cooldown document",
					slog.String("type", "store"),
					slog.Int("entries", len(legacy)))
			}
		}
	}
	if doc.AutoApply == nil {
		doc.AutoApply = make(map[string]int64)
	}
	if doc.Blacklist == nil {
		doc.Blacklist = make(map[string]BlacklistEntry)
	}
	return &doc, nil
}

func legacyTimestamps(m map[string]int64) bool {
	for _, v := range m {
		if v <= 0 {
			return false
		}
	}
	return len(m) > 0
}

func (s *CooldownStore) purgeAutoApply(doc *cooldownDocument) bool {
	now := s.now()
	changed := false
	for userID, started := range doc.AutoApply {
		if Remaining(started, AutoApplyWindow, now) == nil {
			delete(doc.AutoApply, userID)
			changed = true
		}
	}
	return changed
}

func (s *CooldownStore) purgeBlacklist(doc *cooldownDocument) bool {
	now := s.now()
	changed := false
	for userID, entry := range doc.Blacklist {
		if Remaining(entry.Timestamp, BlacklistWindow, now) == nil {
			delete(doc.Blacklist, userID)
			changed = true
			slog.Info("Blacklist entry expired",
				slog.String("type", "store"),
				slog.String("user_id", userID))
		}
	}
	return changed
}

// AutoApplyCooldowns returns the live cooldown map, purging anything
// older than 24h first. The purge is persisted if it removed entries.
func (s *CooldownStore) AutoApplyCooldowns() (map[string]int64, error) {
	var out map[string]int64
	err := s.queue.Run(s.path, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if s.purgeAutoApply(doc) {
			if err := writeDocument(s.path, doc); err != nil {
				return err
			}
		}
		out = make(map[string]int64, len(doc.AutoApply))
		for k, v := range doc.AutoApply {
			out[k] = v
		}
		return nil
	})
	return out, err
}

// SetAutoApplyCooldown unconditionally stamps the user's cooldown to
// now. Re-applying resets the clock even on failed attempts: the stamp
// is written before eligibility is checked, so every attempt consumes
// the daily slot.
func (s *CooldownStore) SetAutoApplyCooldown(userID string) error {
	return s.queue.Run(s.path, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		doc.AutoApply[userID] = s.now().UnixMilli()
		return writeDocument(s.path, doc)
	})
}

// IsUserBlacklisted returns the active blacklist entry for userID, or
// nil. Expired entries across the whole map are purged first.
func (s *CooldownStore) IsUserBlacklisted(userID string) (*BlacklistEntry, error) {
	var out *BlacklistEntry
	err := s.queue.Run(s.path, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if s.purgeBlacklist(doc) {
			if err := writeDocument(s.path, doc); err != nil {
				return err
			}
		}
		if entry, ok := doc.Blacklist[userID]; ok {
			out = &entry
		}
		return nil
	})
	return out, err
}

func (s *CooldownStore) AddToBlacklist(userID, reason string) error {
	return s.queue.Run(s.path, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		doc.Blacklist[userID] = BlacklistEntry{
			Reason:    reason,
			Timestamp: s.now().UnixMilli(),
		}
		if err := writeDocument(s.path, doc); err != nil {
			return err
		}
		slog.Info("User added to blacklist",
			slog.String("type", "store"),
			slog.String("user_id", userID),
			slog.String("reason", reason))
		return nil
	})
}

// RemoveFromBlacklist reports whether an entry was actually removed.
func (s *CooldownStore) RemoveFromBlacklist(userID string) (bool, error) {
	var removed bool
	err := s.queue.Run(s.path, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := doc.Blacklist[userID]; !ok {
			return nil
		}
		delete(doc.Blacklist, userID)
		removed = true
		return writeDocument(s.path, doc)
	})
	return removed, err
}

// BlacklistedUsers returns all active entries, purging expired ones.
func (s *CooldownStore) BlacklistedUsers() (map[string]BlacklistEntry, error) {
	var out map[string]BlacklistEntry
	err := s.queue.Run(s.path, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if s.purgeBlacklist(doc) {
			if err := writeDocument(s.path, doc); err != nil {
				return err
			}
		}
		out = make(map[string]BlacklistEntry, len(doc.Blacklist))
		for k, v := range doc.Blacklist {
			out[k] = v
		}
		return nil
	})
	return out, err
}

// GetTimeRemaining is the user-facing remainder of a window started at
// startMillis; nil means expired.
func (s *CooldownStore) GetTimeRemaining(startMillis int64, window time.Duration) *TimeRemaining {
	return Remaining(startMillis, window, s.now())
}

// SetClock overrides the store's time source. Tests only.
func (s *CooldownStore) SetClock(now func() time.Time) {
	s.now = now
}
