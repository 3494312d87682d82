package storage

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ApplicationStatus is explicit on every record. Legacy records with no
// status are normalized to pending on load.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "pending"
	StatusApproved ApplicationStatus = "approved"
	StatusRejected ApplicationStatus = "rejected"
)

// ExitReason tags a rejection caused by the applicant closing their own
// application; there is no distinct status value for it.
const ExitReason = "applicant_exit"

// Application is one in-flight or archived role application. Owned by
// the ApplicationStore; callers never mutate records in place.
type Application struct {
	GuildID          string            `json:"guildId"`
	UserID           string            `json:"userId"`
	CategoryID       string            `json:"categoryId"`
	ApplyTime        string            `json:"applyTime"`
	SelfIntroduction string            `json:"selfIntroduction,omitempty"`
	Status           ApplicationStatus `json:"status"`
	ChannelID        string            `json:"channelId,omitempty"`
	ReviewerID       string            `json:"reviewerId,omitempty"`
	ProcessedBy      string            `json:"processedBy,omitempty"`
	ProcessedAt      string            `json:"processedAt,omitempty"`
	MessageID        string            `json:"messageId,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	ExtraRoles       []string          `json:"extraRoles,omitempty"`
}

type historyDocument struct {
	GuildID string        `json:"guildId,omitempty"`
	Data    []Application `json:"data"`
}

var (
	// ErrNotFound means no active application exists under the key.
	ErrNotFound = errors.New("application not found")
	// ErrWrongStatus means the persisted status no longer matches what
	// the transition expected, i.e. a stale button click.
	ErrWrongStatus = errors.New("application already processed")
)

// ApplicationStore persists active applications as one keyed document
// and finalized ones as per-guild append-only history documents. Every
// mutation runs through the per-path operation queue.
type ApplicationStore struct {
	activePath string
	dataDir    string
	queue      *OpQueue
}

func NewApplicationStore(dataDir string, queue *OpQueue) *ApplicationStore {
	return &ApplicationStore{
		activePath: filepath.Join(dataDir, "active_applies.json"),
		dataDir:    dataDir,
		queue:      queue,
	}
}

// ApplicationKey is the composite primary key for active applications.
func ApplicationKey(guildID, userID, categoryID string) string {
	return fmt.Sprintf("%s-%s-%s", guildID, userID, categoryID)
}

func (s *ApplicationStore) historyPath(guildID string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("apply_%s.json", guildID))
}

func (s *ApplicationStore) loadActive() (map[string]Application, error) {
	applies := make(map[string]Application)
	if _, err := readDocument(s.activePath, &applies); err != nil {
		return nil, err
	}
	for key, app := range applies {
		if app.Status == "" {
			app.Status = StatusPending
			applies[key] = app
		}
	}
	return applies, nil
}

// AddActive inserts or replaces the active record for its key.
func (s *ApplicationStore) AddActive(app Application) error {
	return s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		applies[ApplicationKey(app.GuildID, app.UserID, app.CategoryID)] = app
		return writeDocument(s.activePath, applies)
	})
}

// FindActive returns a copy of the active record, or ErrNotFound.
func (s *ApplicationStore) FindActive(guildID, userID, categoryID string) (*Application, error) {
	var out *Application
	err := s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		app, ok := applies[ApplicationKey(guildID, userID, categoryID)]
		if !ok {
			return ErrNotFound
		}
		out = &app
		return nil
	})
	return out, err
}

// Transition applies fn to the active record as a single serialized
// read-modify-write, but only if the persisted status still equals
// expect. This is the optimistic-concurrency guard every handler relies
// on to reject stale button clicks.
func (s *ApplicationStore) Transition(guildID, userID, categoryID string, expect ApplicationStatus, fn func(*Application)) (*Application, error) {
	var out *Application
	err := s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		key := ApplicationKey(guildID, userID, categoryID)
		app, ok := applies[key]
		if !ok {
			return ErrNotFound
		}
		if app.Status != expect {
			return ErrWrongStatus
		}
		fn(&app)
		applies[key] = app
		if err := writeDocument(s.activePath, applies); err != nil {
			return err
		}
		out = &app
		return nil
	})
	return out, err
}

// TakeActive removes and returns the active record if its status still
// equals expect. Used by terminal transitions that archive the record.
func (s *ApplicationStore) TakeActive(guildID, userID, categoryID string, expect ApplicationStatus) (*Application, error) {
	var out *Application
	err := s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		key := ApplicationKey(guildID, userID, categoryID)
		app, ok := applies[key]
		if !ok {
			return ErrNotFound
		}
		if app.Status != expect {
			return ErrWrongStatus
		}
		delete(applies, key)
		if err := writeDocument(s.activePath, applies); err != nil {
			return err
		}
		out = &app
		return nil
	})
	return out, err
}

// RemoveActive deletes the record unconditionally; no error if absent.
func (s *ApplicationStore) RemoveActive(guildID, userID, categoryID string) error {
	return s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		key := ApplicationKey(guildID, userID, categoryID)
		if _, ok := applies[key]; !ok {
			return nil
		}
		delete(applies, key)
		return writeDocument(s.activePath, applies)
	})
}

// FindActiveByChannel scans for the record bound to a review channel.
// Channel id is not part of the primary key, so this is a linear scan.
func (s *ApplicationStore) FindActiveByChannel(channelID string) (*Application, error) {
	var out *Application
	err := s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		for _, app := range applies {
			if app.ChannelID == channelID {
				found := app
				out = &found
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

// RemoveActiveByChannel deletes whichever record is bound to channelID.
func (s *ApplicationStore) RemoveActiveByChannel(channelID string) error {
	return s.queue.Run(s.activePath, func() error {
		applies, err := s.loadActive()
		if err != nil {
			return err
		}
		for key, app := range applies {
			if app.ChannelID == channelID {
				delete(applies, key)
				return writeDocument(s.activePath, applies)
			}
		}
		return nil
	})
}

// AddToHistory appends a finalized record to the guild's history
// document. Idempotent per (userId, categoryId): a duplicate insert is
// silently dropped.
func (s *ApplicationStore) AddToHistory(guildID string, app Application) error {
	path := s.historyPath(guildID)
	return s.queue.Run(path, func() error {
		var doc historyDocument
		if _, err := readDocument(path, &doc); err != nil {
			return err
		}
		for _, existing := range doc.Data {
			if existing.UserID == app.UserID && existing.CategoryID == app.CategoryID {
				return nil
			}
		}
		doc.GuildID = guildID
		doc.Data = append(doc.Data, app)
		return writeDocument(path, doc)
	})
}

// History returns the user's archived applications in this guild.
func (s *ApplicationStore) History(guildID, userID string) ([]Application, error) {
	all, err := s.GuildHistory(guildID)
	if err != nil {
		return nil, err
	}
	var out []Application
	for _, app := range all {
		if app.UserID == userID {
			out = append(out, app)
		}
	}
	return out, nil
}

// GuildHistory returns every archived application for the guild, with
// legacy statusless records normalized to pending.
func (s *ApplicationStore) GuildHistory(guildID string) ([]Application, error) {
	path := s.historyPath(guildID)
	var out []Application
	err := s.queue.Run(path, func() error {
		var doc historyDocument
		if _, err := readDocument(path, &doc); err != nil {
			return err
		}
		out = make([]Application, 0, len(doc.Data))
		for _, app := range doc.Data {
			if app.Status == "" {
				app.Status = StatusPending
			}
			out = append(out, app)
		}
		return nil
	})
	return out, err
}
