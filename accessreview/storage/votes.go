package storage

import (
	"errors"
)

// VoteStatus follows pending -> pending_admin -> approved/rejected,
// with direct pending -> approved/rejected shortcuts.
type VoteStatus string

const (
	VotePending      VoteStatus = "pending"
	VotePendingAdmin VoteStatus = "pending_admin"
	VoteApproved     VoteStatus = "approved"
	VoteRejected     VoteStatus = "rejected"
)

// VoteRules is the quorum configuration snapshot embedded in each vote
// so later config edits cannot change a running vote's thresholds.
// A zero ratio disables that threshold.
type VoteRules struct {
	AdminRoleID string `json:"admin_role_id"`
	UserRoleID  string `json:"user_role_id"`
	AllowAdmin  int    `json:"ratio_allow_admin"`
	AllowUser   int    `json:"ratio_allow_user"`
	RejectAdmin int    `json:"ratio_reject_admin"`
	RejectUser  int    `json:"ratio_reject_user"`
}

// Ballots holds the two voter lists. An id appears in at most one list.
type Ballots struct {
	Approve []string `json:"approve"`
	Reject  []string `json:"reject"`
}

// VoteRecord is one committee vote over a role application.
type VoteRecord struct {
	GuildID      string     `json:"guildId"`
	ChannelID    string     `json:"channelId"`
	MessageID    string     `json:"messageId"`
	RequesterID  string     `json:"requesterId"`
	TargetRoleID string     `json:"targetRoleId"`
	Rules        VoteRules  `json:"config"`
	Status       VoteStatus `json:"status"`
	Votes        Ballots    `json:"votes"`
	PendingUntil int64      `json:"pendingUntil,omitempty"`
	CreatedAt    int64      `json:"createdAt"`
}

// ErrVoteNotFound is returned for unknown or deleted vote ids.
var ErrVoteNotFound = errors.New("vote not found")

// VoteStore persists all votes in a single document. Mutate serializes
// the whole ballot-mutation-plus-recount critical section through the
// per-path queue, which is what keeps concurrent ballots for the same
// vote from interleaving.
type VoteStore struct {
	path  string
	queue *OpQueue
}

func NewVoteStore(path string, queue *OpQueue) *VoteStore {
	return &VoteStore{path: path, queue: queue}
}

func (s *VoteStore) load() (map[string]VoteRecord, error) {
	votes := make(map[string]VoteRecord)
	if _, err := readDocument(s.path, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

// Add inserts a fresh vote record.
func (s *VoteStore) Add(voteID string, rec VoteRecord) error {
	return s.queue.Run(s.path, func() error {
		votes, err := s.load()
		if err != nil {
			return err
		}
		votes[voteID] = rec
		return writeDocument(s.path, votes)
	})
}

// Get returns a copy of the record, or ErrVoteNotFound.
func (s *VoteStore) Get(voteID string) (*VoteRecord, error) {
	var out *VoteRecord
	err := s.queue.Run(s.path, func() error {
		votes, err := s.load()
		if err != nil {
			return err
		}
		rec, ok := votes[voteID]
		if !ok {
			return ErrVoteNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

// Mutate runs fn against the record under the document queue and
// persists the result. fn runs exactly once; any error from fn aborts
// the write and is returned unchanged.
func (s *VoteStore) Mutate(voteID string, fn func(*VoteRecord) error) (*VoteRecord, error) {
	var out *VoteRecord
	err := s.queue.Run(s.path, func() error {
		votes, err := s.load()
		if err != nil {
			return err
		}
		rec, ok := votes[voteID]
		if !ok {
			return ErrVoteNotFound
		}
		if err := fn(&rec); err != nil {
			return err
		}
		votes[voteID] = rec
		if err := writeDocument(s.path, votes); err != nil {
			return err
		}
		out = &rec
		return nil
	})
	return out, err
}

// Snapshot returns a copy of every vote, for the periodic sweep.
func (s *VoteStore) Snapshot() (map[string]VoteRecord, error) {
	var out map[string]VoteRecord
	err := s.queue.Run(s.path, func() error {
		votes, err := s.load()
		if err != nil {
			return err
		}
		out = make(map[string]VoteRecord, len(votes))
		for k, v := range votes {
			out[k] = v
		}
		return nil
	})
	return out, err
}
