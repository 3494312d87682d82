package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

// ServicePrefix is the method namespace this process answers for.
const ServicePrefix = "/accessreview.cooldown/"

// Handler answers a single forwarded method. Input is the raw request
// payload; output is marshalled into the response payload.
type Handler func(ctx context.Context, payload []byte) (any, error)

// Dispatcher routes forwarded requests to registered handlers. The
// handler table is fixed at construction, so a missing route is a
// startup failure rather than a runtime surprise.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a method name under ServicePrefix. Duplicate
// registration is a programming error.
func (d *Dispatcher) Register(method string, h Handler) error {
	path := ServicePrefix + method
	if _, dup := d.handlers[path]; dup {
		return fmt.Errorf("handler already registered for %s", path)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", path)
	}
	d.handlers[path] = h
	return nil
}

// Methods lists the registered method paths, sorted.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.handlers))
	for path := range d.handlers {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Dispatch answers one forwarded request. Failures are folded into the
// response frame; the stream itself is never torn down here.
func (d *Dispatcher) Dispatch(ctx context.Context, req *RequestFrame) *ResponseFrame {
	resp := &ResponseFrame{
		RequestID: req.RequestID,
		Headers:   map[string]string{"content-type": "application/json"},
	}

	h, ok := d.handlers[req.MethodPath]
	if !ok {
		d.logger.Warn("no handler for forwarded request",
			slog.String("type", "grpc"),
			slog.String("method", req.MethodPath))
		resp.StatusCode = 404
		resp.ErrorMessage = fmt.Sprintf("unknown method %s", req.MethodPath)
		resp.Payload, _ = json.Marshal(map[string]string{"error": resp.ErrorMessage})
		return resp
	}

	result, err := h(ctx, req.Payload)
	if err != nil {
		d.logger.Error("forwarded request failed",
			slog.String("type", "grpc"),
			slog.String("method", req.MethodPath),
			slog.Any("error", err))
		resp.StatusCode = 500
		resp.ErrorMessage = err.Error()
		resp.Payload, _ = json.Marshal(map[string]string{"error": err.Error()})
		return resp
	}

	payload, err := json.Marshal(result)
	if err != nil {
		resp.StatusCode = 500
		resp.ErrorMessage = fmt.Sprintf("encode response: %v", err)
		return resp
	}
	resp.StatusCode = 200
	resp.Payload = payload
	return resp
}

// timeRemaining is the wire shape of a running window's remainder.
type timeRemaining struct {
	HoursLeft        int `json:"hours_left"`
	MinutesLeft      int `json:"minutes_left"`
	TotalSecondsLeft int `json:"total_seconds_left"`
}

func toWireRemaining(r *storage.TimeRemaining) timeRemaining {
	if r == nil {
		return timeRemaining{}
	}
	return timeRemaining{
		HoursLeft:        r.HoursLeft,
		MinutesLeft:      r.MinutesLeft,
		TotalSecondsLeft: r.TotalSecondsLeft,
	}
}

type userIDRequest struct {
	UserID string `json:"user_id"`
}

type autoApplyCooldownResponse struct {
	IsOnCooldown      bool          `json:"is_on_cooldown"`
	CooldownStartTime int64         `json:"cooldown_start_time"`
	CooldownEndTime   int64         `json:"cooldown_end_time"`
	TimeRemaining     timeRemaining `json:"time_remaining"`
}

type blacklistStatusResponse struct {
	IsBlacklisted      bool          `json:"is_blacklisted"`
	Reason             string        `json:"reason"`
	BlacklistStartTime int64         `json:"blacklist_start_time"`
	BlacklistEndTime   int64         `json:"blacklist_end_time"`
	TimeRemaining      timeRemaining `json:"time_remaining"`
}

type addToBlacklistRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type addToBlacklistResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type blacklistedUser struct {
	UserID             string        `json:"user_id"`
	Reason             string        `json:"reason"`
	BlacklistStartTime int64         `json:"blacklist_start_time"`
	BlacklistEndTime   int64         `json:"blacklist_end_time"`
	TimeRemaining      timeRemaining `json:"time_remaining"`
}

type allBlacklistedResponse struct {
	BlacklistedUsers []blacklistedUser `json:"blacklisted_users"`
	TotalCount       int               `json:"total_count"`
}

type batchStatusRequest struct {
	UserIDs []string `json:"user_ids"`
}

type windowStatus struct {
	IsActive      bool          `json:"is_active"`
	StartTime     int64         `json:"start_time"`
	EndTime       int64         `json:"end_time"`
	TimeRemaining timeRemaining `json:"time_remaining"`
}

type blacklistWindowStatus struct {
	IsActive      bool          `json:"is_active"`
	Reason        string        `json:"reason"`
	StartTime     int64         `json:"start_time"`
	EndTime       int64         `json:"end_time"`
	TimeRemaining timeRemaining `json:"time_remaining"`
}

type userStatus struct {
	UserID            string                `json:"user_id"`
	AutoApplyCooldown windowStatus          `json:"auto_apply_cooldown"`
	BlacklistInfo     blacklistWindowStatus `json:"blacklist_info"`
}

type batchStatusResponse struct {
	UserStatuses []userStatus `json:"user_statuses"`
}

// CooldownService exposes the cooldown store to forwarded RPCs.
type CooldownService struct {
	store *storage.CooldownStore
}

func NewCooldownService(store *storage.CooldownStore) *CooldownService {
	return &CooldownService{store: store}
}

// RegisterAll binds every cooldown method on the dispatcher.
func (s *CooldownService) RegisterAll(d *Dispatcher) error {
	routes := map[string]Handler{
		"GetAutoApplyCooldown":   s.getAutoApplyCooldown,
		"GetBlacklistStatus":     s.getBlacklistStatus,
		"AddToBlacklist":         s.addToBlacklist,
		"GetAllBlacklistedUsers": s.getAllBlacklistedUsers,
		"BatchGetCooldownStatus": s.batchGetCooldownStatus,
	}
	for method, h := range routes {
		if err := d.Register(method, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *CooldownService) getAutoApplyCooldown(_ context.Context, payload []byte) (any, error) {
	var req userIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	cooldowns, err := s.store.AutoApplyCooldowns()
	if err != nil {
		return nil, err
	}
	start, ok := cooldowns[req.UserID]
	if !ok {
		return autoApplyCooldownResponse{}, nil
	}
	remaining := s.store.GetTimeRemaining(start, storage.AutoApplyWindow)
	if remaining == nil {
		return autoApplyCooldownResponse{}, nil
	}
	return autoApplyCooldownResponse{
		IsOnCooldown:      true,
		CooldownStartTime: start,
		CooldownEndTime:   start + storage.AutoApplyWindow.Milliseconds(),
		TimeRemaining:     toWireRemaining(remaining),
	}, nil
}

func (s *CooldownService) getBlacklistStatus(_ context.Context, payload []byte) (any, error) {
	var req userIDRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	entry, err := s.store.IsUserBlacklisted(req.UserID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return blacklistStatusResponse{}, nil
	}
	remaining := s.store.GetTimeRemaining(entry.Timestamp, storage.BlacklistWindow)
	return blacklistStatusResponse{
		IsBlacklisted:      true,
		Reason:             entry.Reason,
		BlacklistStartTime: entry.Timestamp,
		BlacklistEndTime:   entry.Timestamp + storage.BlacklistWindow.Milliseconds(),
		TimeRemaining:      toWireRemaining(remaining),
	}, nil
}

func (s *CooldownService) addToBlacklist(_ context.Context, payload []byte) (any, error) {
	var req addToBlacklistRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if err := s.store.AddToBlacklist(req.UserID, req.Reason); err != nil {
		return nil, err
	}
	return addToBlacklistResponse{
		Success: true,
		Message: fmt.Sprintf("user %s blacklisted", req.UserID),
	}, nil
}

func (s *CooldownService) getAllBlacklistedUsers(_ context.Context, _ []byte) (any, error) {
	entries, err := s.store.BlacklistedUsers()
	if err != nil {
		return nil, err
	}

	users := make([]blacklistedUser, 0, len(entries))
	for userID, entry := range entries {
		users = append(users, blacklistedUser{
			UserID:             userID,
			Reason:             entry.Reason,
			BlacklistStartTime: entry.Timestamp,
			BlacklistEndTime:   entry.Timestamp + storage.BlacklistWindow.Milliseconds(),
			TimeRemaining:      toWireRemaining(s.store.GetTimeRemaining(entry.Timestamp, storage.BlacklistWindow)),
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return allBlacklistedResponse{
		BlacklistedUsers: users,
		TotalCount:       len(users),
	}, nil
}

func (s *CooldownService) batchGetCooldownStatus(_ context.Context, payload []byte) (any, error) {
	var req batchStatusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if len(req.UserIDs) == 0 {
		return nil, fmt.Errorf("user_ids is required")
	}

	cooldowns, err := s.store.AutoApplyCooldowns()
	if err != nil {
		return nil, err
	}
	blacklist, err := s.store.BlacklistedUsers()
	if err != nil {
		return nil, err
	}

	statuses := make([]userStatus, 0, len(req.UserIDs))
	for _, userID := range req.UserIDs {
		status := userStatus{UserID: userID}
		if start, ok := cooldowns[userID]; ok {
			if remaining := s.store.GetTimeRemaining(start, storage.AutoApplyWindow); remaining != nil {
				status.AutoApplyCooldown = windowStatus{
					IsActive:      true,
					StartTime:     start,
					EndTime:       start + storage.AutoApplyWindow.Milliseconds(),
					TimeRemaining: toWireRemaining(remaining),
				}
			}
		}
		if entry, ok := blacklist[userID]; ok {
			if remaining := s.store.GetTimeRemaining(entry.Timestamp, storage.BlacklistWindow); remaining != nil {
				status.BlacklistInfo = blacklistWindowStatus{
					IsActive:      true,
					Reason:        entry.Reason,
					StartTime:     entry.Timestamp,
					EndTime:       entry.Timestamp + storage.BlacklistWindow.Milliseconds(),
					TimeRemaining: toWireRemaining(remaining),
				}
			}
		}
		statuses = append(statuses, status)
	}
	return batchStatusResponse{UserStatuses: statuses}, nil
}
