// Package store provides persistence adapters implementing core.Store:
// an in-memory store for development and tests, SQLite for single-node
// deployments, and Postgres. All of them keep the one-join-request and
// one-notification per (user, room) invariants at the storage layer.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// MemoryStore is a threadsafe in-memory core.Store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*domain.User
	rooms         map[domain.RoomID]*domain.Room
	members       map[domain.RoomID]map[string]struct{}
	joinRequests  map[domain.RoomID]map[string]time.Time
	notifications map[string]map[domain.RoomID]*domain.Notification
	messages      map[domain.RoomID][]*domain.Message
	messageByID   map[domain.MessageID]*domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*domain.User),
		rooms:         make(map[domain.RoomID]*domain.Room),
		members:       make(map[domain.RoomID]map[string]struct{}),
		joinRequests:  make(map[domain.RoomID]map[string]time.Time),
		notifications: make(map[string]map[domain.RoomID]*domain.Notification),
		messages:      make(map[domain.RoomID][]*domain.Message),
		messageByID:   make(map[domain.MessageID]*domain.Message),
	}
}

var _ core.Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetOrCreateUser(_ context.Context, username string) (*domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		copied := *u
		return &copied, nil
	}
	u := &domain.User{Username: username, DisplayName: username}
	s.users[username] = u
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) GetUser(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) SetUserDisplayName(_ context.Context, username, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return core.ErrNotFound
	}
	return u.SetDisplayName(displayName)
}

func (s *MemoryStore) GetOrCreateRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if r, ok := s.rooms[id]; ok {
			copied := *r
			return &copied, nil
		}
	}
	r := domain.NewRoom(id)
	s.rooms[r.ID] = r
	copied := *r
	return &copied, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *MemoryStore) SetRoomPrivacy(_ context.Context, id domain.RoomID, private bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return core.ErrNotFound
	}
	r.Private = private
	return nil
}

func (s *MemoryStore) SetRoomDisplayName(_ context.Context, id domain.RoomID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return core.ErrNotFound
	}
	r.DisplayName = displayName
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.rooms, id)
	delete(s.members, id)
	delete(s.joinRequests, id)
	for _, msg := range s.messages[id] {
		delete(s.messageByID, msg.ID)
	}
	delete(s.messages, id)
	for _, rows := range s.notifications {
		delete(rows, id)
	}
	return nil
}

func (s *MemoryStore) SetRoomUpload(_ context.Context, id domain.RoomID, creator string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if !at.After(r.UploadAt) {
		return false, nil
	}
	r.UploadCreator = creator
	r.UploadAt = at
	return true, nil
}

func (s *MemoryStore) AddMember(_ context.Context, id domain.RoomID, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return false, core.ErrNotFound
	}
	group := s.members[id]
	if group == nil {
		group = make(map[string]struct{})
		s.members[id] = group
	}
	if _, ok := group[username]; ok {
		return false, nil
	}
	group[username] = struct{}{}
	return true, nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, id domain.RoomID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group, ok := s.members[id]; ok {
		delete(group, username)
	}
	return nil
}

func (s *MemoryStore) IsMember(_ context.Context, id domain.RoomID, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id][username]
	return ok, nil
}

func (s *MemoryStore) RoomMembers(_ context.Context, id domain.RoomID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usernames := make([]string, 0, len(s.members[id]))
	for username := range s.members[id] {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	out := make([]domain.User, 0, len(usernames))
	for _, username := range usernames {
		if u, ok := s.users[username]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *MemoryStore) RoomsOfUser(_ context.Context, username string) ([]domain.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoomID
	for id, group := range s.members {
		if _, ok := group[username]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateJoinRequest(_ context.Context, username string, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return core.ErrNotFound
	}
	requests := s.joinRequests[id]
	if requests == nil {
		requests = make(map[string]time.Time)
		s.joinRequests[id] = requests
	}
	if _, ok := requests[username]; ok {
		return nil
	}
	requests[username] = time.Now()
	return nil
}

func (s *MemoryStore) DeleteJoinRequest(_ context.Context, username string, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requests, ok := s.joinRequests[id]; ok {
		delete(requests, username)
	}
	return nil
}

func (s *MemoryStore) JoinRequests(_ context.Context, id domain.RoomID) ([]core.JoinRequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type pending struct {
		username string
		at       time.Time
	}
	requests := make([]pending, 0, len(s.joinRequests[id]))
	for username, at := range s.joinRequests[id] {
		requests = append(requests, pending{username: username, at: at})
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].at.After(requests[j].at) })
	out := make([]core.JoinRequestRecord, 0, len(requests))
	for _, req := range requests {
		record := core.JoinRequestRecord{Username: req.username, DisplayName: req.username}
		if u, ok := s.users[req.username]; ok {
			record.DisplayName = u.DisplayName
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *MemoryStore) JoinRequestRoomsOfUser(_ context.Context, username string) ([]domain.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoomID
	for id, requests := range s.joinRequests {
		if _, ok := requests[username]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) ApproveAllJoinRequests(_ context.Context, id domain.RoomID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return nil, core.ErrNotFound
	}
	usernames := make([]string, 0, len(s.joinRequests[id]))
	for username := range s.joinRequests[id] {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)

	latest := s.latestMessageLocked(id)
	var latestID domain.MessageID
	if latest != nil {
		latestID = latest.ID
	}
	group := s.members[id]
	if group == nil {
		group = make(map[string]struct{})
		s.members[id] = group
	}
	for _, username := range usernames {
		group[username] = struct{}{}
		s.ensureNotificationLocked(username, id, latestID)
	}
	delete(s.joinRequests, id)
	return usernames, nil
}

func (s *MemoryStore) ensureNotificationLocked(username string, id domain.RoomID, messageID domain.MessageID) {
	rows := s.notifications[username]
	if rows == nil {
		rows = make(map[domain.RoomID]*domain.Notification)
		s.notifications[username] = rows
	}
	if _, ok := rows[id]; ok {
		return
	}
	rows[id] = &domain.Notification{
		Username:  username,
		RoomID:    id,
		MessageID: messageID,
		Timestamp: time.Now(),
	}
}

func (s *MemoryStore) EnsureNotification(_ context.Context, username string, id domain.RoomID, messageID domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureNotificationLocked(username, id, messageID)
	return nil
}

func (s *MemoryStore) SetNotificationMessage(_ context.Context, username string, id domain.RoomID, messageID domain.MessageID, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureNotificationLocked(username, id, "")
	row := s.notifications[username][id]
	row.MessageID = messageID
	row.Read = read
	row.Timestamp = time.Now()
	return nil
}

func (s *MemoryStore) TouchNotification(_ context.Context, username string, id domain.RoomID, at time.Time, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureNotificationLocked(username, id, "")
	row := s.notifications[username][id]
	row.Read = read
	row.Timestamp = at
	return nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, username string, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.notifications[username][id]
	if !ok {
		return core.ErrNotFound
	}
	row.Read = true
	return nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, username string, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows, ok := s.notifications[username]; ok {
		delete(rows, id)
	}
	return nil
}

func (s *MemoryStore) NotificationsOfUser(_ context.Context, username string) ([]core.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.notifications[username]
	out := make([]core.NotificationRecord, 0, len(rows))
	for id, row := range rows {
		record := core.NotificationRecord{
			RoomID:    id,
			Read:      row.Read,
			Timestamp: row.Timestamp.Format(domain.WireTimeFormat),
			SortKey:   row.Timestamp,
		}
		if room, ok := s.rooms[id]; ok {
			record.RoomDisplayName = room.DisplayName
		}
		if msg, ok := s.messageByID[row.MessageID]; ok {
			record.Content = msg.Content
			if creator, ok := s.users[msg.Creator]; ok {
				record.CreatorDisplayName = creator.DisplayName
			}
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *MemoryStore) NotificationHolders(_ context.Context, messageID domain.MessageID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for username, rows := range s.notifications {
		for _, row := range rows {
			if row.MessageID == messageID {
				out = append(out, username)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) UsersNotifiedBy(_ context.Context, creator string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for username, rows := range s.notifications {
		for _, row := range rows {
			msg, ok := s.messageByID[row.MessageID]
			if ok && msg.Creator == creator {
				out = append(out, username)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[msg.RoomID]; !ok {
		return core.ErrNotFound
	}
	copied := *msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &copied)
	s.messageByID[msg.ID] = &copied
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messageByID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messageByID[id]
	if !ok {
		return core.ErrNotFound
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	return nil
}

func (s *MemoryStore) MessagesPage(_ context.Context, id domain.RoomID, page, size int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[id]
	start := (page - 1) * size
	if page < 1 || start >= len(all) {
		return nil, nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	// Stored oldest-first; pages are addressed newest-first.
	out := make([]*domain.Message, 0, end-start)
	for i := start; i < end; i++ {
		copied := *all[len(all)-1-i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) latestMessageLocked(id domain.RoomID) *domain.Message {
	all := s.messages[id]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (s *MemoryStore) LatestMessage(_ context.Context, id domain.RoomID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := s.latestMessageLocked(id)
	if msg == nil {
		return nil, core.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}
