package presence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 是单进程部署使用的内存实现，重启即清空。
type MemoryStore struct {
	mu       sync.Mutex
	conns    map[string]int
	typing   map[string]map[string]struct{} // chatID -> userIDs
	typingBy map[string]map[string]struct{} // userID -> chatIDs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conns:    make(map[string]int),
		typing:   make(map[string]map[string]struct{}),
		typingBy: make(map[string]map[string]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Connect(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[userID]++
	return s.conns[userID] == 1, nil
}

func (s *MemoryStore) Disconnect(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.conns[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(s.conns, userID)
		return true, nil
	}
	s.conns[userID] = n - 1
	return false, nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[userID] > 0, nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SetTyping(_ context.Context, chatID, userID string, typing bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.typing[chatID]
	_, present := users[userID]
	if typing == present {
		return false, nil
	}
	if typing {
		if users == nil {
			users = make(map[string]struct{})
			s.typing[chatID] = users
		}
		users[userID] = struct{}{}
		chats := s.typingBy[userID]
		if chats == nil {
			chats = make(map[string]struct{})
			s.typingBy[userID] = chats
		}
		chats[chatID] = struct{}{}
		return true, nil
	}
	s.removeTypingLocked(chatID, userID)
	return true, nil
}

func (s *MemoryStore) TypingUsers(_ context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	out := make([]string, 0, len(s.typing[chatID]))
	for id := range s.typing[chatID] {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ClearTyping(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make([]string, 0, len(s.typingBy[userID]))
	for chatID := range s.typingBy[userID] {
		chats = append(chats, chatID)
	}
	for _, chatID := range chats {
		s.removeTypingLocked(chatID, userID)
	}
	sort.Strings(chats)
	return chats, nil
}

func (s *MemoryStore) removeTypingLocked(chatID, userID string) {
	if users := s.typing[chatID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.typing, chatID)
		}
	}
	if chats := s.typingBy[userID]; chats != nil {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(s.typingBy, userID)
		}
	}
}
