package auth

import (
	"sort"
	"sync"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
	Remove(userID int64) error
}

// Service is the allowlist of Telegram users who may open a chat session.
// An empty allowlist admits everyone.
type Service struct {
	mu    sync.RWMutex
	repo  Repository
	users map[int64]User
}

// NewWithRepo merges the users saved in repo with the ids from the
// environment. repo may be nil.
func NewWithRepo(repo Repository, initial []int64) (*Service, error) {
	s := &Service{repo: repo, users: make(map[int64]User)}
	if repo != nil {
		saved, err := repo.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, u := range saved {
			s.users[u.ID] = u
		}
	}
	for _, id := range initial {
		if _, ok := s.users[id]; !ok {
			s.users[id] = User{ID: id}
		}
	}
	return s, nil
}

func (s *Service) Open() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users) == 0
}

func (s *Service) IsAllowed(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.users) == 0 {
		return true
	}
	_, ok := s.users[userID]
	return ok
}

// Remember records the username of an allowed user the first time it is seen.
func (s *Service) Remember(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[user.ID]
	if !ok || cur.Username == user.Username {
		return nil
	}
	s.users[user.ID] = user
	if s.repo != nil {
		return s.repo.Upsert(user)
	}
	return nil
}

func (s *Service) Remove(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	if s.repo != nil {
		return s.repo.Remove(userID)
	}
	return nil
}

// List returns the allowlist ordered by id.
func (s *Service) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
