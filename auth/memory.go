package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeflow/address"
)

// MemoryRepository keeps users in process for the memory storage driver.
type MemoryRepository struct {
	mu        sync.RWMutex
	byEmail   map[string]User
	byID      map[string]User
	byAccount map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byEmail:   make(map[string]User),
		byID:      make(map[string]User),
		byAccount: make(map[string]string),
	}
}

func (m *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	emailKey := strings.ToLower(params.Email)
	if _, exists := m.byEmail[emailKey]; exists {
		return User{}, ErrDuplicateEmail
	}
	if _, exists := m.byAccount[address.Key(params.Account)]; exists {
		return User{}, ErrDuplicateAccount
	}

	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Account:      params.Account,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byEmail[emailKey] = user
	m.byID[user.ID] = user
	m.byAccount[address.Key(user.Account)] = user.ID
	return user, nil
}

func (m *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
