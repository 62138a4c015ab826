package user

import (
	"context"
	"strings"
	"sync"

	"chat-server/internal/storage"
)

// Repository keeps the full user collection in memory and rewrites the
// JSON blob on every mutation. Upserts are last-writer-wins on the key.
type Repository struct {
	mu    sync.RWMutex
	users map[string]User
	blob  *storage.Blob
}

// NewRepository loads the collection from the blob.
func NewRepository(blob *storage.Blob) (*Repository, error) {
	users := make(map[string]User)
	if err := blob.Load(&users); err != nil {
		return nil, err
	}
	return &Repository{users: users, blob: blob}, nil
}

// Get returns the user with the given id.
func (r *Repository) Get(id string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// GetByEmail returns the user registered under email, case-insensitive.
func (r *Repository) GetByEmail(email string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return User{}, false
}

// GetAll returns every user except the one with excludeID.
func (r *Repository) GetAll(excludeID string) []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		if u.ID == excludeID {
			continue
		}
		users = append(users, u)
	}
	return users
}

// Upsert inserts or replaces the user and persists the collection.
// A failed save restores the previous entry, so memory and disk never
// disagree after an error.
func (r *Repository) Upsert(ctx context.Context, u User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.users[u.ID]
	r.users[u.ID] = u
	if err := r.blob.Save(r.users); err != nil {
		if existed {
			r.users[u.ID] = prev
		} else {
			delete(r.users, u.ID)
		}
		return User{}, err
	}
	return u, nil
}

// Delete removes the user and persists the collection. Deleting an
// unknown id is a no-op.
func (r *Repository) Delete(ctx context.Context, id string) (User, bool, error) {
	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, false, nil
	}
	delete(r.users, id)
	if err := r.blob.Save(r.users); err != nil {
		r.users[id] = u
		return User{}, false, err
	}
	return u, true, nil
}
