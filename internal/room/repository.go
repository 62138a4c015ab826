package room

import (
	"context"
	"sync"

	"chat-server/internal/apperr"
	"chat-server/internal/storage"
)

// Repository keeps the full room collection in memory and rewrites the
// JSON blob on every mutation. Update serializes read-modify-writes per
// room id, so two concurrent operations on the same room cannot lose each
// other's writes; operations on different rooms stay concurrent.
type Repository struct {
	mu    sync.RWMutex
	rooms map[string]Room
	locks map[string]*sync.Mutex
	blob  *storage.Blob
}

// NewRepository loads the collection from the blob.
func NewRepository(blob *storage.Blob) (*Repository, error) {
	rooms := make(map[string]Room)
	if err := blob.Load(&rooms); err != nil {
		return nil, err
	}
	return &Repository{
		rooms: rooms,
		locks: make(map[string]*sync.Mutex),
		blob:  blob,
	}, nil
}

// Get returns the room with the given id.
func (r *Repository) Get(id string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// GetAll returns every room.
func (r *Repository) GetAll() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// GetByUser returns every room the user is currently a member of.
func (r *Repository) GetByUser(userID string) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rooms []Room
	for _, room := range r.rooms {
		if room.IsMember(userID) {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// Upsert inserts or replaces the room and persists the collection.
// Last writer wins on the key; use Update for read-modify-write cycles.
// A failed save restores the previous entry, so memory and disk never
// disagree after an error.
func (r *Repository) Upsert(ctx context.Context, room Room) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.rooms[room.ID]
	r.rooms[room.ID] = room
	if err := r.blob.Save(r.rooms); err != nil {
		if existed {
			r.rooms[room.ID] = prev
		} else {
			delete(r.rooms, room.ID)
		}
		return Room{}, err
	}
	return room, nil
}

// Update loads the room, applies fn, and persists the result, all under
// the room's own lock. Nothing is applied when fn fails or the context is
// cancelled before the write.
func (r *Repository) Update(ctx context.Context, id string, fn func(Room) (Room, error)) (Room, error) {
	lock := r.roomLock(id)
	lock.Lock()
	defer lock.Unlock()

	current, ok := r.Get(id)
	if !ok {
		return Room{}, apperr.NotFound("room %s does not exist", id)
	}

	updated, err := fn(current)
	if err != nil {
		return Room{}, err
	}
	return r.Upsert(ctx, updated)
}

// Delete removes the room and persists the collection.
func (r *Repository) Delete(ctx context.Context, id string) (Room, bool, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return Room{}, false, nil
	}
	delete(r.rooms, id)
	if err := r.blob.Save(r.rooms); err != nil {
		r.rooms[id] = room
		return Room{}, false, err
	}
	return room, true, nil
}

func (r *Repository) roomLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
