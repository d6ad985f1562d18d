package account

import (
	"fmt"
	"sync"
	"time"
)

// GuestManager tracks guest names in use so two guests never share one.
type GuestManager struct {
	mu     sync.Mutex
	max    int
	next   int
	guests map[string]time.Time // guest name -> logon time
}

// NewGuestManager creates a guest manager allowing up to max guests.
func NewGuestManager(max int) *GuestManager {
	if max <= 0 {
		max = 500
	}
	return &GuestManager{
		max:    max,
		next:   100,
		guests: make(map[string]time.Time),
	}
}

// Acquire reserves a guest name derived from requested.
func (gm *GuestManager) Acquire(requested string) (string, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if len(gm.guests) >= gm.max {
		return "", ErrTooManyGuests
	}
	for range 900 {
		name := fmt.Sprintf("%s_%d", requested, gm.next)
		gm.next++
		if gm.next > 999 {
			gm.next = 100
		}
		if _, taken := gm.guests[name]; !taken {
			gm.guests[name] = time.Now()
			return name, nil
		}
	}
	return "", ErrTooManyGuests
}

// Release frees a guest name.
func (gm *GuestManager) Release(name string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	delete(gm.guests, name)
}

// IsGuest returns true if the name is a tracked guest.
func (gm *GuestManager) IsGuest(name string) bool {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	_, ok := gm.guests[name]
	return ok
}

// Count returns the number of active guests.
func (gm *GuestManager) Count() int {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return len(gm.guests)
}
