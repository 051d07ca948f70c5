package gate

import "sync"

// vehicleLocks hands out one mutex per vehicle id so gate decisions for the
// same vehicle are mutually exclusive while different vehicles proceed
// concurrently.
type vehicleLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newVehicleLocks() *vehicleLocks {
	return &vehicleLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *vehicleLocks) get(vehicleID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[vehicleID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[vehicleID] = m
	}
	return m
}
