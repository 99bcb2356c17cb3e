package adapter

import "sync"

// Status is the autohost's published state (spec §3 Status): mutated
// only by the Autohost Adapter on state transitions and republished to
// the lobby on connect, capacity change, or engine-set change.
type Status struct {
	CurrentBattles   int      `json:"currentBattles"`
	MaxBattles       int      `json:"maxBattles"`
	AvailableEngines []string `json:"availableEngines"`
}

// statusHolder guards the current Status behind a mutex so the adapter's
// event callbacks (capacity, installed-engine-set changes) and the
// Lobby Client's connect handler can update or read it concurrently.
type statusHolder struct {
	mu     sync.Mutex
	status Status
}

func (h *statusHolder) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := h.status
	cp.AvailableEngines = append([]string(nil), h.status.AvailableEngines...)
	return cp
}

func (h *statusHolder) setCapacity(current, max int) Status {
	h.mu.Lock()
	h.status.CurrentBattles = current
	h.status.MaxBattles = max
	h.mu.Unlock()
	return h.Snapshot()
}

func (h *statusHolder) setEngines(engines []string) Status {
	h.mu.Lock()
	h.status.AvailableEngines = append([]string(nil), engines...)
	h.mu.Unlock()
	return h.Snapshot()
}
