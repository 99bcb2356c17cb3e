// Package games implements the Games Manager (spec §4.3): the pool of
// Engine Runners, the battle port allocator, capacity accounting, and
// the absolute match timeout.
package games

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/engine"
	"github.com/beyond-all-reason/autohost-go/internal/enginewire"
	"github.com/beyond-all-reason/autohost-go/internal/startscript"
)

// Request describes one battle to start.
type Request struct {
	BattleID      string
	EngineVersion string
	StartScript   string
	Settings      map[string]string
}

// Result is what start(req) returns to the caller on success.
type Result struct {
	IP   string
	Port int
}

// Events is the Games Manager's typed event bus (spec §9), forwarding
// per-battle runner events tagged with the battleId, plus the pool-wide
// capacity event.
type Events struct {
	OnStart    func(battleID string)
	OnPacket   func(battleID string, ev enginewire.Event)
	OnError    func(battleID string, err error)
	OnExit     func(battleID string)
	OnCapacity func(current, max int)
}

// Reason-tagged errors the Autohost Adapter maps to its own taxonomy.
var (
	ErrBattleIDAlreadyUsed = fmt.Errorf("games: battleId already used")
	ErrAtCapacity          = fmt.Errorf("games: at capacity")
	ErrNoFreePorts         = fmt.Errorf("games: no free ports")
	ErrUnknownBattle       = fmt.Errorf("games: unknown battleId")
)

type entry struct {
	runner      *engine.Runner
	offset      int
	observed    bool
	matchTimer  *time.Timer
	cancelAwait context.CancelFunc
}

// Manager owns every Engine Runner for the process lifetime.
type Manager struct {
	cfg     config.Config
	events  Events
	rootCtx context.Context

	// newRunner builds the Engine Runner for a battle; overridable in
	// tests to inject a fake launcher without a real engine binary.
	newRunner func(battleID string, events engine.Events) *engine.Runner

	mu             sync.Mutex
	usedBattleIDs  map[string]bool
	usedOffsets    map[int]bool
	portCursor     int
	runners        map[string]*entry
	currentBattles int
	maxBattles     int
	pendingStart   map[string]chan struct{}
}

// New returns an empty Manager using cfg's port ranges and capacity.
// rootCtx governs every runner's lifetime (cancelling it tears down the
// whole pool); it must outlive any individual Start call's context.
func New(rootCtx context.Context, cfg config.Config, events Events) *Manager {
	return &Manager{
		cfg:           cfg,
		events:        events,
		rootCtx:       rootCtx,
		newRunner:     engine.New,
		usedBattleIDs: map[string]bool{},
		usedOffsets:   map[int]bool{},
		runners:       map[string]*entry{},
		maxBattles:    cfg.MaxBattles,
		pendingStart:  map[string]chan struct{}{},
	}
}

// SetMaxBattles changes the capacity ceiling; setting it to 0 drains the
// pool gracefully (spec §4.3 Graceful drain) without touching running
// battles.
func (m *Manager) SetMaxBattles(n int) {
	m.mu.Lock()
	m.maxBattles = n
	m.mu.Unlock()
}

// findFreeOffsetLocked scans forward from the rotating cursor for an
// unused port offset (spec §4.3 Port allocator). Caller holds m.mu.
func (m *Manager) findFreeOffsetLocked() (int, error) {
	if m.cfg.MaxPortsUsed <= 0 {
		return 0, ErrNoFreePorts
	}
	for i := 0; i < m.cfg.MaxPortsUsed; i++ {
		offset := (m.portCursor + i) % m.cfg.MaxPortsUsed
		if !m.usedOffsets[offset] {
			m.portCursor = (offset + 1) % m.cfg.MaxPortsUsed
			return offset, nil
		}
	}
	return 0, ErrNoFreePorts
}

// Start allocates a runner for req, waits for its start event, and
// returns the address players should connect to (spec §4.3 start).
func (m *Manager) Start(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	if m.usedBattleIDs[req.BattleID] {
		m.mu.Unlock()
		return Result{}, ErrBattleIDAlreadyUsed
	}
	if m.currentBattles >= m.maxBattles {
		m.mu.Unlock()
		return Result{}, ErrAtCapacity
	}
	offset, err := m.findFreeOffsetLocked()
	if err != nil {
		m.mu.Unlock()
		return Result{}, err
	}
	m.usedBattleIDs[req.BattleID] = true
	m.usedOffsets[offset] = true

	// runCtx governs the runner's actual lifetime (tied to the pool's
	// root context, not the caller's request context); handleExit calls
	// its cancel func (entry.cancelAwait) so Start's wait below cannot
	// block forever if the runner dies before ever reaching start.
	runCtx, cancelRun := context.WithCancel(m.rootCtx)
	startCh := make(chan struct{})
	m.pendingStart[req.BattleID] = startCh

	battleID := req.BattleID
	r := m.newRunner(battleID, engine.Events{
		OnStart:  func() { m.handleStart(battleID) },
		OnPacket: func(ev enginewire.Event) { m.handlePacket(battleID, ev) },
		OnError:  func(err error) { m.handleError(battleID, err) },
		OnExit:   func() { m.handleExit(battleID) },
	})
	m.runners[battleID] = &entry{runner: r, offset: offset, cancelAwait: cancelRun}
	m.mu.Unlock()

	enginePort := m.cfg.EngineStartPort + offset
	autohostPort := m.cfg.EngineAutohostStartPort + offset
	instanceDir := filepath.Join(m.cfg.InstancesDir, battleID)

	settings := mergeSettings(m.cfg.EngineSettings, req.Settings)

	opts := engine.Options{
		BattleID:      battleID,
		EngineVersion: req.EngineVersion,
		EnginesDir:    m.cfg.EnginesDir,
		InstanceDir:   instanceDir,
		AutohostPort:  autohostPort,
		EngineBindIP:  m.cfg.EngineBindIP,
		EnginePort:    enginePort,
		StartScript:   req.StartScript,
		Settings:      startscript.RenderSettings(settings),
		ExtraEnv:      []string{"SPRING_ISOLATED=" + instanceDir},
	}

	if err := r.Run(runCtx, opts); err != nil {
		m.mu.Lock()
		delete(m.pendingStart, battleID)
		m.mu.Unlock()
		cancelRun()
		return Result{}, err
	}

	select {
	case <-startCh:
	case <-runCtx.Done():
		return Result{}, fmt.Errorf("games: runner for battle %s exited before starting", battleID)
	case <-ctx.Done():
		return Result{}, fmt.Errorf("games: start cancelled for battle %s: %w", battleID, ctx.Err())
	}

	return Result{IP: m.cfg.HostingIP, Port: enginePort}, nil
}

// mergeSettings applies the two mandatory overrides (spec §4.2 step 2)
// over the base settings and the caller-supplied per-battle map.
func mergeSettings(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override)+2)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	out["AutohostAllowAnonymousSpec"] = "0"
	out["AllowAdditionalPlayers"] = "1"
	return out
}

func (m *Manager) handleStart(battleID string) {
	m.mu.Lock()
	e, ok := m.runners[battleID]
	if ok && !e.observed {
		e.observed = true
		m.currentBattles++
		if m.cfg.MaxGameDurationSeconds > 0 {
			d := time.Duration(m.cfg.MaxGameDurationSeconds) * time.Second
			e.matchTimer = time.AfterFunc(d, func() { _ = m.Kill(battleID) })
		}
	}
	startCh, hasPending := m.pendingStart[battleID]
	delete(m.pendingStart, battleID)
	onStart := m.events.OnStart
	onCapacity := m.events.OnCapacity
	current, max := m.currentBattles, m.maxBattles
	m.mu.Unlock()

	if hasPending {
		close(startCh)
	}
	if onStart != nil {
		onStart(battleID)
	}
	if onCapacity != nil {
		go onCapacity(current, max)
	}
}

func (m *Manager) handlePacket(battleID string, ev enginewire.Event) {
	m.mu.Lock()
	onPacket := m.events.OnPacket
	m.mu.Unlock()
	if onPacket != nil {
		onPacket(battleID, ev)
	}
}

func (m *Manager) handleError(battleID string, err error) {
	m.mu.Lock()
	onError := m.events.OnError
	m.mu.Unlock()
	if onError != nil {
		onError(battleID, err)
	}
}

func (m *Manager) handleExit(battleID string) {
	m.mu.Lock()
	e, ok := m.runners[battleID]
	if ok {
		if e.matchTimer != nil {
			e.matchTimer.Stop()
		}
		if e.cancelAwait != nil {
			e.cancelAwait()
		}
		delete(m.usedOffsets, e.offset)
		delete(m.runners, battleID)
		if e.observed {
			m.currentBattles--
		}
	}
	onExit := m.events.OnExit
	onCapacity := m.events.OnCapacity
	current, max := m.currentBattles, m.maxBattles
	m.mu.Unlock()

	if onExit != nil {
		onExit(battleID)
	}
	if onCapacity != nil {
		go onCapacity(current, max)
	}
}

// Kill requests shutdown of battleID's runner (spec §4.3 kill).
func (m *Manager) Kill(battleID string) error {
	m.mu.Lock()
	e, ok := m.runners[battleID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownBattle
	}
	return e.runner.Close()
}

// SendPacket forwards data to battleID's runner (spec §4.3 sendPacket).
func (m *Manager) SendPacket(battleID string, data []byte) error {
	m.mu.Lock()
	e, ok := m.runners[battleID]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownBattle
	}
	return e.runner.SendPacket(data)
}

// Shutdown force-closes every registered runner, used by the second
// shutdown signal after a graceful drain (spec §4.3 Graceful drain).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*engine.Runner, 0, len(m.runners))
	for _, e := range m.runners {
		runners = append(runners, e.runner)
	}
	m.mu.Unlock()
	for _, r := range runners {
		_ = r.Close()
	}
}

// CurrentBattles returns the number of battles that have reached start
// and not yet exited.
func (m *Manager) CurrentBattles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBattles
}

// MaxBattles returns the current capacity ceiling.
func (m *Manager) MaxBattles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxBattles
}

// EnsureDirs makes sure the on-disk layout (spec §6.4) exists before the
// first battle starts; callers invoke this once at startup.
func EnsureDirs(cfg config.Config) error {
	if err := os.MkdirAll(cfg.EnginesDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(cfg.InstancesDir, 0o755)
}
