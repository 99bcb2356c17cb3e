package games

import (
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/engine"
)

// fakeProcess/fakeLauncher stand in for a real spring-dedicated binary
// so tests never spawn or wait on one. Signal simulates a process that
// terminates as soon as it is signalled, same as a real engine exiting
// on SIGTERM.
type fakeProcess struct {
	exitOnce sync.Once
	exitCh   chan error
}

func newFakeProcess() *fakeProcess { return &fakeProcess{exitCh: make(chan error, 1)} }

func (p *fakeProcess) Wait() error { return <-p.exitCh }

func (p *fakeProcess) Signal(os.Signal) error {
	p.exitOnce.Do(func() { p.exitCh <- nil })
	return nil
}

type fakeLauncher struct{}

func (fakeLauncher) Start(ctx context.Context, name string, args []string, dir string, env []string) (engine.Process, error) {
	return newFakeProcess(), nil
}

// newTestManager wires a Manager whose runners use a fake launcher, so
// Start calls never try to spawn a real engine binary.
func newTestManager(ctx context.Context, cfg config.Config, events Events) *Manager {
	m := New(ctx, cfg, events)
	m.newRunner = func(battleID string, ev engine.Events) *engine.Runner {
		return engine.NewWithLauncher(battleID, ev, fakeLauncher{})
	}
	return m
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.TachyonServer = "localhost"
	cfg.AuthClientID = "client"
	cfg.AuthClientSecret = "secret"
	cfg.HostingIP = "203.0.113.5"
	cfg.EngineCdnBaseUrl = "https://cdn.example.com"
	cfg.MaxBattles = 2
	cfg.MaxPortsUsed = 4
	cfg.EngineStartPort = 30000
	cfg.EngineAutohostStartPort = 31000
	cfg.MaxGameDurationSeconds = 0 // disabled unless a test opts in
	cfg.EnginesDir = t.TempDir()
	cfg.InstancesDir = t.TempDir()
	return cfg
}

// engineClient dials the runner's bound autohost port and can push raw
// datagrams to it, simulating the spring-dedicated process.
type engineClient struct {
	conn *net.UDPConn
}

func dialAutohost(t *testing.T, cfg config.Config, offset int) *engineClient {
	t.Helper()
	port := cfg.EngineAutohostStartPort + offset
	// Port may not be bound yet the instant Start returns, so retry briefly.
	var conn *net.UDPConn
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
		if err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	return &engineClient{conn: conn}
}

func (c *engineClient) sendServerStarted(t *testing.T) {
	t.Helper()
	_, err := c.conn.Write([]byte{0})
	require.NoError(t, err)
}

func (c *engineClient) close() { _ = c.conn.Close() }

func waitForCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition not met within "+timeout.String())
}

// startBattleAsync starts req in a goroutine, since Start blocks until the
// fake engine sends SERVER_STARTED; it returns channels for the result.
func startBattleAsync(m *Manager, ctx context.Context, req Request) (<-chan Result, <-chan error) {
	resCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := m.Start(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
	}()
	return resCh, errCh
}

func TestStart_AwaitsRunnerStartThenReturnsAddress(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(context.Background(), cfg, Events{})

	resCh, errCh := startBattleAsync(m, context.Background(), Request{
		BattleID:      "battle-a",
		EngineVersion: "105.1.1",
		StartScript:   "[GAME]\n{\n}\n",
	})

	client := dialAutohost(t, cfg, 0)
	defer client.close()
	client.sendServerStarted(t)

	select {
	case res := <-resCh:
		assert.Equal(t, cfg.HostingIP, res.IP)
		assert.Equal(t, cfg.EngineStartPort, res.Port)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for start")
	}

	assert.Equal(t, 1, m.CurrentBattles())
}

func TestStart_DuplicateBattleIdFails(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(context.Background(), cfg, Events{})

	resCh, _ := startBattleAsync(m, context.Background(), Request{BattleID: "dup", EngineVersion: "x"})
	client := dialAutohost(t, cfg, 0)
	defer client.close()
	client.sendServerStarted(t)
	<-resCh

	_, err := m.Start(context.Background(), Request{BattleID: "dup", EngineVersion: "x"})
	assert.ErrorIs(t, err, ErrBattleIDAlreadyUsed)
}

func TestStart_AtCapacityFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxBattles = 0
	m := newTestManager(context.Background(), cfg, Events{})

	_, err := m.Start(context.Background(), Request{BattleID: "overflow", EngineVersion: "x"})
	assert.ErrorIs(t, err, ErrAtCapacity)
}

func TestStart_NoFreePortsFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPortsUsed = 1
	cfg.MaxBattles = 5
	m := newTestManager(context.Background(), cfg, Events{})

	resCh, _ := startBattleAsync(m, context.Background(), Request{BattleID: "first", EngineVersion: "x"})
	client := dialAutohost(t, cfg, 0)
	defer client.close()
	client.sendServerStarted(t)
	<-resCh

	_, err := m.Start(context.Background(), Request{BattleID: "second", EngineVersion: "x"})
	assert.ErrorIs(t, err, ErrNoFreePorts)
}

func TestKill_UnknownBattleFails(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(context.Background(), cfg, Events{})
	err := m.Kill("nope")
	assert.ErrorIs(t, err, ErrUnknownBattle)
}

func TestSendPacket_UnknownBattleFails(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(context.Background(), cfg, Events{})
	err := m.SendPacket("nope", []byte{1})
	assert.ErrorIs(t, err, ErrUnknownBattle)
}

func TestExit_ReleasesPortOffsetForReuse(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPortsUsed = 1
	cfg.MaxBattles = 5

	var exited sync.WaitGroup
	exited.Add(1)
	m := newTestManager(context.Background(), cfg, Events{
		OnExit: func(battleID string) { exited.Done() },
	})

	resCh, _ := startBattleAsync(m, context.Background(), Request{BattleID: "first", EngineVersion: "x"})
	client := dialAutohost(t, cfg, 0)
	client.sendServerStarted(t)
	<-resCh

	require.NoError(t, m.Kill("first"))
	client.close()
	exited.Wait()

	waitForCond(t, time.Second, func() bool { return m.CurrentBattles() == 0 })

	resCh2, errCh2 := startBattleAsync(m, context.Background(), Request{BattleID: "second", EngineVersion: "x"})
	client2 := dialAutohost(t, cfg, 0)
	defer client2.close()
	client2.sendServerStarted(t)

	select {
	case res := <-resCh2:
		assert.Equal(t, cfg.EngineStartPort, res.Port)
	case err := <-errCh2:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second start")
	}
}

func TestCapacity_EmittedOnStartAndExit(t *testing.T) {
	cfg := testConfig(t)

	var mu sync.Mutex
	var observed []int
	m := newTestManager(context.Background(), cfg, Events{
		OnCapacity: func(current, max int) {
			mu.Lock()
			observed = append(observed, current)
			mu.Unlock()
		},
	})

	resCh, _ := startBattleAsync(m, context.Background(), Request{BattleID: "battle-a", EngineVersion: "x"})
	client := dialAutohost(t, cfg, 0)
	client.sendServerStarted(t)
	<-resCh

	waitForCond(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) >= 1
	})

	require.NoError(t, m.Kill("battle-a"))
	client.close()

	waitForCond(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) >= 2
	})

	mu.Lock()
	assert.Equal(t, 1, observed[0])
	assert.Equal(t, 0, observed[len(observed)-1])
	mu.Unlock()
}

func TestSetMaxBattles_DrainPreventsNewStartsButNotExisting(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(context.Background(), cfg, Events{})

	resCh, _ := startBattleAsync(m, context.Background(), Request{BattleID: "running", EngineVersion: "x"})
	client := dialAutohost(t, cfg, 0)
	defer client.close()
	client.sendServerStarted(t)
	<-resCh

	m.SetMaxBattles(0)

	_, err := m.Start(context.Background(), Request{BattleID: "blocked", EngineVersion: "x"})
	assert.ErrorIs(t, err, ErrAtCapacity)

	// The already-running battle is unaffected by the drain.
	assert.Equal(t, 1, m.CurrentBattles())
}
