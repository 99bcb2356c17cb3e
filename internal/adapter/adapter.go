// Package adapter implements the Autohost Adapter (spec §4.7): the glue
// between the Lobby Codec and the Games Manager, the EngineEvent →
// LobbyUpdate projection, status aggregation, and graceful shutdown.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/enginewire"
	"github.com/beyond-all-reason/autohost-go/internal/eventbuffer"
	"github.com/beyond-all-reason/autohost-go/internal/games"
	"github.com/beyond-all-reason/autohost-go/internal/lobbywire"
	"github.com/beyond-all-reason/autohost-go/internal/multiindex"
	"github.com/beyond-all-reason/autohost-go/internal/versions"
)

// Sender transmits an already-built envelope to the lobby. The Lobby
// Client supplies the concrete implementation; the adapter only knows
// it can fail, in which case the caller decides whether to swallow the
// failure (status publication, spec §4.7) or surface it.
type Sender func(lobbywire.OutEnvelope) error

// gamesManager is the subset of *games.Manager the adapter drives.
// Narrowing it to an interface (the same seam games.Manager itself uses
// for engine.Launcher/newRunner) lets tests exercise the adapter's
// handler and projection logic against a fake pool without spawning a
// real engine process.
type gamesManager interface {
	Start(ctx context.Context, req games.Request) (games.Result, error)
	Kill(battleID string) error
	SendPacket(battleID string, data []byte) error
	SetMaxBattles(n int)
	CurrentBattles() int
	Shutdown()
}

// Adapter wires one Games Manager, one Events Buffer and one Versions
// Registry to the lobby protocol, and owns the per-battle Multi-Index
// set and the finishedBattles terminal-update dedup set (spec §3
// Battle.finished, §4.7 Terminal update de-duplication).
type Adapter struct {
	cfg      config.Config
	games    gamesManager
	buffer   *eventbuffer.Buffer
	versions *versions.Registry
	send     Sender

	status statusHolder

	mu              sync.Mutex
	indices         map[string]*multiindex.Index
	finishedBattles map[string]bool
}

// New constructs an Adapter and its Games Manager, wiring the manager's
// event bus to the adapter's own projection/dedup/status logic. send is
// used for out-of-band publication (status events, buffered update
// delivery) — it is normally the Lobby Client's outbound channel.
func New(rootCtx context.Context, cfg config.Config, versionsRegistry *versions.Registry, buffer *eventbuffer.Buffer, send Sender) *Adapter {
	a := &Adapter{
		cfg:             cfg,
		buffer:          buffer,
		versions:        versionsRegistry,
		send:            send,
		indices:         map[string]*multiindex.Index{},
		finishedBattles: map[string]bool{},
	}
	a.status.status = Status{MaxBattles: cfg.MaxBattles}
	a.games = games.New(rootCtx, cfg, games.Events{
		OnPacket:   a.handleGamePacket,
		OnError:    a.onGameError,
		OnExit:     a.onGameExit,
		OnCapacity: a.onCapacity,
	})
	return a
}

// OnVersionsChanged is wired as the Versions Registry's onVersions
// callback (its constructor runs before the Adapter exists, so the
// supervisor connects the two after both are built). It updates Status
// and republishes it (spec §4.7 Status aggregation, (c)).
func (a *Adapter) OnVersionsChanged(versionList []string) {
	snap := a.status.setEngines(versionList)
	a.publishStatus(snap)
}

// PublishStatus republishes the current Status; the supervisor calls
// this on the Lobby Client's `connected` event (spec §4.7 Status
// aggregation, (a)).
func (a *Adapter) PublishStatus() {
	a.publishStatus(a.status.Snapshot())
}

func (a *Adapter) publishStatus(s Status) {
	if err := a.send(lobbywire.NewEvent("status", s)); err != nil {
		slog.Warn("adapter: status publication failed", "err", err)
	}
}

func (a *Adapter) onCapacity(current, max int) {
	snap := a.status.setCapacity(current, max)
	a.publishStatus(snap)
}

func (a *Adapter) battleIndex(battleID string) (*multiindex.Index, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.indices[battleID]
	return idx, ok
}

func (a *Adapter) markFinished(battleID string) (already bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	already = a.finishedBattles[battleID]
	a.finishedBattles[battleID] = true
	return already
}

// Registry builds the Lobby Codec's fixed command dispatch table (spec
// §4.6 step 2, §4.7) bound to this adapter's handlers.
func (a *Adapter) Registry() lobbywire.Registry {
	return lobbywire.Registry{
		"start": lobbywire.Command{
			Decode:         decodeJSON[startRequest],
			Handler:        a.handleStart,
			AllowedReasons: map[string]bool{"battle_already_exists": true, "at_capacity": true, "no_free_ports": true, "invalid_request": true},
		},
		"kill": lobbywire.Command{
			Decode:         decodeJSON[killRequest],
			Handler:        a.handleKill,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"addPlayer": lobbywire.Command{
			Decode:         decodeJSON[addPlayerRequest],
			Handler:        a.handleAddPlayer,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"kickPlayer": lobbywire.Command{
			Decode:         decodeJSON[kickPlayerRequest],
			Handler:        a.handleKickPlayer,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"mutePlayer": lobbywire.Command{
			Decode:         decodeJSON[mutePlayerRequest],
			Handler:        a.handleMutePlayer,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"specPlayers": lobbywire.Command{
			Decode:         decodeJSON[specPlayersRequest],
			Handler:        a.handleSpecPlayers,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"sendCommand": lobbywire.Command{
			Decode:         decodeJSON[sendCommandRequest],
			Handler:        a.handleSendCommand,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"sendMessage": lobbywire.Command{
			Decode:         decodeJSON[sendMessageRequest],
			Handler:        a.handleSendMessage,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"subscribeUpdates": lobbywire.Command{
			Decode:         decodeJSON[subscribeUpdatesRequest],
			Handler:        a.handleSubscribeUpdates,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
		"installEngine": lobbywire.Command{
			Decode:         decodeJSON[installEngineRequest],
			Handler:        a.handleInstallEngine,
			AllowedReasons: map[string]bool{"invalid_request": true},
		},
	}
}

func decodeJSON[T any](data json.RawMessage) (any, error) {
	var v T
	if err := lobbywire.DecodeStrict(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type playerSpec struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type startRequest struct {
	BattleID      string            `json:"battleId"`
	EngineVersion string            `json:"engineVersion"`
	StartScript   string            `json:"startScript"`
	Settings      map[string]string `json:"settings"`
	Players       []playerSpec      `json:"players"`
}

type startResponse struct {
	IPs  []string `json:"ips"`
	Port int      `json:"port"`
}

func (a *Adapter) handleStart(ctx context.Context, req any) (any, error) {
	r := req.(startRequest)

	res, err := a.games.Start(ctx, games.Request{
		BattleID:      r.BattleID,
		EngineVersion: r.EngineVersion,
		StartScript:   r.StartScript,
		Settings:      r.Settings,
	})
	if err != nil {
		switch {
		case errors.Is(err, games.ErrBattleIDAlreadyUsed):
			return nil, errBattleAlreadyExists(err.Error())
		case errors.Is(err, games.ErrAtCapacity):
			return nil, errAtCapacity(err.Error())
		case errors.Is(err, games.ErrNoFreePorts):
			return nil, errNoFreePorts(err.Error())
		default:
			return nil, err
		}
	}

	idx := multiindex.New()
	for i, p := range r.Players {
		if err := idx.Set(multiindex.Record{UserID: p.UserID, DisplayName: p.Name, PlayerNumber: i}); err != nil {
			return nil, errInvalidRequest(err.Error())
		}
	}
	a.mu.Lock()
	a.indices[r.BattleID] = idx
	a.mu.Unlock()

	return startResponse{IPs: []string{res.IP}, Port: res.Port}, nil
}

type killRequest struct {
	BattleID string `json:"battleId"`
}

func (a *Adapter) handleKill(ctx context.Context, req any) (any, error) {
	r := req.(killRequest)
	if err := a.games.Kill(r.BattleID); err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	return nil, nil
}

type addPlayerRequest struct {
	BattleID string `json:"battleId"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// handleAddPlayer implements §4.7 addPlayer's ordered validations and
// insert-after-send rollback semantics: a brand-new identity is only
// recorded in the Multi-Index once the `/adduser` packet has actually
// been accepted by the runner.
func (a *Adapter) handleAddPlayer(ctx context.Context, req any) (any, error) {
	r := req.(addPlayerRequest)

	idx, ok := a.battleIndex(r.BattleID)
	if !ok {
		return nil, errInvalidRequest("battle not found")
	}

	existing, known := idx.Get(multiindex.ByUserID, r.UserID)
	var payload []byte
	var err error
	newPlayer := false

	if known {
		if existing.DisplayName != r.Name {
			return nil, errInvalidRequest("userId already mapped to a different name")
		}
		payload, err = enginewire.EncodeCommand("adduser", []string{r.Name, r.Password})
	} else {
		if idx.Has(multiindex.ByDisplayName, r.Name) {
			return nil, errInvalidRequest("name already in use by another player")
		}
		newPlayer = true
		payload, err = enginewire.EncodeCommand("adduser", []string{r.Name, r.Password, "1"})
	}
	if err != nil {
		return nil, errInvalidRequest(err.Error())
	}

	if err := a.games.SendPacket(r.BattleID, payload); err != nil {
		return nil, errInvalidRequest(err.Error())
	}

	if newPlayer {
		playerNumber := idx.Size()
		if err := idx.Set(multiindex.Record{UserID: r.UserID, DisplayName: r.Name, PlayerNumber: playerNumber}); err != nil {
			return nil, errInvalidRequest(err.Error())
		}
	}
	return nil, nil
}

type kickPlayerRequest struct {
	BattleID string `json:"battleId"`
	UserID   string `json:"userId"`
}

func (a *Adapter) handleKickPlayer(ctx context.Context, req any) (any, error) {
	r := req.(kickPlayerRequest)
	idx, ok := a.battleIndex(r.BattleID)
	if !ok {
		return nil, errInvalidRequest("battle not found")
	}
	name, ok := idx.NameForUserID(r.UserID)
	if !ok {
		return nil, errInvalidRequest("unknown userId")
	}
	payload, err := enginewire.EncodeCommand("kick", []string{name})
	if err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	if err := a.games.SendPacket(r.BattleID, payload); err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	return nil, nil
}

type mutePlayerRequest struct {
	BattleID string `json:"battleId"`
	UserID   string `json:"userId"`
	Chat     bool   `json:"chat"`
	Draw     bool   `json:"draw"`
}

func (a *Adapter) handleMutePlayer(ctx context.Context, req any) (any, error) {
	r := req.(mutePlayerRequest)
	idx, ok := a.battleIndex(r.BattleID)
	if !ok {
		return nil, errInvalidRequest("battle not found")
	}
	name, ok := idx.NameForUserID(r.UserID)
	if !ok {
		return nil, errInvalidRequest("unknown userId")
	}
	payload, err := enginewire.EncodeCommand("mute", []string{name, boolDigit(r.Chat), boolDigit(r.Draw)})
	if err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	if err := a.games.SendPacket(r.BattleID, payload); err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	return nil, nil
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

type specPlayersRequest struct {
	BattleID string   `json:"battleId"`
	UserIDs  []string `json:"userIds"`
}

// handleSpecPlayers resolves every userId to a name before sending any
// packet — all-or-none, per spec §4.7.
func (a *Adapter) handleSpecPlayers(ctx context.Context, req any) (any, error) {
	r := req.(specPlayersRequest)
	idx, ok := a.battleIndex(r.BattleID)
	if !ok {
		return nil, errInvalidRequest("battle not found")
	}

	names := make([]string, len(r.UserIDs))
	for i, userID := range r.UserIDs {
		name, ok := idx.NameForUserID(userID)
		if !ok {
			return nil, errInvalidRequest("unknown userId: " + userID)
		}
		names[i] = name
	}

	for _, name := range names {
		payload, err := enginewire.EncodeCommand("spec", []string{name})
		if err != nil {
			return nil, errInvalidRequest(err.Error())
		}
		if err := a.games.SendPacket(r.BattleID, payload); err != nil {
			return nil, errInvalidRequest(err.Error())
		}
	}
	return nil, nil
}

type sendCommandRequest struct {
	BattleID  string   `json:"battleId"`
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
}

func (a *Adapter) handleSendCommand(ctx context.Context, req any) (any, error) {
	r := req.(sendCommandRequest)
	payload, err := enginewire.EncodeCommand(r.Command, r.Arguments)
	if err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	if err := a.games.SendPacket(r.BattleID, payload); err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	return nil, nil
}

type sendMessageRequest struct {
	BattleID string `json:"battleId"`
	Message  string `json:"message"`
}

func (a *Adapter) handleSendMessage(ctx context.Context, req any) (any, error) {
	r := req.(sendMessageRequest)
	payload, err := enginewire.EncodeChatMessage(r.Message)
	if err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	if err := a.games.SendPacket(r.BattleID, payload); err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	return nil, nil
}

type subscribeUpdatesRequest struct {
	Since int64 `json:"since"`
}

type bufferedUpdateEnvelope struct {
	Time     int64       `json:"time"`
	BattleID string      `json:"battleId"`
	Update   LobbyUpdate `json:"update"`
}

func (a *Adapter) handleSubscribeUpdates(ctx context.Context, req any) (any, error) {
	r := req.(subscribeUpdatesRequest)
	err := a.buffer.Subscribe(r.Since, func(ev eventbuffer.Event) {
		update, ok := ev.Update.(LobbyUpdate)
		if !ok {
			return
		}
		payload := bufferedUpdateEnvelope{Time: ev.TimeMicros, BattleID: ev.BattleID, Update: update}
		if err := a.send(lobbywire.NewEvent("update", payload)); err != nil {
			slog.Warn("adapter: failed delivering buffered update", "battleId", ev.BattleID, "err", err)
		}
	})
	if err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	return nil, nil
}

type installEngineRequest struct {
	Version string `json:"version"`
}

func (a *Adapter) handleInstallEngine(ctx context.Context, req any) (any, error) {
	r := req.(installEngineRequest)
	if err := a.versions.Install(ctx, r.Version); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleGamePacket projects ev to a LobbyUpdate and pushes it onto the
// Events Buffer, enforcing terminal-update de-duplication for the
// non-synthetic engine_quit path (spec §4.7).
func (a *Adapter) handleGamePacket(battleID string, ev enginewire.Event) {
	idx, ok := a.battleIndex(battleID)
	if !ok {
		return
	}
	update, ok := projectEngineEvent(idx, ev)
	if !ok {
		return
	}
	if update.Kind == UpdateEngineQuit {
		if a.markFinished(battleID) {
			return
		}
	}
	a.buffer.Push(battleID, update)
}

func (a *Adapter) onGameError(battleID string, err error) {
	if a.markFinished(battleID) {
		return
	}
	a.buffer.Push(battleID, engineCrashUpdate(err.Error()))
}

func (a *Adapter) onGameExit(battleID string) {
	a.mu.Lock()
	delete(a.indices, battleID)
	already := a.finishedBattles[battleID]
	delete(a.finishedBattles, battleID)
	a.mu.Unlock()
	if already {
		return
	}
	a.buffer.Push(battleID, LobbyUpdate{Kind: UpdateEngineQuit})
}

// Shutdown implements the two-signal graceful/hard shutdown (spec §4.7
// Graceful shutdown). Calling it once drains: it sets capacity to zero
// and waits (bounded by ctx) for every battle to finish before
// returning. A second call (or letting ctx expire) should be followed
// by the caller invoking Kill, which hard-kills every runner
// immediately.
func (a *Adapter) Shutdown(ctx context.Context) {
	a.games.SetMaxBattles(0)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.games.CurrentBattles() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Kill hard-kills every runner immediately (second shutdown signal).
func (a *Adapter) Kill() {
	a.games.Shutdown()
}
