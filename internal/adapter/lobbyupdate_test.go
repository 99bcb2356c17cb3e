package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyond-all-reason/autohost-go/internal/enginewire"
	"github.com/beyond-all-reason/autohost-go/internal/multiindex"
)

func testIndex() *multiindex.Index {
	idx := multiindex.New()
	_ = idx.Set(multiindex.Record{UserID: "user-17", DisplayName: "alice", PlayerNumber: 17})
	_ = idx.Set(multiindex.Record{UserID: "user-1", DisplayName: "bob", PlayerNumber: 1})
	return idx
}

func TestProjectEngineEvent_ServerStartPlaying(t *testing.T) {
	gameID := [16]byte{1, 2, 3}
	ev := enginewire.Event{Kind: enginewire.EventServerStartPlaying, GameID: gameID, DemoPath: "demos/x.sdfz"}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)
	assert.Equal(t, UpdateStart, update.Kind)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start","gameId":"01020300000000000000000000000000","demoPath":"demos/x.sdfz"}`, string(raw))
}

func TestProjectEngineEvent_ServerGameOver(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventServerGameOver, WinningAllyTeams: []byte{0, 2}}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"finished","winningAllyTeams":[0,2]}`, string(raw))
}

func TestProjectEngineEvent_ServerGameOver_EmptyWinnersIsDropped(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventServerGameOver, WinningAllyTeams: nil}
	_, ok := projectEngineEvent(testIndex(), ev)
	assert.False(t, ok)
}

func TestProjectEngineEvent_PlayerJoined_ResolvesUserID(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventPlayerJoined, JoinedPlayer: 17, JoinedName: "alice"}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)
	assert.Equal(t, UpdatePlayerJoined, update.Kind)
	assert.Equal(t, "user-17", update.UserID)
}

func TestProjectEngineEvent_PlayerJoined_UnresolvedPlayerIsDropped(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventPlayerJoined, JoinedPlayer: 99}
	_, ok := projectEngineEvent(testIndex(), ev)
	assert.False(t, ok)
}

func TestProjectEngineEvent_PlayerLeft(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventPlayerLeft, LeftPlayer: 1, LeftReason: enginewire.LeaveKicked}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_left","userId":"user-1","reason":"kicked"}`, string(raw))
}

func TestProjectEngineEvent_PlayerChat_ToPlayerIncludesToUserId(t *testing.T) {
	ev := enginewire.Event{
		Kind: enginewire.EventPlayerChat, ChatFrom: 17, ChatDestination: enginewire.ChatToPlayer,
		ChatToPlayer: 1, ChatText: "lol",
	}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_chat","userId":"user-17","toUserId":"user-1","destination":"player","message":"lol"}`, string(raw))
}

func TestProjectEngineEvent_PlayerChat_ToAllOmitsToUserId(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventPlayerChat, ChatFrom: 17, ChatDestination: enginewire.ChatToAll, ChatText: "gg"}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_chat","userId":"user-17","destination":"all","message":"gg"}`, string(raw))
}

func TestProjectEngineEvent_PlayerChat_UnresolvedToPlayerIsDropped(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventPlayerChat, ChatFrom: 17, ChatDestination: enginewire.ChatToPlayer, ChatToPlayer: 99}
	_, ok := projectEngineEvent(testIndex(), ev)
	assert.False(t, ok)
}

func TestProjectEngineEvent_GameLuaMsg_UIIncludesUIMode(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventGameLuaMsg, LuaPlayer: 17, LuaScript: enginewire.LuaScriptUI, LuaUIMode: enginewire.UIModeAllies, LuaBytes: []byte{0xde, 0xad}}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"luamsg","userId":"user-17","script":"ui","uiMode":"allies","bytes":"3q0="}`, string(raw))
}

func TestProjectEngineEvent_GameLuaMsg_NonUIOmitsUIMode(t *testing.T) {
	ev := enginewire.Event{Kind: enginewire.EventGameLuaMsg, LuaPlayer: 17, LuaScript: enginewire.LuaScriptRules, LuaBytes: []byte{1}}
	update, ok := projectEngineEvent(testIndex(), ev)
	require.True(t, ok)

	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"luamsg","userId":"user-17","script":"rules","bytes":"AQ=="}`, string(raw))
}

func TestProjectEngineEvent_SilentVariants(t *testing.T) {
	for _, kind := range []enginewire.EventKind{enginewire.EventPlayerReady, enginewire.EventServerStarted, enginewire.EventGameTeamStat} {
		_, ok := projectEngineEvent(testIndex(), enginewire.Event{Kind: kind})
		assert.False(t, ok, "kind %v should map to no update", kind)
	}
}

func TestEngineCrashUpdate_CarriesDetails(t *testing.T) {
	update := engineCrashUpdate("process exited with status 1")
	raw, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"engine_crash","details":"process exited with status 1"}`, string(raw))
}
