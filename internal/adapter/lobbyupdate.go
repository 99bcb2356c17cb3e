package adapter

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/beyond-all-reason/autohost-go/internal/enginewire"
	"github.com/beyond-all-reason/autohost-go/internal/multiindex"
)

// UpdateKind tags a LobbyUpdate variant (spec §3 LobbyUpdate).
type UpdateKind string

const (
	UpdateStart          UpdateKind = "start"
	UpdateFinished       UpdateKind = "finished"
	UpdateEngineMessage  UpdateKind = "engine_message"
	UpdateEngineWarning  UpdateKind = "engine_warning"
	UpdateEngineQuit     UpdateKind = "engine_quit"
	UpdateEngineCrash    UpdateKind = "engine_crash"
	UpdatePlayerJoined   UpdateKind = "player_joined"
	UpdatePlayerLeft     UpdateKind = "player_left"
	UpdatePlayerChat     UpdateKind = "player_chat"
	UpdatePlayerDefeated UpdateKind = "player_defeated"
	UpdateLuaMsg         UpdateKind = "luamsg"
)

var leaveReasonNames = map[enginewire.LeaveReason]string{
	enginewire.LeaveLost:   "lost",
	enginewire.LeaveLeft:   "left",
	enginewire.LeaveKicked: "kicked",
}

var chatDestinationNames = map[enginewire.ChatDestination]string{
	enginewire.ChatToPlayer:     "player",
	enginewire.ChatToAllies:     "allies",
	enginewire.ChatToSpectators: "spectators",
	enginewire.ChatToAll:        "all",
}

var luaScriptNames = map[enginewire.LuaScript]string{
	enginewire.LuaScriptUI:    "ui",
	enginewire.LuaScriptGaia:  "gaia",
	enginewire.LuaScriptRules: "rules",
}

var uiModeNames = map[enginewire.UIMode]string{
	enginewire.UIModeNone:       "all",
	enginewire.UIModeAllies:     "allies",
	enginewire.UIModeSpectators: "spectators",
}

// LobbyUpdate is the lobby-facing projection of an EngineEvent, carrying
// userId rather than a raw player number (spec §3 LobbyUpdate). Exactly
// one group of fields is meaningful, selected by Kind; MarshalJSON emits
// only the fields relevant to Kind.
type LobbyUpdate struct {
	Kind UpdateKind

	// start
	GameID   [16]byte
	DemoPath string

	// finished
	WinningAllyTeams []byte

	// engine_message / engine_warning / player_chat
	Text string

	// engine_crash
	Details string

	// player_joined / player_left / player_chat (from) / player_defeated / luamsg
	UserID string

	// player_left
	LeaveReason enginewire.LeaveReason

	// player_chat
	ChatDestination enginewire.ChatDestination
	ToUserID        string
	HasToUserID     bool

	// luamsg
	LuaScript      enginewire.LuaScript
	LuaBytes       []byte
	LuaUIMode      enginewire.UIMode
	HasLuaUIMode   bool
}

func (u LobbyUpdate) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": string(u.Kind)}
	switch u.Kind {
	case UpdateStart:
		out["gameId"] = hex.EncodeToString(u.GameID[:])
		out["demoPath"] = u.DemoPath
	case UpdateFinished:
		teams := make([]int, len(u.WinningAllyTeams))
		for i, t := range u.WinningAllyTeams {
			teams[i] = int(t)
		}
		out["winningAllyTeams"] = teams
	case UpdateEngineMessage, UpdateEngineWarning:
		out["message"] = u.Text
	case UpdateEngineCrash:
		out["details"] = u.Details
	case UpdateEngineQuit:
		// no payload
	case UpdatePlayerJoined, UpdatePlayerDefeated:
		out["userId"] = u.UserID
	case UpdatePlayerLeft:
		out["userId"] = u.UserID
		out["reason"] = leaveReasonNames[u.LeaveReason]
	case UpdatePlayerChat:
		out["userId"] = u.UserID
		out["destination"] = chatDestinationNames[u.ChatDestination]
		out["message"] = u.Text
		if u.HasToUserID {
			out["toUserId"] = u.ToUserID
		}
	case UpdateLuaMsg:
		out["userId"] = u.UserID
		out["script"] = luaScriptNames[u.LuaScript]
		out["bytes"] = base64.StdEncoding.EncodeToString(u.LuaBytes)
		if u.HasLuaUIMode {
			out["uiMode"] = uiModeNames[u.LuaUIMode]
		}
	}
	return json.Marshal(out)
}

// projectEngineEvent implements the EngineEvent → LobbyUpdate projection
// (spec §4.7). It returns ok=false for variants that map to no update
// (PlayerReady, ServerStarted, GameTeamStat — the GameTeamStat silence
// is deliberate, spec §9 open question 2) and for any event whose
// player number cannot be resolved through idx, which the caller must
// log and drop rather than treat as fatal.
func projectEngineEvent(idx *multiindex.Index, ev enginewire.Event) (LobbyUpdate, bool) {
	switch ev.Kind {
	case enginewire.EventServerStartPlaying:
		return LobbyUpdate{Kind: UpdateStart, GameID: ev.GameID, DemoPath: ev.DemoPath}, true

	case enginewire.EventServerQuit:
		return LobbyUpdate{Kind: UpdateEngineQuit}, true

	case enginewire.EventServerGameOver:
		if len(ev.WinningAllyTeams) < 1 {
			return LobbyUpdate{}, false
		}
		return LobbyUpdate{Kind: UpdateFinished, WinningAllyTeams: append([]byte(nil), ev.WinningAllyTeams...)}, true

	case enginewire.EventServerMessage:
		return LobbyUpdate{Kind: UpdateEngineMessage, Text: ev.Text}, true

	case enginewire.EventServerWarning:
		return LobbyUpdate{Kind: UpdateEngineWarning, Text: ev.Text}, true

	case enginewire.EventPlayerJoined:
		userID, ok := idx.UserIDForPlayer(int(ev.JoinedPlayer))
		if !ok {
			return LobbyUpdate{}, false
		}
		return LobbyUpdate{Kind: UpdatePlayerJoined, UserID: userID}, true

	case enginewire.EventPlayerLeft:
		userID, ok := idx.UserIDForPlayer(int(ev.LeftPlayer))
		if !ok {
			return LobbyUpdate{}, false
		}
		return LobbyUpdate{Kind: UpdatePlayerLeft, UserID: userID, LeaveReason: ev.LeftReason}, true

	case enginewire.EventPlayerChat:
		fromID, ok := idx.UserIDForPlayer(int(ev.ChatFrom))
		if !ok {
			return LobbyUpdate{}, false
		}
		update := LobbyUpdate{Kind: UpdatePlayerChat, UserID: fromID, ChatDestination: ev.ChatDestination, Text: ev.ChatText}
		if ev.ChatDestination == enginewire.ChatToPlayer {
			toID, ok := idx.UserIDForPlayer(int(ev.ChatToPlayer))
			if !ok {
				return LobbyUpdate{}, false
			}
			update.ToUserID = toID
			update.HasToUserID = true
		}
		return update, true

	case enginewire.EventPlayerDefeated:
		userID, ok := idx.UserIDForPlayer(int(ev.DefeatedPlayer))
		if !ok {
			return LobbyUpdate{}, false
		}
		return LobbyUpdate{Kind: UpdatePlayerDefeated, UserID: userID}, true

	case enginewire.EventGameLuaMsg:
		userID, ok := idx.UserIDForPlayer(int(ev.LuaPlayer))
		if !ok {
			return LobbyUpdate{}, false
		}
		update := LobbyUpdate{Kind: UpdateLuaMsg, UserID: userID, LuaScript: ev.LuaScript, LuaBytes: ev.LuaBytes}
		if ev.LuaScript == enginewire.LuaScriptUI {
			update.LuaUIMode = ev.LuaUIMode
			update.HasLuaUIMode = true
		}
		return update, true

	case enginewire.EventPlayerReady, enginewire.EventServerStarted, enginewire.EventGameTeamStat:
		return LobbyUpdate{}, false

	default:
		return LobbyUpdate{}, false
	}
}

func engineCrashUpdate(details string) LobbyUpdate {
	return LobbyUpdate{Kind: UpdateEngineCrash, Details: details}
}
