package enginewire

import (
	"encoding/binary"
	"fmt"
)

// Message type bytes (spec §6.1). All multi-byte integers on the wire
// are little-endian.
const (
	msgServerStarted     = 0
	msgServerQuit        = 1
	msgServerStartPlaying = 2
	msgServerGameOver    = 3
	msgServerMessage     = 4
	msgServerWarning     = 5
	msgPlayerJoined      = 10
	msgPlayerLeft        = 11
	msgPlayerReady       = 12
	msgPlayerChat        = 13
	msgPlayerDefeated    = 14
	msgGameLuaMsg        = 20
	msgGameTeamStat      = 60
)

const luaMsgMagic = 50

// gameTeamStatSize is the total datagram length for GAME_TEAMSTAT: 1
// type byte + 1 team byte + 20 fixed 4-byte fields (spec §6.1).
const gameTeamStatSize = 1 + 1 + 20*4

// DecodeError reports why a datagram failed to decode. Decode failures
// are never fatal (spec §4.1): callers log and drop the datagram.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "enginewire: decode: " + e.Reason }

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Decode parses a single UDP datagram into an Event, or returns a
// *DecodeError describing why it was rejected (spec §4.1, §6.1).
func Decode(datagram []byte) (Event, error) {
	if len(datagram) < 1 {
		return Event{}, decodeErrorf("empty datagram")
	}

	msgType := datagram[0]
	body := datagram[1:]
	n := len(datagram)

	switch msgType {
	case msgServerStarted:
		if n != 1 {
			return Event{}, decodeErrorf("SERVER_STARTED: want len 1, got %d", n)
		}
		return Event{Kind: EventServerStarted}, nil

	case msgServerQuit:
		if n != 1 {
			return Event{}, decodeErrorf("SERVER_QUIT: want len 1, got %d", n)
		}
		return Event{Kind: EventServerQuit}, nil

	case msgServerStartPlaying:
		if n < 21 {
			return Event{}, decodeErrorf("SERVER_STARTPLAYING: want len >= 21, got %d", n)
		}
		msgSize := binary.LittleEndian.Uint32(body[0:4])
		if int(msgSize) != n {
			return Event{}, decodeErrorf("SERVER_STARTPLAYING: msgSize %d != datagram len %d", msgSize, n)
		}
		var gameID [16]byte
		copy(gameID[:], body[4:20])
		demoPath := string(body[20:])
		return Event{Kind: EventServerStartPlaying, GameID: gameID, DemoPath: demoPath}, nil

	case msgServerGameOver:
		if n < 3 {
			return Event{}, decodeErrorf("SERVER_GAMEOVER: want len >= 3, got %d", n)
		}
		msgSize := body[0]
		if int(msgSize) != n {
			return Event{}, decodeErrorf("SERVER_GAMEOVER: msgSize %d != datagram len %d", msgSize, n)
		}
		player := body[1]
		winningAllyTeams := append([]byte(nil), body[2:]...)
		if len(winningAllyTeams) < 1 {
			return Event{}, decodeErrorf("SERVER_GAMEOVER: winningAllyTeams must have length >= 1")
		}
		return Event{Kind: EventServerGameOver, GameOverPlayer: player, WinningAllyTeams: winningAllyTeams}, nil

	case msgServerMessage:
		return Event{Kind: EventServerMessage, Text: string(body)}, nil

	case msgServerWarning:
		return Event{Kind: EventServerWarning, Text: string(body)}, nil

	case msgPlayerJoined:
		if n < 3 {
			return Event{}, decodeErrorf("PLAYER_JOINED: want len >= 3, got %d", n)
		}
		return Event{Kind: EventPlayerJoined, JoinedPlayer: body[0], JoinedName: string(body[1:])}, nil

	case msgPlayerLeft:
		if n != 3 {
			return Event{}, decodeErrorf("PLAYER_LEFT: want len 3, got %d", n)
		}
		reason := LeaveReason(body[1])
		if reason > LeaveKicked {
			return Event{}, decodeErrorf("PLAYER_LEFT: reason %d out of range", reason)
		}
		return Event{Kind: EventPlayerLeft, LeftPlayer: body[0], LeftReason: reason}, nil

	case msgPlayerReady:
		if n != 3 {
			return Event{}, decodeErrorf("PLAYER_READY: want len 3, got %d", n)
		}
		state := ReadyState(body[1])
		if state > 3 {
			return Event{}, decodeErrorf("PLAYER_READY: state %d out of range", state)
		}
		return Event{Kind: EventPlayerReady, ReadyPlayer: body[0], ReadyState: state}, nil

	case msgPlayerChat:
		if n < 3 {
			return Event{}, decodeErrorf("PLAYER_CHAT: want len >= 3, got %d", n)
		}
		from := body[0]
		destByte := body[1]
		text := string(body[2:])

		ev := Event{Kind: EventPlayerChat, ChatFrom: from, ChatText: text}
		switch {
		case destByte <= 251:
			ev.ChatDestination = ChatToPlayer
			ev.ChatToPlayer = destByte
		case destByte == chatDestAllies:
			ev.ChatDestination = ChatToAllies
		case destByte == chatDestSpectators:
			ev.ChatDestination = ChatToSpectators
		case destByte == chatDestAll:
			ev.ChatDestination = ChatToAll
		default:
			return Event{}, decodeErrorf("PLAYER_CHAT: destination %d out of range", destByte)
		}
		return ev, nil

	case msgPlayerDefeated:
		if n != 2 {
			return Event{}, decodeErrorf("PLAYER_DEFEATED: want len 2, got %d", n)
		}
		return Event{Kind: EventPlayerDefeated, DefeatedPlayer: body[0]}, nil

	case msgGameLuaMsg:
		if n < 8 {
			return Event{}, decodeErrorf("GAME_LUAMSG: want len >= 8, got %d", n)
		}
		magic := body[0]
		if magic != luaMsgMagic {
			return Event{}, decodeErrorf("GAME_LUAMSG: bad magic %d", magic)
		}
		innerSize := binary.LittleEndian.Uint16(body[1:3])
		if int(innerSize) != n-1 {
			return Event{}, decodeErrorf("GAME_LUAMSG: innerSize %d != len-1 %d", innerSize, n-1)
		}
		player := body[3]
		script := LuaScript(binary.LittleEndian.Uint16(body[4:6]))
		if script != LuaScriptUI && script != LuaScriptGaia && script != LuaScriptRules {
			return Event{}, decodeErrorf("GAME_LUAMSG: unknown script id %d", script)
		}
		uiMode := UIMode(body[6])
		if script == LuaScriptUI {
			if uiMode != UIModeNone && uiMode != UIModeAllies && uiMode != UIModeSpectators {
				return Event{}, decodeErrorf("GAME_LUAMSG: invalid uiMode %d for UI script", uiMode)
			}
		} else if uiMode != UIModeNone {
			return Event{}, decodeErrorf("GAME_LUAMSG: uiMode must be 0 for non-UI script, got %d", uiMode)
		}
		data := append([]byte(nil), body[7:]...)
		return Event{Kind: EventGameLuaMsg, LuaPlayer: player, LuaScript: script, LuaUIMode: uiMode, LuaBytes: data}, nil

	case msgGameTeamStat:
		if n != gameTeamStatSize {
			return Event{}, decodeErrorf("GAME_TEAMSTAT: want len %d, got %d", gameTeamStatSize, n)
		}
		stat := TeamStat{Team: body[0]}
		fields := body[1:]
		for i := 0; i < 10; i++ {
			stat.Ints[i] = int32(binary.LittleEndian.Uint32(fields[i*4 : i*4+4]))
		}
		for i := 0; i < 10; i++ {
			off := 40 + i*4
			bits := binary.LittleEndian.Uint32(fields[off : off+4])
			stat.Floats[i] = float32FromBits(bits)
		}
		return Event{Kind: EventGameTeamStat, TeamStat: stat}, nil

	default:
		return Event{}, decodeErrorf("unknown message type 0x%02x", msgType)
	}
}
