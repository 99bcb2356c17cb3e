// Package multiindex implements the bijective three-field index used to
// map between userId, display name and player number within one battle
// (spec §3 PlayerIdentity, §4.9).
package multiindex

import (
	"fmt"
	"sync"
)

// Record is one PlayerIdentity triple.
type Record struct {
	UserID       string
	DisplayName  string
	PlayerNumber int
}

// Index is a bijective map over Record, keyed independently by each of
// the three fields. Safe for concurrent use.
type Index struct {
	mu        sync.Mutex
	byUserID  map[string]Record
	byName    map[string]Record
	byPlayer  map[int]Record
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byUserID: make(map[string]Record),
		byName:   make(map[string]Record),
		byPlayer: make(map[int]Record),
	}
}

// Set inserts rec. It is a no-op if rec is already present in full under
// all three keys, and an error if any single field collides with a
// different record (a partial collision).
func (idx *Index) Set(rec Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existingByUser, hasUser := idx.byUserID[rec.UserID]
	existingByName, hasName := idx.byName[rec.DisplayName]
	existingByPlayer, hasPlayer := idx.byPlayer[rec.PlayerNumber]

	if hasUser && hasName && hasPlayer && existingByUser == rec && existingByName == rec && existingByPlayer == rec {
		return nil
	}

	if hasUser && existingByUser != rec {
		return fmt.Errorf("userId %q already mapped to a different record", rec.UserID)
	}
	if hasName && existingByName != rec {
		return fmt.Errorf("displayName %q already mapped to a different record", rec.DisplayName)
	}
	if hasPlayer && existingByPlayer != rec {
		return fmt.Errorf("playerNumber %d already mapped to a different record", rec.PlayerNumber)
	}

	idx.byUserID[rec.UserID] = rec
	idx.byName[rec.DisplayName] = rec
	idx.byPlayer[rec.PlayerNumber] = rec
	return nil
}

// Field identifies which key of Record to look up by.
type Field int

const (
	ByUserID Field = iota
	ByDisplayName
	ByPlayerNumber
)

// Get looks up a record by one of its three fields. value must be a
// string for ByUserID/ByDisplayName or an int for ByPlayerNumber.
func (idx *Index) Get(field Field, value any) (Record, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	switch field {
	case ByUserID:
		rec, ok := idx.byUserID[value.(string)]
		return rec, ok
	case ByDisplayName:
		rec, ok := idx.byName[value.(string)]
		return rec, ok
	case ByPlayerNumber:
		rec, ok := idx.byPlayer[value.(int)]
		return rec, ok
	default:
		return Record{}, false
	}
}

// Has reports whether value is present under field.
func (idx *Index) Has(field Field, value any) bool {
	_, ok := idx.Get(field, value)
	return ok
}

// Delete removes the record keyed by field/value, if any.
func (idx *Index) Delete(field Field, value any) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, ok := idx.lookupLocked(field, value)
	if !ok {
		return
	}
	delete(idx.byUserID, rec.UserID)
	delete(idx.byName, rec.DisplayName)
	delete(idx.byPlayer, rec.PlayerNumber)
}

func (idx *Index) lookupLocked(field Field, value any) (Record, bool) {
	switch field {
	case ByUserID:
		rec, ok := idx.byUserID[value.(string)]
		return rec, ok
	case ByDisplayName:
		rec, ok := idx.byName[value.(string)]
		return rec, ok
	case ByPlayerNumber:
		rec, ok := idx.byPlayer[value.(int)]
		return rec, ok
	default:
		return Record{}, false
	}
}

// Size returns the number of records currently indexed.
func (idx *Index) Size() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.byUserID)
}

// UserIDForPlayer is a convenience lookup used by the EngineEvent →
// LobbyUpdate projection (spec §4.7) to resolve a player number to the
// stable userId the lobby understands.
func (idx *Index) UserIDForPlayer(player int) (string, bool) {
	rec, ok := idx.Get(ByPlayerNumber, player)
	return rec.UserID, ok
}

// NameForUserID is the convenience lookup used to translate userId to
// the in-engine display name for kick/mute/spec commands (spec §4.7).
func (idx *Index) NameForUserID(userID string) (string, bool) {
	rec, ok := idx.Get(ByUserID, userID)
	return rec.DisplayName, ok
}
