package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeOp 是行级变更的操作类型。
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeTable 标识发生变更的逻辑表。
type ChangeTable string

const (
	TableRooms    ChangeTable = "rooms"
	TableMembers  ChangeTable = "members"
	TableSessions ChangeTable = "sessions"
	TablePlayback ChangeTable = "playback"
	TableMessages ChangeTable = "messages"
)

// ChangeEvent is a row-level change delivered by the ChangeFeed to every subscriber of RoomID.
// New is empty for deletes, Old is empty for inserts.
type ChangeEvent struct {
	Op          ChangeOp        `json:"op"`
	Table       ChangeTable     `json:"table"`
	RoomID      uint            `json:"room_id"`
	New         json.RawMessage `json:"new,omitempty"`
	Old         json.RawMessage `json:"old,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// NewChangeEvent marshals the rows into an event stamped with the current time.
// Either row may be nil.
func NewChangeEvent(op ChangeOp, table ChangeTable, roomID uint, newRow, oldRow interface{}) (ChangeEvent, error) {
	ev := ChangeEvent{Op: op, Table: table, RoomID: roomID, CommittedAt: time.Now().UTC()}
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			return ev, fmt.Errorf("marshal new row for %s: %w", table, err)
		}
		ev.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			return ev, fmt.Errorf("marshal old row for %s: %w", table, err)
		}
		ev.Old = b
	}
	return ev, nil
}

// DecodeNew unmarshals the New row into dst.
func (e ChangeEvent) DecodeNew(dst interface{}) error {
	if len(e.New) == 0 {
		return fmt.Errorf("change event %s/%s has no new row", e.Table, e.Op)
	}
	return json.Unmarshal(e.New, dst)
}

// DecodeOld unmarshals the Old row into dst.
func (e ChangeEvent) DecodeOld(dst interface{}) error {
	if len(e.Old) == 0 {
		return fmt.Errorf("change event %s/%s has no old row", e.Table, e.Op)
	}
	return json.Unmarshal(e.Old, dst)
}
