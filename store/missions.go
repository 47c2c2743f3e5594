package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"missiond/mission"
)

// ErrMissionNotFound is returned when a mission id has no row.
var ErrMissionNotFound = errors.New("mission not found")

// MissionRecord is one persisted mission: its id, robot binding,
// lifecycle flags, and the serialized worker state.
type MissionRecord struct {
	MissionID string
	RobotID   string
	State     *mission.WorkerState
	Finished  bool
	Paused    bool
	UpdatedAt time.Time
}

const missionSelectCols = `mission_id, robot_id, state, finished, paused, updated_at`

func scanMission(row interface{ Scan(...any) error }) (*MissionRecord, error) {
	var r MissionRecord
	var state string
	var finished, paused int
	var updatedAt any
	err := row.Scan(&r.MissionID, &r.RobotID, &state, &finished, &paused, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Finished = finished != 0
	r.Paused = paused != 0
	r.UpdatedAt = parseTime(updatedAt)
	r.State = &mission.WorkerState{}
	if err := json.Unmarshal([]byte(state), r.State); err != nil {
		return nil, fmt.Errorf("mission %s state: %w", r.MissionID, err)
	}
	return &r, nil
}

func scanMissions(rows *sql.Rows) ([]*MissionRecord, error) {
	var recs []*MissionRecord
	for rows.Next() {
		r, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// SaveMission upserts a mission's worker state and flags.
func (db *DB) SaveMission(state *mission.WorkerState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal mission %s state: %w", state.MissionID, err)
	}
	_, err = db.Exec(db.Q(`INSERT INTO missions (mission_id, robot_id, state, finished, paused)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mission_id) DO UPDATE SET
			robot_id=excluded.robot_id,
			state=excluded.state,
			finished=excluded.finished,
			paused=excluded.paused,
			updated_at=datetime('now','localtime')`),
		state.MissionID, state.RobotID, string(blob), boolToInt(state.Finished), boolToInt(state.Paused))
	return err
}

// FetchMission loads one mission by id.
func (db *DB) FetchMission(missionID string) (*MissionRecord, error) {
	row := db.QueryRow(db.Q(`SELECT `+missionSelectCols+` FROM missions WHERE mission_id=?`), missionID)
	rec, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMissionNotFound
	}
	return rec, err
}

// FetchAllMissions lists missions matching the lifecycle flags.
func (db *DB) FetchAllMissions(finished, paused bool) ([]*MissionRecord, error) {
	rows, err := db.Query(db.Q(`SELECT `+missionSelectCols+` FROM missions WHERE finished=? AND paused=? ORDER BY updated_at`),
		boolToInt(finished), boolToInt(paused))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMissions(rows)
}

// FetchRobotActiveMission returns the robot's unfinished mission, or
// nil when the robot is idle. Paused missions still count: the robot
// is reserved until they finish or are aborted.
func (db *DB) FetchRobotActiveMission(robotID string) (*MissionRecord, error) {
	row := db.QueryRow(db.Q(`SELECT `+missionSelectCols+` FROM missions WHERE robot_id=? AND finished=? LIMIT 1`),
		robotID, boolToInt(false))
	rec, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// DeleteMission removes one mission row.
func (db *DB) DeleteMission(missionID string) error {
	_, err := db.Exec(db.Q(`DELETE FROM missions WHERE mission_id=?`), missionID)
	return err
}

// DeleteFinishedMissions clears completed and aborted missions,
// returning how many were removed.
func (db *DB) DeleteFinishedMissions() (int64, error) {
	res, err := db.Exec(db.Q(`DELETE FROM missions WHERE finished=?`), boolToInt(true))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			"2006-01-02 15:04:05",
			time.RFC3339,
			time.RFC3339Nano,
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
