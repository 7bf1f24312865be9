package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// MachineState is the single live row for a running machine.
type MachineState struct {
	MachineName  string
	ConfigType   string
	CurrentState string
	PID          int
	LastActivity string
	Metadata     map[string]any
}

// UpsertMachineState inserts or updates the row for machineName. Called
// on every state transition (spec.md §3 MachineState lifecycle).
func (s *Store) UpsertMachineState(machineName, configType, currentState string, pid int, metadata map[string]any) error {
	metadataJSON, err := marshalJSON(metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO machine_state (machine_name, config_type, current_state, pid, last_activity, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine_name) DO UPDATE SET
			config_type = excluded.config_type,
			current_state = excluded.current_state,
			pid = excluded.pid,
			last_activity = excluded.last_activity,
			metadata = excluded.metadata
	`, machineName, configType, currentState, pid, nowRFC3339(), metadataJSON)
	if err != nil {
		return fmt.Errorf("upsert machine state: %w", err)
	}

	s.emitRealtimeBestEffort("state_change", machineName, map[string]any{
		"config_type": configType, "current_state": currentState,
	})
	return nil
}

// DeleteMachineState removes the row for machineName, called on clean
// shutdown (spec.md §3 MachineState lifecycle).
func (s *Store) DeleteMachineState(machineName string) error {
	_, err := s.db.Exec(`DELETE FROM machine_state WHERE machine_name = ?`, machineName)
	if err != nil {
		return fmt.Errorf("delete machine state: %w", err)
	}
	s.emitRealtimeBestEffort("shutdown", machineName, nil)
	return nil
}

// GetMachineState fetches the live row for machineName. Absence
// implies the machine is not running (spec.md §3).
func (s *Store) GetMachineState(machineName string) (*MachineState, error) {
	row := s.db.QueryRow(`
		SELECT machine_name, config_type, current_state, pid, last_activity, metadata
		FROM machine_state WHERE machine_name = ?
	`, machineName)
	ms, err := scanMachineState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ms, err
}

// ListMachineStates returns every live machine row, used by the
// Broadcaster to build its "initial" snapshot frame.
func (s *Store) ListMachineStates() ([]*MachineState, error) {
	rows, err := s.db.Query(`
		SELECT machine_name, config_type, current_state, pid, last_activity, metadata
		FROM machine_state ORDER BY machine_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list machine states: %w", err)
	}
	defer rows.Close()

	var states []*MachineState
	for rows.Next() {
		ms, err := scanMachineStateRows(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, ms)
	}
	return states, rows.Err()
}

func scanMachineState(row *sql.Row) (*MachineState, error) {
	var ms MachineState
	var metadataJSON string

	err := row.Scan(&ms.MachineName, &ms.ConfigType, &ms.CurrentState, &ms.PID, &ms.LastActivity, &metadataJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &ms.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal machine metadata: %w", err)
	}
	return &ms, nil
}

func scanMachineStateRows(rows *sql.Rows) (*MachineState, error) {
	var ms MachineState
	var metadataJSON string

	err := rows.Scan(&ms.MachineName, &ms.ConfigType, &ms.CurrentState, &ms.PID, &ms.LastActivity, &metadataJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &ms.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal machine metadata: %w", err)
	}
	return &ms, nil
}
