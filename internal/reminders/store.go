package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Due is a pending appointment inside the reminder window.
type Due struct {
	AppointmentID int64
	TenantID      string
	ClientID      int64
	At            time.Time
}

// Store reads the reminder window across all tenants. It runs on
// database/sql so the sweep can share the migrate command's driver.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("reminders: db required")
	}
	return &Store{db: db}
}

// PendingBetween returns pending appointments with from <= date < to.
func (s *Store) PendingBetween(ctx context.Context, from, to time.Time) ([]Due, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, client_id, date
		FROM appointments
		WHERE status = 'pending' AND date >= $1 AND date < $2
		ORDER BY date ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("reminders: pending between: %w", err)
	}
	defer rows.Close()

	var out []Due
	for rows.Next() {
		var d Due
		if err := rows.Scan(&d.AppointmentID, &d.TenantID, &d.ClientID, &d.At); err != nil {
			return nil, fmt.Errorf("reminders: scan appointment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: iterate appointments: %w", err)
	}
	return out, nil
}
