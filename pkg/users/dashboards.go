package users

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrDashboardNotFound = errors.New("dashboard not found")

// Dashboard is one named group of endpoints on a user's screen.
type Dashboard struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Position int      `json:"position"`
	Items    []string `json:"items"` // endpoint IDs, display order
}

// CreateDashboard appends a dashboard at the end of the user's list.
func (s *Store) CreateDashboard(userID, name string) (Dashboard, error) {
	var max sql.NullInt64

	d := Dashboard{ID: uuid.NewString(), UserID: userID, Name: name}

	err := s.db.QueryRow(`SELECT MAX(position) FROM dashboards WHERE user_id = ?`, userID).Scan(&max)
	if err != nil {
		return Dashboard{}, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	if max.Valid {
		d.Position = int(max.Int64) + 1
	}

	_, err = s.db.Exec(
		`INSERT INTO dashboards (id, user_id, name, position) VALUES (?, ?, ?, ?)`,
		d.ID, d.UserID, d.Name, d.Position)
	if err != nil {
		return Dashboard{}, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return d, nil
}

// DeleteDashboard removes a dashboard and its items.
func (s *Store) DeleteDashboard(id string) error {
	res, err := s.db.Exec(`DELETE FROM dashboards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDashboardNotFound
	}

	return nil
}

// Dashboards returns a user's dashboards with their items, display order.
func (s *Store) Dashboards(userID string) ([]Dashboard, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, name, position FROM dashboards WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var out []Dashboard

	for rows.Next() {
		var d Dashboard
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Position); err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		items, err := s.dashboardItems(out[i].ID)
		if err != nil {
			return nil, err
		}

		out[i].Items = items
	}

	return out, nil
}

func (s *Store) dashboardItems(dashboardID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT endpoint_id FROM dashboard_items WHERE dashboard_id = ? ORDER BY position`, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		out = append(out, id)
	}

	return out, rows.Err()
}

// AddDashboardItem appends an endpoint to a dashboard, ignoring duplicates.
func (s *Store) AddDashboardItem(dashboardID, endpointID string) error {
	var exists int

	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM dashboard_items WHERE dashboard_id = ? AND endpoint_id = ?`,
		dashboardID, endpointID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	if exists > 0 {
		return nil
	}

	var max sql.NullInt64

	err = s.db.QueryRow(
		`SELECT MAX(position) FROM dashboard_items WHERE dashboard_id = ?`, dashboardID).Scan(&max)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	position := 0
	if max.Valid {
		position = int(max.Int64) + 1
	}

	_, err = s.db.Exec(
		`INSERT INTO dashboard_items (id, dashboard_id, endpoint_id, position) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), dashboardID, endpointID, position)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return nil
}

// RemoveDashboardItem drops an endpoint from a dashboard.
func (s *Store) RemoveDashboardItem(dashboardID, endpointID string) error {
	_, err := s.db.Exec(
		`DELETE FROM dashboard_items WHERE dashboard_id = ? AND endpoint_id = ?`,
		dashboardID, endpointID)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return nil
}

// RemoveEndpointEverywhere purges a deleted endpoint from all dashboards.
func (s *Store) RemoveEndpointEverywhere(endpointID string) error {
	_, err := s.db.Exec(`DELETE FROM dashboard_items WHERE endpoint_id = ?`, endpointID)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToQuery, err)
	}

	return nil
}
