package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/voicetel/appointment-reminder/internal/config"
	"github.com/voicetel/appointment-reminder/internal/models"
)

// ConnectEasyAppointments opens the Easy!Appointments MySQL database.
func ConnectEasyAppointments(cfg config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// EasyAppointmentsSource reads appointments and customers straight from the
// Easy!Appointments schema instead of its REST API.
type EasyAppointmentsSource struct {
	db *sql.DB
}

func NewEasyAppointmentsSource(db *sql.DB) *EasyAppointmentsSource {
	return &EasyAppointmentsSource{db: db}
}

func (s *EasyAppointmentsSource) FetchAppointments(ctx context.Context) ([]models.Appointment, error) {
	query := `
		SELECT
			a.id,
			DATE_FORMAT(a.start_datetime, '%Y-%m-%d %H:%i:%s') AS start,
			COALESCE(a.id_users_customer, 0) AS customer_id
		FROM ea_appointments a
		WHERE a.is_unavailability = 0
			AND a.start_datetime > DATE_SUB(UTC_TIMESTAMP(), INTERVAL 1 DAY)  -- Past appointments are never eligible
		ORDER BY a.start_datetime ASC, a.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("appointments query failed: %w", err)
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		var a models.Appointment
		var start sql.NullString
		if err := rows.Scan(&a.ID, &start, &a.CustomerID); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		a.Start = start.String
		appointments = append(appointments, a)
	}

	return appointments, rows.Err()
}

func (s *EasyAppointmentsSource) FetchCustomers(ctx context.Context) ([]models.Customer, error) {
	query := `
		SELECT
			u.id,
			COALESCE(u.first_name, '') AS first_name,
			COALESCE(u.last_name, '') AS last_name,
			COALESCE(u.email, '') AS email
		FROM ea_users u
		INNER JOIN ea_roles r ON u.id_roles = r.id
		WHERE r.slug = 'customer'
		ORDER BY u.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("customers query failed: %w", err)
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		customers = append(customers, c)
	}

	return customers, rows.Err()
}

func (s *EasyAppointmentsSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
