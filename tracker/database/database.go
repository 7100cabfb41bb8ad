package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"mimir_tracker/keys"
	"mimir_tracker/tracker/internal/models"
)

const (
	// DefaultPath is where the tracker keeps its database unless
	// TRACKER_DB_PATH says otherwise.
	DefaultPath = "mimir.sqlite"

	// DefaultTTL is granted on every successful registration.
	DefaultTTL uint64 = 86400

	// DegradedTTL is reported when a write did not complete. The wire has
	// no error reply, so a short TTL telling the client to come back soon
	// is the only failure signal a registrant ever sees.
	DegradedTTL uint64 = 300

	// ResolveTTL is exposed for every record on the resolve path
	// regardless of the stored value, forcing clients to re-resolve often.
	ResolveTTL uint64 = 30
)

// Service persists (identity, address) registrations with a TTL.
type Service interface {
	// SaveAddress inserts a new (identity, address) row, or refreshes
	// port, priority and the TTL window of the existing one, and returns
	// the TTL granted.
	SaveAddress(ctx context.Context, rec *models.AddressRecord) uint64

	// GetAddresses returns the live records for an identity in insertion
	// order. Expired rows are skipped, never deleted.
	GetAddresses(ctx context.Context, identity keys.PublicKey) ([]models.AddressRecord, error)

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error
}

type service struct {
	db    *sql.DB
	path  string
	clock clock.Clock
}

// dsn appends WAL mode, synchronous mode and busy timeout parameters to
// the database path.
func dsn(path string) string {
	return fmt.Sprintf("%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
}

// New opens (or creates) the sqlite database at path and ensures the
// schema exists. The returned handle is owned by the caller and injected
// wherever addresses are read or written.
func New(path string) (Service, error) {
	return newService(path, clock.New())
}

func newService(path string, clk clock.Clock) (*service, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		// This will not be a connection error, but a DSN parse error or
		// another initialization error.
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &service{
		db:    db,
		path:  path,
		clock: clk,
	}

	// Create tables with a timeout context
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// createTables creates the necessary database tables if they don't exist
func (s *service) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS clients (
		id BLOB NOT NULL,
		ip BLOB NOT NULL,
		signature BLOB NOT NULL,
		port INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		client INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		ttl INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_id_ip ON clients(id, ip);
	`

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// SaveAddress never surfaces a storage error: a failed write degrades the
// granted TTL to DegradedTTL and the client retries sooner.
func (s *service) SaveAddress(ctx context.Context, rec *models.AddressRecord) uint64 {
	saved, err := s.isAddressSaved(ctx, rec.Identity, rec.Address)
	if err != nil {
		log.Printf("database error checking for existing address: %s", err)
		return DegradedTTL
	}

	rec.RegisteredAt = s.clock.Now()
	rec.TTLSeconds = DefaultTTL

	if !saved {
		err = s.insertAddress(ctx, rec)
	} else {
		err = s.updateAddress(ctx, rec)
	}
	if err != nil {
		log.Printf("database error saving address: %s", err)
		return DegradedTTL
	}

	return DefaultTTL
}

func (s *service) isAddressSaved(ctx context.Context, identity keys.PublicKey, addr netip.Addr) (bool, error) {
	ip := addr.As16()
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM clients WHERE id = ? AND ip = ?`, identity.Raw(), ip[:])

	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *service) insertAddress(ctx context.Context, rec *models.AddressRecord) error {
	query := `INSERT INTO clients (id, ip, signature, port, priority, client, timestamp, ttl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	ip := rec.Address.As16()
	_, err := s.db.ExecContext(ctx, query,
		rec.Identity.Raw(),
		ip[:],
		rec.Signature[:],
		rec.Port,
		rec.Priority,
		rec.ClientTag,
		rec.RegisteredAt.Unix(),
		rec.TTLSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert address: %w", err)
	}

	return nil
}

// updateAddress refreshes port, priority and the TTL window. The stored
// signature and client tag keep their first-registration values.
func (s *service) updateAddress(ctx context.Context, rec *models.AddressRecord) error {
	query := `UPDATE clients SET port = ?, priority = ?, timestamp = ?, ttl = ? WHERE id = ? AND ip = ?`

	ip := rec.Address.As16()
	result, err := s.db.ExecContext(ctx, query,
		rec.Port,
		rec.Priority,
		rec.RegisteredAt.Unix(),
		rec.TTLSeconds,
		rec.Identity.Raw(),
		ip[:],
	)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no address row for identity %x", rec.Identity.Raw())
	}

	return nil
}

// GetAddresses filters expiry at read time: a row whose TTL window has
// passed is left in place and simply not returned.
func (s *service) GetAddresses(ctx context.Context, identity keys.PublicKey) ([]models.AddressRecord, error) {
	query := `SELECT ip, signature, port, priority, client, timestamp, ttl FROM clients WHERE id = ? ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, identity.Raw())
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer rows.Close()

	now := s.clock.Now()
	var records []models.AddressRecord
	for rows.Next() {
		var (
			ip        []byte
			signature []byte
			timestamp int64
		)
		rec := models.AddressRecord{Identity: identity}
		err := rows.Scan(&ip, &signature, &rec.Port, &rec.Priority, &rec.ClientTag, &timestamp, &rec.TTLSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address row: %w", err)
		}

		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			return nil, fmt.Errorf("invalid address bytes %x for identity %x", ip, identity.Raw())
		}
		rec.Address = addr
		copy(rec.Signature[:], signature)
		rec.RegisteredAt = time.Unix(timestamp, 0)

		if !rec.Live(now) {
			continue
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating addresses: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Printf("disconnected from database: %s", s.path)
	return s.db.Close()
}
