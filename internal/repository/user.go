package repository

import (
	"database/sql"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// UserRepository provides persistence methods for the users table. Users
// are the identity boundary: the engine only ever sees their usernames.
type UserRepository struct {
	db    dbtx
	clock core.Clock
}

func NewUserRepository(db *sql.DB, clock core.Clock) *UserRepository {
	return &UserRepository{db: db, clock: clock}
}

const userColumns = ` id, username, password, admin, session_id, api_key, session_expiry, created, enabled `

// Save inserts a new user and returns its generated id.
// It will set Created to now if it's not provided (null or zero).
func (r *UserRepository) Save(u *domain.User) (int64, error) {
	if !u.Created.Valid {
		u.Created = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}

	base := `
        INSERT INTO users (username, password, admin, session_id, api_key, session_expiry, created, enabled)
        VALUES (` + placeholder(1) + `,` + placeholder(2) + `,` + placeholder(3) + `,` + placeholder(4) + `,` + placeholder(5) + `,` + placeholder(6) + `,` + placeholder(7) + `,` + placeholder(8) + `)
    `
	id, err := insertReturningID(r.db, base,
		u.Username,
		u.Password,
		u.Admin,
		u.SessionID,
		u.ApiKey,
		formatDateInDatabaseNull(u.SessionExpiry),
		formatDateInDatabaseNull(u.Created),
		u.Enabled,
	)
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.Admin,
		&u.SessionID,
		&u.ApiKey,
		&u.SessionExpiry,
		&u.Created,
		&u.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByUsername fetches a user by exact username. Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(username string) (*domain.User, error) {
	query := `
        SELECT ` + userColumns + `
        FROM users
        WHERE username = ` + placeholder(1) + `
        LIMIT 1
    `
	return r.scanUser(r.db.QueryRow(query, username))
}

func (r *UserRepository) FindById(id int64) (*domain.User, error) {
	query := `
        SELECT ` + userColumns + `
        FROM users
        WHERE id = ` + placeholder(1) + `
        LIMIT 1
    `
	return r.scanUser(r.db.QueryRow(query, id))
}

// FindBySessionID fetches a user by session_id and ensures session_expiry is in the future.
func (r *UserRepository) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	query := `
        SELECT ` + userColumns + `
        FROM users
        WHERE session_id = ` + placeholder(1) + ` AND session_expiry > ` + placeholder(2) + `
        LIMIT 1
    `
	return r.scanUser(r.db.QueryRow(query, sessionID, now))
}

// FindByApiKey fetches a user by api_key (exact match). Returns (nil, nil) if not found.
func (r *UserRepository) FindByApiKey(apiKey string) (*domain.User, error) {
	query := `
        SELECT ` + userColumns + `
        FROM users
        WHERE api_key = ` + placeholder(1) + `
        LIMIT 1
    `
	return r.scanUser(r.db.QueryRow(query, apiKey))
}

// FindAll returns all users ordered by id ascending.
func (r *UserRepository) FindAll() (*[]domain.User, error) {
	query := `
        SELECT ` + userColumns + `
        FROM users
        ORDER BY id ASC
    `
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.Password,
			&u.Admin,
			&u.SessionID,
			&u.ApiKey,
			&u.SessionExpiry,
			&u.Created,
			&u.Enabled,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &users, nil
}

// UpdateSession sets session_id and session_expiry for a user by id.
func (r *UserRepository) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	query := `
        UPDATE users
        SET session_id = ` + placeholder(1) + `, session_expiry = ` + placeholder(2) + `
        WHERE id = ` + placeholder(3) + `
    `
	_, err := r.db.Exec(query, sessionID, formatDateInDatabase(expiry), userID)
	return err
}

// ClearSessionBySessionID nulls session_id and session_expiry for the user with the given current session_id.
func (r *UserRepository) ClearSessionBySessionID(sessionID string) error {
	query := `
        UPDATE users
        SET session_id = NULL, session_expiry = NULL
        WHERE session_id = ` + placeholder(1) + `
    `
	_, err := r.db.Exec(query, sessionID)
	return err
}

// UpdateUser updates mutable account fields by id.
func (r *UserRepository) UpdateUser(id int64, username string, apiKey sql.NullString, admin sql.NullBool, enabled sql.NullBool) error {
	query := `
        UPDATE users
        SET username = ` + placeholder(1) + `, api_key = ` + placeholder(2) + `, admin = ` + placeholder(3) + `, enabled = ` + placeholder(4) + `
        WHERE id = ` + placeholder(5) + `
    `
	_, err := r.db.Exec(query, username, apiKey, admin, enabled, id)
	return err
}

func (r *UserRepository) DeleteById(id int64) error {
	query := `DELETE FROM users WHERE id = ` + placeholder(1)
	_, err := r.db.Exec(query, id)
	return err
}
