package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolbeh/desktop/internal/devapi/model"
)

// DefaultMaxOTPAttempts is the number of verification attempts a session
// allows before it is consumed.
const DefaultMaxOTPAttempts = 5

const otpColumns = `id, phone_number, otp_hash, expires_at, consumed_at, created_at,
	attempt_count, last_attempt_at, request_ip, user_agent`

// otpLockSpace namespaces the per-phone advisory locks.
const otpLockSpace = 1

type otpRepo struct {
	db          *sql.DB
	maxAttempts int
}

// NewOtpRepo creates a Postgres OtpRepo whose sessions close after
// maxAttempts verifications. Non-positive values use DefaultMaxOTPAttempts.
func NewOtpRepo(db *sql.DB, maxAttempts int) OtpRepo {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxOTPAttempts
	}
	return &otpRepo{db: db, maxAttempts: maxAttempts}
}

func scanOtpSession(row scanner) (model.OtpSession, error) {
	var s model.OtpSession
	var hashHex string
	err := row.Scan(&s.ID, &s.PhoneNumber, &hashHex, &s.ExpiresAt, &s.ConsumedAt, &s.CreatedAt,
		&s.AttemptCount, &s.LastAttemptAt, &s.RequestIP, &s.UserAgent)
	if err != nil {
		return model.OtpSession{}, err
	}
	if s.OTPHash, err = hex.DecodeString(hashHex); err != nil {
		return model.OtpSession{}, fmt.Errorf("decode otp_hash: %w", err)
	}
	return s, nil
}

// inPhoneTx runs fn in a transaction holding the phone's advisory lock.
func (r *otpRepo) inPhoneTx(ctx context.Context, phone string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, otpLockSpace, phone); err != nil {
		return fmt.Errorf("lock phone: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateOrReplaceSession closes the phone's open session, if any, and opens
// a new one. The partial unique index on open sessions backs this up.
func (r *otpRepo) CreateOrReplaceSession(ctx context.Context, phone, otpHashHex string, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.inPhoneTx(ctx, phone, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE otp_sessions SET consumed_at = now() WHERE phone_number = $1 AND consumed_at IS NULL`,
			phone); err != nil {
			return fmt.Errorf("close open session: %w", err)
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO otp_sessions (phone_number, otp_hash, expires_at, request_ip, user_agent)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			phone, otpHashHex, expiresAt, requestIP, userAgent).Scan(&id)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("open otp session: %w", err)
	}
	return id, nil
}

// GetActiveSessionByPhone returns the phone's open session while it is
// unexpired and has attempts left.
func (r *otpRepo) GetActiveSessionByPhone(ctx context.Context, phone string) (model.OtpSession, error) {
	s, err := scanOtpSession(r.db.QueryRowContext(ctx, `
		SELECT `+otpColumns+`
		FROM otp_sessions
		WHERE phone_number = $1 AND consumed_at IS NULL AND expires_at > now() AND attempt_count < $2
		ORDER BY created_at DESC
		LIMIT 1`,
		phone, r.maxAttempts))
	if errors.Is(err, sql.ErrNoRows) {
		return model.OtpSession{}, fmt.Errorf("otp session: %w", ErrNotFound)
	}
	if err != nil {
		return model.OtpSession{}, fmt.Errorf("query otp session: %w", err)
	}
	return s, nil
}

// MarkConsumed closes the session.
func (r *otpRepo) MarkConsumed(ctx context.Context, sessionID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE otp_sessions SET consumed_at = COALESCE(consumed_at, now()) WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("consume otp session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("otp session: %w", ErrNotFound)
	}
	return nil
}

// IncrementAttempt records one verification attempt and returns the new
// count. The attempt that reaches the limit also closes the session.
func (r *otpRepo) IncrementAttempt(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_sessions
		SET attempt_count = attempt_count + 1,
		    last_attempt_at = now(),
		    consumed_at = CASE WHEN attempt_count + 1 >= $2 THEN COALESCE(consumed_at, now()) ELSE consumed_at END
		WHERE id = $1
		RETURNING attempt_count`,
		sessionID, r.maxAttempts).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("otp session: %w", ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("record otp attempt: %w", err)
	}
	return n, nil
}

// CountRecentRequests counts the sessions opened for phone since the given time.
func (r *otpRepo) CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM otp_sessions WHERE phone_number = $1 AND created_at >= $2`,
		phone, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count otp requests: %w", err)
	}
	return n, nil
}
