// Package repo stores users, OTP sessions and desktops, either in Postgres or
// in memory.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kolbeh/desktop/internal/devapi/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	// UpsertProfile creates the user if needed and sets name and balances.
	UpsertProfile(ctx context.Context, u model.User) (model.User, error)
}

// OtpRepo defines the interface for OTP session repository operations
type OtpRepo interface {
	CreateOrReplaceSession(ctx context.Context, phone, otpHashHex string, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error)
	GetActiveSessionByPhone(ctx context.Context, phone string) (model.OtpSession, error)
	MarkConsumed(ctx context.Context, sessionID uuid.UUID) error
	IncrementAttempt(ctx context.Context, sessionID uuid.UUID) (newAttemptCount int, err error)
	CountRecentRequests(ctx context.Context, phone string, since time.Time) (int, error)
}

// DesktopRepo defines the interface for desktop repository operations
type DesktopRepo interface {
	ListByOwner(ctx context.Context, phone string) ([]model.Desktop, error)
	GetForOwner(ctx context.Context, phone, id string) (model.Desktop, error)
	Upsert(ctx context.Context, d model.Desktop) error
}

// Stores bundles the three repositories.
type Stores struct {
	Users    UserRepo
	OTP      OtpRepo
	Desktops DesktopRepo
}

// NewPostgres returns repositories backed by db.
func NewPostgres(db *sql.DB) Stores {
	return Stores{
		Users:    NewUserRepo(db),
		OTP:      NewOtpRepo(db, DefaultMaxOTPAttempts),
		Desktops: NewDesktopRepo(db),
	}
}

// NewMemory returns repositories that keep everything in process memory.
func NewMemory() Stores {
	return newMemoryStores(DefaultMaxOTPAttempts)
}

func newMemoryStores(maxOTPAttempts int) Stores {
	m := newMemory(maxOTPAttempts)
	return Stores{
		Users:    memUsers{m},
		OTP:      memOTP{m},
		Desktops: memDesktops{m},
	}
}
