// Package model holds the records the stand-in API server stores.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account, created on first successful OTP login
type User struct {
	ID           uuid.UUID
	PhoneNumber  string
	FirstName    string
	LastName     string
	Balance      int64
	PointBalance int64
	CreatedAt    time.Time
}

// OtpSession represents an OTP session for phone verification
type OtpSession struct {
	ID            uuid.UUID
	PhoneNumber   string
	OTPHash       []byte
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
	RequestIP     *string
	UserAgent     *string
}

// Desktop represents a virtual desktop assigned to a phone number
type Desktop struct {
	ID          string
	OwnerPhone  string
	Title       string
	CPU         int
	RAM         int
	Storage     int
	Status      string
	StatusTitle string
	ImageTitle  string
	PlanTitle   string
	CountryName string
	VDIURL      string
}
