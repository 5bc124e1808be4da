package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PhoneLength is the number of digits a phone number must have.
const PhoneLength = 11

// ValidPhone reports whether phone is exactly 11 ASCII digits.
func ValidPhone(phone string) bool {
	return len(phone) == PhoneLength && allDigits(phone)
}

// ValidOTP reports whether code is exactly length ASCII digits.
func ValidOTP(code string, length int) bool {
	return len(code) == length && allDigits(code)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Tokens is the credential pair returned by a successful OTP verification.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
}

// UserInfo is the account identity shown on the dashboard.
type UserInfo struct {
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	Balance      json.Number `json:"balance"`
	PointBalance json.Number `json:"point_balance"`
}

// DisplayName joins first and last name.
func (u UserInfo) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// OnlineStatus is the power state of a virtual machine.
type OnlineStatus int

const (
	Offline OnlineStatus = iota
	Online
)

func (s OnlineStatus) String() string {
	if s == Online {
		return "Online"
	}
	return "Offline"
}

// VMID identifies a virtual desktop. The API sends it either as a JSON
// string or as a number.
type VMID string

func (id *VMID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = VMID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("vm id: %w", err)
	}
	*id = VMID(n.String())
	return nil
}

// VirtualMachine is one provisioned desktop as listed on the dashboard.
type VirtualMachine struct {
	ID           VMID
	Title        string
	CPUCores     int
	RAMGB        int
	StorageGB    int
	OSImageTitle string
	PlanTitle    string
	CountryName  string
	StatusTitle  string
	Status       OnlineStatus
}
