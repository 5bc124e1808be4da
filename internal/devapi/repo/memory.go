package repo

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kolbeh/desktop/internal/devapi/model"
)

type memory struct {
	mu          sync.Mutex
	now         func() time.Time
	maxAttempts int
	users    map[string]model.User // by phone
	sessions []model.OtpSession
	desktops map[string]model.Desktop // by id
}

func newMemory(maxAttempts int) *memory {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxOTPAttempts
	}
	return &memory{
		now:         time.Now,
		maxAttempts: maxAttempts,
		users:    make(map[string]model.User),
		desktops: make(map[string]model.Desktop),
	}
}

type memUsers struct{ m *memory }

func (r memUsers) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
}

func (r memUsers) GetByPhone(_ context.Context, phone string) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[phone]
	if !ok {
		return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
	}
	return u, nil
}

func (r memUsers) GetOrCreateByPhone(_ context.Context, phone string) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[phone]; ok {
		return u, nil
	}
	u := model.User{ID: uuid.New(), PhoneNumber: phone, CreatedAt: r.m.now()}
	r.m.users[phone] = u
	return u, nil
}

func (r memUsers) UpsertProfile(_ context.Context, in model.User) (model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[in.PhoneNumber]
	if !ok {
		u = model.User{ID: uuid.New(), PhoneNumber: in.PhoneNumber, CreatedAt: r.m.now()}
	}
	u.FirstName = in.FirstName
	u.LastName = in.LastName
	u.Balance = in.Balance
	u.PointBalance = in.PointBalance
	r.m.users[in.PhoneNumber] = u
	return u, nil
}

type memOTP struct{ m *memory }

func (r memOTP) CreateOrReplaceSession(_ context.Context, phone, otpHashHex string, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error) {
	hash, err := hex.DecodeString(otpHashHex)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode otp_hash: %w", err)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := r.m.now()
	for i := range r.m.sessions {
		s := &r.m.sessions[i]
		if s.PhoneNumber == phone && s.ConsumedAt == nil {
			consumed := now
			s.ConsumedAt = &consumed
		}
	}
	s := model.OtpSession{
		ID:          uuid.New(),
		PhoneNumber: phone,
		OTPHash:     hash,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		RequestIP:   requestIP,
		UserAgent:   userAgent,
	}
	r.m.sessions = append(r.m.sessions, s)
	return s.ID, nil
}

func (r memOTP) GetActiveSessionByPhone(_ context.Context, phone string) (model.OtpSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	now := r.m.now()
	for i := len(r.m.sessions) - 1; i >= 0; i-- {
		s := r.m.sessions[i]
		if s.PhoneNumber == phone && s.ConsumedAt == nil && s.ExpiresAt.After(now) && s.AttemptCount < r.m.maxAttempts {
			return s, nil
		}
	}
	return model.OtpSession{}, fmt.Errorf("otp session: %w", ErrNotFound)
}

func (r memOTP) find(id uuid.UUID) *model.OtpSession {
	for i := range r.m.sessions {
		if r.m.sessions[i].ID == id {
			return &r.m.sessions[i]
		}
	}
	return nil
}

func (r memOTP) MarkConsumed(_ context.Context, sessionID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s := r.find(sessionID)
	if s == nil {
		return fmt.Errorf("otp session: %w", ErrNotFound)
	}
	if s.ConsumedAt == nil {
		now := r.m.now()
		s.ConsumedAt = &now
	}
	return nil
}

func (r memOTP) IncrementAttempt(_ context.Context, sessionID uuid.UUID) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s := r.find(sessionID)
	if s == nil {
		return 0, fmt.Errorf("otp session: %w", ErrNotFound)
	}
	now := r.m.now()
	s.AttemptCount++
	s.LastAttemptAt = &now
	if s.AttemptCount >= r.m.maxAttempts && s.ConsumedAt == nil {
		consumed := now
		s.ConsumedAt = &consumed
	}
	return s.AttemptCount, nil
}

func (r memOTP) CountRecentRequests(_ context.Context, phone string, since time.Time) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, s := range r.m.sessions {
		if s.PhoneNumber == phone && !s.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type memDesktops struct{ m *memory }

func (r memDesktops) ListByOwner(_ context.Context, phone string) ([]model.Desktop, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []model.Desktop{}
	for _, d := range r.m.desktops {
		if d.OwnerPhone == phone {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memDesktops) GetForOwner(_ context.Context, phone, id string) (model.Desktop, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.desktops[id]
	if !ok || d.OwnerPhone != phone {
		return model.Desktop{}, fmt.Errorf("desktop %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (r memDesktops) Upsert(_ context.Context, d model.Desktop) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.desktops[d.ID] = d
	return nil
}
