package vmsession

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/model"
)

const (
	homePollInterval = time.Second
	homePollAttempts = 60
)

// Session is one open VM connection and the storage directory it owns.
type Session struct {
	ID         uuid.UUID
	VMID       model.VMID
	Title      string
	URL        string
	StorageDir string
	OpenedAt   time.Time

	view      View
	clipboard Clipboard
	log       *zap.Logger
	onClose   func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	pollInterval time.Duration
	mu           sync.Mutex
	homeClicked  bool
	stopPoll     context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Closed is closed once the session has been torn down.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close closes the view and deletes the storage directory. Every call after
// the first returns the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		var err error
		if s.view != nil {
			if cerr := s.view.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close view: %w", cerr))
			}
		}
		if rerr := os.RemoveAll(s.StorageDir); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("remove storage %s: %w", s.StorageDir, rerr))
		}
		s.closeErr = err
		if err != nil {
			s.log.Warn("vm session teardown incomplete", zap.Error(err))
		} else {
			s.log.Info("vm session closed")
		}
		if s.onClose != nil {
			s.onClose(s)
		}
		close(s.closed)
	})
	return s.closeErr
}

// run pumps view events until the view goes away, then tears down.
func (s *Session) run() {
	defer s.Close()
	events := s.view.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case EventLoadFinished:
				s.afterLoad()
			case EventCopy:
				s.copySelection(false)
			case EventCut:
				s.copySelection(true)
			case EventPaste:
				s.paste()
			case EventClosed:
				return
			}
		}
	}
}

func (s *Session) afterLoad() {
	for _, script := range []string{ClearStorageScript, ResizeReloadScript} {
		if _, err := s.view.Eval(s.ctx, script); err != nil {
			s.log.Warn("inject script failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.homeClicked {
		return
	}
	if s.stopPoll != nil {
		s.stopPoll()
	}
	pollCtx, stop := context.WithCancel(s.ctx)
	s.stopPoll = stop
	go s.pollHome(pollCtx)
}

// pollHome clicks the disconnect banner's home button, at most once for the
// whole session.
func (s *Session) pollHome(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for i := 0; i < homePollAttempts; i++ {
		res, err := s.view.Eval(ctx, ClickHomeScript)
		if err == nil && res == "clicked" {
			s.mu.Lock()
			s.homeClicked = true
			s.mu.Unlock()
			s.log.Info("returned vdi session to home")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) copySelection(cut bool) {
	if s.clipboard == nil {
		return
	}
	text, err := s.view.Eval(s.ctx, SelectionScript(cut))
	if err != nil {
		s.log.Warn("read selection failed", zap.Error(err))
		return
	}
	if text == "" {
		return
	}
	if err := s.clipboard.WriteText(text); err != nil {
		s.log.Warn("write clipboard failed", zap.Error(err))
	}
}

func (s *Session) paste() {
	if s.clipboard == nil {
		return
	}
	text, err := s.clipboard.ReadText()
	if err != nil {
		s.log.Warn("read clipboard failed", zap.Error(err))
		return
	}
	if text == "" {
		return
	}
	if _, err := s.view.Eval(s.ctx, PasteScript(text)); err != nil {
		s.log.Warn("paste into view failed", zap.Error(err))
	}
}
