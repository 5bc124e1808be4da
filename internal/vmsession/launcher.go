// Package vmsession opens VM remote-desktop sessions in isolated browser
// views and guarantees their storage is removed when they end.
package vmsession

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/model"
)

// StoragePrefix starts the name of every session storage directory.
const StoragePrefix = "kolbeh-vm-"

const (
	defaultWidth  = 1024
	defaultHeight = 768
)

// Launcher opens and tracks VM sessions.
type Launcher struct {
	source    URLSource
	views     ViewFactory
	clipboard Clipboard
	root      string
	log       *zap.Logger
	now       func() time.Time

	pollInterval time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewLauncher creates a launcher that allocates storage under root.
func NewLauncher(source URLSource, views ViewFactory, clipboard Clipboard, root string, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	if root == "" {
		root = os.TempDir()
	}
	return &Launcher{
		source:       source,
		views:        views,
		clipboard:    clipboard,
		root:         root,
		log:          log,
		now:          time.Now,
		pollInterval: homePollInterval,
		sessions:     make(map[uuid.UUID]*Session),
	}
}

// Connect fetches a connection URL for vmID, opens a view bound to fresh
// storage and loads the URL. On any failure after storage was allocated the
// storage is removed before returning.
func (l *Launcher) Connect(ctx context.Context, vmID model.VMID, title, accessToken string) (*Session, error) {
	connURL, err := l.source.RequestVMConnectionURL(ctx, accessToken, vmID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	dir := filepath.Join(l.root, storageName(vmID, l.now(), id))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}
	if err := writeOwner(dir); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("mark session storage: %w", err)
	}

	view, err := l.views.Open(ctx, ViewOptions{
		Title:      title,
		StorageDir: dir,
		Width:      defaultWidth,
		Height:     defaultHeight,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("open view: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		VMID:         vmID,
		Title:        title,
		URL:          connURL,
		StorageDir:   dir,
		OpenedAt:     l.now(),
		view:         view,
		clipboard:    l.clipboard,
		log:          l.log.With(zap.String("session", id.String()), zap.String("vm", string(vmID))),
		onClose:      l.forget,
		ctx:          sctx,
		cancel:       cancel,
		pollInterval: l.pollInterval,
		closed:       make(chan struct{}),
	}

	l.mu.Lock()
	l.sessions[id] = s
	l.mu.Unlock()

	go s.run()

	if err := view.Load(ctx, connURL); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("load connection url: %w", err)
	}
	s.log.Info("vm session opened", zap.String("storage", dir))
	return s, nil
}

// Sessions returns the open sessions, oldest first.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	out := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// CloseAll tears down every open session.
func (l *Launcher) CloseAll() error {
	var err error
	for _, s := range l.Sessions() {
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (l *Launcher) forget(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s.ID)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func storageName(vmID model.VMID, at time.Time, id uuid.UUID) string {
	safe := unsafeNameChars.ReplaceAllString(string(vmID), "_")
	if safe == "" {
		safe = "vm"
	}
	return fmt.Sprintf("%s%s-%d-%s", StoragePrefix, safe, at.UnixNano(), strings.SplitN(id.String(), "-", 2)[0])
}

// SweepOrphans removes session storage left under root by runs that did not
// shut down cleanly. Directories whose owning process is still alive are kept,
// so instances sharing root do not lose each other's sessions. It returns how
// many directories it removed.
func SweepOrphans(root string, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	matches, err := filepath.Glob(filepath.Join(root, StoragePrefix+"*"))
	if err != nil {
		return 0, fmt.Errorf("glob session storage: %w", err)
	}
	now := time.Now()
	removed := 0
	var errs error
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if owned(m, info, now) {
			continue
		}
		if err := os.RemoveAll(m); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("removed orphaned vm session storage", zap.Int("count", removed))
	}
	return removed, errs
}
