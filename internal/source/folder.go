package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/verdantlab/brokkoli/internal/imaging"
)

// imageExtensions is the recognized extension set, matched
// case-insensitively.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
}

func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// FolderSource watches a directory for image files and delivers the
// most recently modified one, at most once per modification and at
// most once per update interval.
type FolderSource struct {
	name     string
	path     string
	interval time.Duration
	logger   *slog.Logger

	// mu guards the latest-candidate pointer (written by the watch
	// goroutine) and the delivery high-water marks (written by the
	// poll loop).
	mu            sync.Mutex
	candidatePath string
	candidateMod  time.Time
	deliveredMod  time.Time
	lastDelivered time.Time

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFolder creates a folder source, creating the directory if it does
// not exist and seeding the latest-candidate pointer with an initial
// scan. updateInterval is the minimum spacing between two delivered
// frames.
func NewFolder(name, path string, updateInterval time.Duration, logger *slog.Logger) (*FolderSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create source directory %s: %w", path, err)
	}

	s := &FolderSource{
		name:     name,
		path:     path,
		interval: updateInterval,
		logger:   logger.With("source", name),
	}

	s.scan()
	return s, nil
}

// Name returns the configured source name.
func (s *FolderSource) Name() string { return s.name }

// Start begins watching the directory for created and modified image
// files. Events update the latest-candidate pointer; the frame itself
// is only decoded when the poll loop asks for it.
func (s *FolderSource) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop()

	s.logger.Info("folder source started", "path", s.path)
	return nil
}

// watchLoop consumes fsnotify events until the watcher is closed.
func (s *FolderSource) watchLoop() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(ev.Name) {
				continue
			}
			s.updateCandidate(ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("folder watch error", "error", err)
		}
	}
}

// Stop closes the watcher and waits for the watch goroutine to exit.
func (s *FolderSource) Stop() {
	if s.watcher == nil {
		return
	}
	s.watcher.Close()
	<-s.done
	s.watcher = nil
	s.logger.Info("folder source stopped")
}

// Available reports whether the watched directory exists.
func (s *FolderSource) Available() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.IsDir()
}

// LatestFrame returns the newest undelivered frame. It returns nil
// when no candidate exists, the candidate was already delivered since
// its last modification, the update interval has not elapsed, or the
// file fails to decode (logged, retried on the next poll).
func (s *FolderSource) LatestFrame() *Frame {
	s.mu.Lock()
	path := s.candidatePath
	mod := s.candidateMod
	sinceDelivery := time.Since(s.lastDelivered)
	delivered := !s.lastDelivered.IsZero()
	alreadySeen := !mod.After(s.deliveredMod)
	s.mu.Unlock()

	if path == "" {
		return nil
	}
	if delivered && (sinceDelivery < s.interval || alreadySeen) {
		return nil
	}

	img, err := imaging.Decode(path)
	if err != nil {
		s.logger.Warn("frame decode failed", "file", path, "error", err)
		return nil
	}

	s.mu.Lock()
	s.lastDelivered = time.Now()
	s.deliveredMod = mod
	s.mu.Unlock()

	s.logger.Debug("frame delivered", "file", path, "mod_time", mod)
	return &Frame{Image: img, Path: path, ModTime: mod}
}

// Metadata returns source and current-frame information.
func (s *FolderSource) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	md := Metadata{
		SourceName:    s.name,
		SourceType:    "folder",
		FilePath:      s.candidatePath,
		ModTime:       s.candidateMod,
		LastDelivered: s.lastDelivered,
	}
	if s.candidatePath != "" {
		if info, err := os.Stat(s.candidatePath); err == nil {
			md.FileSize = info.Size()
		}
	}
	return md
}

// scan seeds the latest-candidate pointer with the most recently
// modified image file in the directory. Ties keep the incumbent.
func (s *FolderSource) scan() {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		s.logger.Warn("initial scan failed", "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		s.updateCandidate(filepath.Join(s.path, entry.Name()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidatePath != "" {
		s.logger.Info("found latest image", "file", s.candidatePath, "mod_time", s.candidateMod)
	}
}

// updateCandidate makes path the latest candidate if its modification
// time is strictly newer than the current candidate's.
func (s *FolderSource) updateCandidate(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info.ModTime().After(s.candidateMod) {
		s.candidatePath = path
		s.candidateMod = info.ModTime()
		s.logger.Debug("latest image updated", "file", path)
	}
}
