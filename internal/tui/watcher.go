package tui

import (
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/overture/internal/logging"
	"github.com/kingrea/overture/internal/workspace"
)

type sessionChangedMsg struct {
	sessionID string
}

// sessionWatcher coalesces file events in a session directory into at most
// one pending change notification.
type sessionWatcher struct {
	sessionID string
	watcher   *fsnotify.Watcher
	changes   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func watchSession(ws *workspace.Workspace, sessionID string, logger logging.Logger) (*sessionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := ws.SessionDir(sessionID)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	sw := &sessionWatcher{
		sessionID: sessionID,
		watcher:   w,
		changes:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go sw.loop(logger)
	return sw, nil
}

func (sw *sessionWatcher) loop(logger logging.Logger) {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			select {
			case sw.changes <- struct{}{}:
			default:
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("session watcher error", "session", sw.sessionID, "error", err)
		}
	}
}

// relevant reports whether the event touched the index or the journal. The
// index is replaced by rename, so creates count as writes.
func relevant(event fsnotify.Event) bool {
	switch filepath.Base(event.Name) {
	case workspace.FileIndex, workspace.FileJournal:
		return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
	}
	return false
}

// wait blocks until the next change and delivers it as a message.
func (sw *sessionWatcher) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-sw.changes:
			return sessionChangedMsg{sessionID: sw.sessionID}
		case <-sw.done:
			return nil
		}
	}
}

func (sw *sessionWatcher) Close() {
	sw.closeOnce.Do(func() {
		close(sw.done)
		sw.watcher.Close()
	})
}
