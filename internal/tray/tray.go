// Package tray provides the system tray interface for mudra's local mode.
package tray

import (
	"context"
	"strings"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/stream"
)

// maxTitleLen bounds the transcript menu title.
const maxTitleLen = 48

// Tray represents the system tray application. It is a stream.Listener and
// shows the latest transcript of the session it is attached to.
type Tray struct {
	onToggle func(enabled bool)
	onClear  func()
	onOpenUI func()
	onQuit   func()
	enabled  bool
	last     string
	entries  []string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle      *systray.MenuItem
	menuLastGesture *systray.MenuItem
	menuTranscript  *systray.MenuItem
}

// New creates a new Tray instance with enabled state set to true by default.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback function to be called when recognition is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnClear sets the callback function to be called when the transcript is cleared.
func (t *Tray) OnClear(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClear = fn
}

// OnOpenUI sets the callback function to be called when the web UI menu item is clicked.
func (t *Tray) OnOpenUI(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenUI = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("mudra")
	systray.SetTooltip("mudra sign recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle sign recognition")
	systray.AddSeparator()

	t.menuLastGesture = systray.AddMenuItem(lastTitle(t.last), "Last recognized sign")
	t.menuLastGesture.Disable()
	t.menuTranscript = systray.AddMenuItem(transcriptTitle(t.entries), "Current transcript")
	t.menuTranscript.Disable()
	t.mu.Unlock()

	menuClear := systray.AddMenuItem("Clear transcript", "Start a new sentence")
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open UI...", "Open the web UI in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit mudra")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuClear.ClickedCh:
				t.handleClear()
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpenUI })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleClear() {
	t.call(func() func() { return t.onClear })
	t.SetTranscript("", nil)
}

// call runs the callback returned by get, outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// OnTranscript implements stream.Listener.
func (t *Tray) OnTranscript(_ context.Context, ev stream.Event) {
	t.SetTranscript(ev.Gesture, ev.Transcript)
}

// SetTranscript updates the last gesture and transcript shown in the menu.
func (t *Tray) SetTranscript(last string, entries []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = last
	t.entries = append(t.entries[:0], entries...)

	if t.menuLastGesture != nil {
		t.menuLastGesture.SetTitle(lastTitle(last))
	}
	if t.menuTranscript != nil {
		t.menuTranscript.SetTitle(transcriptTitle(entries))
	}
}

// LastGesture returns the most recently shown gesture.
func (t *Tray) LastGesture() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Recognizing"
	}
	return "○ Paused"
}

func lastTitle(name string) string {
	if name == "" {
		return "Last: none"
	}
	return "Last: " + name
}

// transcriptTitle joins entries, keeping the newest words when it is too long.
func transcriptTitle(entries []string) string {
	if len(entries) == 0 {
		return "Transcript: empty"
	}
	text := strings.Join(entries, " ")
	if len(text) > maxTitleLen {
		text = "…" + text[len(text)-maxTitleLen:]
	}
	return "Transcript: " + text
}
