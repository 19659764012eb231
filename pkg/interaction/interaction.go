// Package interaction implements C6: it carries UI events into the engine's
// per-frame pre-step. Coordinates are in the frame's pixel space; the UI is
// responsible for mapping viewport to frame before sending.
package interaction

import "sync/atomic"

// cursor is the latest mouse position, read every tick.
type cursor struct {
	x, y int
	set  bool
}

// click is a consume-once coordinate pair.
type click struct {
	x, y int
}

// Router exposes the three accessors named in §4.5: cursor_pos() (latest),
// take_pending_click() (consume-once), take_pending_command()
// (consume-once). Each is backed by an atomic slot rather than a channel —
// the UI bridge (C10) can overwrite a not-yet-consumed click or command
// without blocking, matching the latest-wins discipline used throughout the
// rest of the pipeline.
type Router struct {
	cursorPos     atomic.Pointer[cursor]
	pendingClick  atomic.Pointer[click]
	pendingCmd    atomic.Pointer[string]
}

// New constructs an empty Router.
func New() *Router {
	return &Router{}
}

// MouseMove records the latest cursor position.
func (r *Router) MouseMove(x, y int) {
	r.cursorPos.Store(&cursor{x: x, y: y, set: true})
}

// Click records a pending click, overwriting any not-yet-consumed one.
func (r *Router) Click(x, y int) {
	r.pendingClick.Store(&click{x: x, y: y})
}

// StopTracking queues a StopTracking command.
func (r *Router) StopTracking() {
	r.setCommand("StopTracking")
}

// ReselectObject queues a ReselectObject command.
func (r *Router) ReselectObject() {
	r.setCommand("ReselectObject")
}

func (r *Router) setCommand(cmd string) {
	c := cmd
	r.pendingCmd.Store(&c)
}

// CursorPos returns the latest cursor position, or ok=false if none has ever
// been reported.
func (r *Router) CursorPos() (int, int, bool) {
	c := r.cursorPos.Load()
	if c == nil || !c.set {
		return 0, 0, false
	}
	return c.x, c.y, true
}

// TakePendingClick consumes and clears the pending click, if any.
func (r *Router) TakePendingClick() (int, int, bool) {
	c := r.pendingClick.Swap(nil)
	if c == nil {
		return 0, 0, false
	}
	return c.x, c.y, true
}

// TakePendingCommand consumes and clears the pending command, if any.
func (r *Router) TakePendingCommand() (string, bool) {
	c := r.pendingCmd.Swap(nil)
	if c == nil {
		return "", false
	}
	return *c, true
}
