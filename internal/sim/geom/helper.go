package geom

import "time"

// Clock reports the current simulation time.
type Clock interface {
	Now() time.Duration
}

// Helper extrapolates a position from the last committed position, a constant
// velocity and the time elapsed since the last commit. A new Helper is paused.
type Helper struct {
	clock Clock

	pos    Vec2
	vel    Vec2
	last   time.Duration
	paused bool
}

// HelperState is the serialisable form of a Helper.
type HelperState struct {
	Position   Vec2          `json:"position"`
	Velocity   Vec2          `json:"velocity"`
	LastUpdate time.Duration `json:"last_update"`
	Paused     bool          `json:"paused"`
}

func NewHelper(clock Clock) *Helper {
	return &Helper{clock: clock, last: clock.Now(), paused: true}
}

// Update commits the extrapolation up to now.
func (h *Helper) Update() {
	now := h.clock.Now()
	dt := now - h.last
	h.last = now
	if h.paused {
		return
	}
	h.pos = h.pos.After(dt, h.vel)
}

// UpdateWithBounds commits the extrapolation and clamps it into r.
func (h *Helper) UpdateWithBounds(r Rectangle) {
	h.Update()
	h.pos = r.Clamp(h.pos)
}

// CurrentPosition is the last committed position.
func (h *Helper) CurrentPosition() Vec2 { return h.pos }

// PositionAt extrapolates to now without committing.
func (h *Helper) PositionAt(now time.Duration) Vec2 {
	if h.paused {
		return h.pos
	}
	return h.pos.After(now-h.last, h.vel)
}

func (h *Helper) SetPosition(p Vec2) {
	h.pos = p
	h.last = h.clock.Now()
}

// SetVelocity replaces the velocity without committing the elapsed motion.
func (h *Helper) SetVelocity(v Vec2) {
	h.vel = v
	h.last = h.clock.Now()
}

// Velocity is zero while paused.
func (h *Helper) Velocity() Vec2 {
	if h.paused {
		return Vec2{}
	}
	return h.vel
}

func (h *Helper) Pause() {
	h.Update()
	h.paused = true
}

func (h *Helper) Unpause() {
	h.Update()
	h.paused = false
}

func (h *Helper) State() HelperState {
	return HelperState{Position: h.pos, Velocity: h.vel, LastUpdate: h.last, Paused: h.paused}
}

func (h *Helper) Restore(st HelperState) {
	h.pos = st.Position
	h.vel = st.Velocity
	h.last = st.LastUpdate
	h.paused = st.Paused
}
