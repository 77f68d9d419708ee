package positions

import (
	"fmt"

	"RegimeDuel/internal/domain/models"
)

type slot struct {
	used bool
	pos  models.Position
}

// Pool is a fixed-capacity store of open positions with a free list.
// At most one shadow and one live position exist per (instrument, agent).
type Pool struct {
	slots  []slot
	free   []int
	handle map[string]int
}

// New allocates a pool of the given capacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		slots:  make([]slot, capacity),
		free:   make([]int, 0, capacity),
		handle: make(map[string]int, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Open stores a position. The handle must be unique and non-empty.
func (p *Pool) Open(pos models.Position) error {
	if pos.Handle == "" {
		return fmt.Errorf("open position: empty handle: %w", models.ErrInvalidInput)
	}
	if _, ok := p.handle[pos.Handle]; ok {
		return fmt.Errorf("open position %s: duplicate handle: %w", pos.Handle, models.ErrInvalidInput)
	}
	if _, ok := p.Find(pos.Instrument, pos.Agent, pos.Shadow); ok {
		return fmt.Errorf("open position %s/%s shadow=%v: slot taken: %w", pos.Instrument, pos.Agent, pos.Shadow, models.ErrInvalidInput)
	}
	if len(p.free) == 0 {
		return models.ErrPoolFull
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.slots[i] = slot{used: true, pos: pos}
	p.handle[pos.Handle] = i
	return nil
}

// Rehandle moves a position to a new handle, e.g. a broker id replacing a
// provisional reservation.
func (p *Pool) Rehandle(old, handle string) error {
	i, ok := p.handle[old]
	if !ok {
		return fmt.Errorf("rehandle %s: %w", old, models.ErrUnknownHandle)
	}
	if handle == "" {
		return fmt.Errorf("rehandle %s: empty handle: %w", old, models.ErrInvalidInput)
	}
	if _, taken := p.handle[handle]; taken && handle != old {
		return fmt.Errorf("rehandle %s: duplicate handle %s: %w", old, handle, models.ErrInvalidInput)
	}
	delete(p.handle, old)
	p.handle[handle] = i
	p.slots[i].pos.Handle = handle
	return nil
}

// Get returns the position for a handle. The pointer stays valid until Release.
func (p *Pool) Get(handle string) (*models.Position, bool) {
	i, ok := p.handle[handle]
	if !ok {
		return nil, false
	}
	return &p.slots[i].pos, true
}

// Find looks up the position held by an agent on an instrument.
func (p *Pool) Find(instrument string, agent models.AgentKind, shadow bool) (*models.Position, bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if s.used && s.pos.Instrument == instrument && s.pos.Agent == agent && s.pos.Shadow == shadow {
			return &s.pos, true
		}
	}
	return nil, false
}

// Release removes a position and returns its final value.
func (p *Pool) Release(handle string) (models.Position, error) {
	i, ok := p.handle[handle]
	if !ok {
		return models.Position{}, fmt.Errorf("release %s: %w", handle, models.ErrUnknownHandle)
	}
	pos := p.slots[i].pos
	p.slots[i] = slot{}
	delete(p.handle, handle)
	p.free = append(p.free, i)
	return pos, nil
}

// Each visits open positions in slot order. fn must not open or release.
func (p *Pool) Each(fn func(*models.Position)) {
	for i := range p.slots {
		if p.slots[i].used {
			fn(&p.slots[i].pos)
		}
	}
}

// Handles returns the handles of positions matching the filter, in slot order.
func (p *Pool) Handles(match func(*models.Position) bool) []string {
	var out []string
	p.Each(func(pos *models.Position) {
		if match == nil || match(pos) {
			out = append(out, pos.Handle)
		}
	})
	return out
}

// Len is the number of open positions.
func (p *Pool) Len() int { return len(p.handle) }

// Cap is the fixed capacity.
func (p *Pool) Cap() int { return len(p.slots) }
