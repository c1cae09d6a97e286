package registry

import (
	"context"
	"sync"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"go.uber.org/zap"
)

// DefaultScale is the display scale applied to every attached piece model.
const DefaultScale = 0.25

// Handle identifies a visual object in the scene.
type Handle string

// Scene receives visual updates for piece entities.
type Scene interface {
	Attach(h Handle, p board.Piece, model string, scale float64)
	Place(h Handle, pos board.Position, visible bool)
}

// Entity is a logical piece on the board. Entities are never destroyed;
// hidden ones are recycled by later refreshes.
type Entity struct {
	ID      int
	Role    board.Role
	Color   board.Color
	Pos     board.Position
	Visible bool

	matched bool
	handle  Handle
}

// Piece returns the role/color pair of the entity.
func (e *Entity) Piece() board.Piece { return board.Piece{Role: e.Role, Color: e.Color} }

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithScale(s float64) Option {
	return func(r *Registry) {
		if s > 0 {
			r.scale = s
		}
	}
}

// Registry tracks piece entities and their visual handles. Mutations happen on
// the caller's goroutine; handle resolution completes asynchronously.
type Registry struct {
	mu       sync.Mutex
	entities []*Entity
	byHandle map[Handle]*Entity
	nextID   int

	loader AssetLoader
	scene  Scene
	scale  float64
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(loader AssetLoader, scene Scene, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		byHandle: make(map[Handle]*Entity),
		loader:   loader,
		scene:    scene,
		scale:    DefaultScale,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset clears the matched flag on every entity.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		e.matched = false
	}
}

// GetOrCreate reuses an unmatched entity of the same role and color or creates
// a new one at pos. An entity already standing on pos is preferred, otherwise
// the first unmatched one is taken. The returned entity is matched and visible.
func (r *Registry) GetOrCreate(role board.Role, color board.Color, pos board.Position) *Entity {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reuse *Entity
	for _, e := range r.entities {
		if e.matched || e.Role != role || e.Color != color {
			continue
		}
		if e.Pos == pos && e.Visible {
			reuse = e
			break
		}
		if reuse == nil {
			reuse = e
		}
	}
	if reuse != nil {
		reuse.Pos = pos
		reuse.matched = true
		reuse.Visible = true
		r.placeLocked(reuse)
		return reuse
	}

	r.nextID++
	e := &Entity{ID: r.nextID, Role: role, Color: color, Pos: pos, Visible: true, matched: true}
	r.entities = append(r.entities, e)
	r.wg.Add(1)
	go r.load(e)
	return e
}

func (r *Registry) load(e *Entity) {
	defer r.wg.Done()
	asset, err := r.loader.Load(r.ctx, e.Piece())
	if err != nil {
		r.logger.Warn("registry_asset_error",
			zap.Int("entity", e.ID),
			zap.String("role", string(e.Role)),
			zap.String("color", string(e.Color)),
			zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e.handle = asset.Handle
	r.byHandle[asset.Handle] = e
	if r.scene != nil {
		r.scene.Attach(asset.Handle, e.Piece(), asset.Model, r.scale)
	}
	r.placeLocked(e)
}

// SweepHidden hides every entity left unmatched by the current refresh.
func (r *Registry) SweepHidden() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		if e.matched || !e.Visible {
			continue
		}
		e.Visible = false
		r.placeLocked(e)
	}
}

// Move repositions a single entity.
func (r *Registry) Move(e *Entity, pos board.Position) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Pos = pos
	r.placeLocked(e)
}

func (r *Registry) placeLocked(e *Entity) {
	if r.scene == nil || e.handle == "" {
		return
	}
	r.scene.Place(e.handle, e.Pos, e.Visible)
}

// Lookup resolves a visual handle to its entity.
func (r *Registry) Lookup(h Handle) (*Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byHandle[h]
	return e, ok
}

// HandleOf returns the resolved handle of e, if loading has finished.
func (r *Registry) HandleOf(e *Entity) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.handle, e.handle != ""
}

// Visible returns copies of every visible entity.
func (r *Registry) Visible() []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if e.Visible {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of entities ever created.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// Wait blocks until every pending asset load has finished.
func (r *Registry) Wait() { r.wg.Wait() }

// Close cancels pending loads and waits for them.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
