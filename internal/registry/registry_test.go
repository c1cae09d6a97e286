package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/park285/Cheese-ARBoard/internal/board"
)

type placeCall struct {
	pos     board.Position
	visible bool
}

type fakeScene struct {
	mu       sync.Mutex
	attached map[Handle]float64
	last     map[Handle]placeCall
}

func newFakeScene() *fakeScene {
	return &fakeScene{attached: map[Handle]float64{}, last: map[Handle]placeCall{}}
}

func (s *fakeScene) Attach(h Handle, _ board.Piece, _ string, scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[h] = scale
}

func (s *fakeScene) Place(h Handle, pos board.Position, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[h] = placeCall{pos: pos, visible: visible}
}

type seqLoader struct {
	mu   sync.Mutex
	n    int
	fail board.Role
}

func (l *seqLoader) Load(_ context.Context, p board.Piece) (Asset, error) {
	if p.Role == l.fail {
		return Asset{}, errors.New("boom")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	return Asset{Handle: Handle(fmt.Sprintf("h%d", l.n)), Model: string(p.Role)}, nil
}

func refresh(r *Registry, placed map[board.Position]board.Piece) {
	r.Reset()
	for pos, p := range placed {
		r.GetOrCreate(p.Role, p.Color, pos)
	}
	r.SweepHidden()
}

func TestGetOrCreateReusesUnmatched(t *testing.T) {
	scene := newFakeScene()
	r := New(&seqLoader{}, scene)
	defer r.Close()

	a := r.GetOrCreate(board.Pawn, board.White, board.Position{File: 4, Rank: 1})
	r.Reset()
	b := r.GetOrCreate(board.Pawn, board.White, board.Position{File: 4, Rank: 3})
	if a != b {
		t.Fatalf("expected entity reuse after reset")
	}
	if b.Pos != (board.Position{File: 4, Rank: 3}) || !b.Visible {
		t.Fatalf("reused entity not repositioned: %+v", b)
	}
	c := r.GetOrCreate(board.Pawn, board.White, board.Position{File: 3, Rank: 1})
	if c == b {
		t.Fatalf("matched entity must not be reused in the same refresh")
	}
	if r.Len() != 2 {
		t.Fatalf("entities = %d, want 2", r.Len())
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	scene := newFakeScene()
	r := New(&seqLoader{}, scene)
	defer r.Close()

	placed := map[board.Position]board.Piece{
		{File: 4, Rank: 0}: {Role: board.King, Color: board.White},
		{File: 4, Rank: 7}: {Role: board.King, Color: board.Black},
		{File: 0, Rank: 1}: {Role: board.Pawn, Color: board.White},
		{File: 1, Rank: 1}: {Role: board.Pawn, Color: board.White},
	}
	refresh(r, placed)
	refresh(r, placed)
	r.Wait()

	if r.Len() != 4 {
		t.Fatalf("entities = %d, want 4", r.Len())
	}
	if got := len(r.Visible()); got != 4 {
		t.Fatalf("visible = %d, want 4", got)
	}
}

func TestSweepHidesAndRecycles(t *testing.T) {
	scene := newFakeScene()
	r := New(&seqLoader{}, scene)
	defer r.Close()

	refresh(r, map[board.Position]board.Piece{
		{File: 3, Rank: 3}: {Role: board.Knight, Color: board.Black},
		{File: 4, Rank: 4}: {Role: board.Bishop, Color: board.White},
	})
	r.Wait()

	// knight captured
	refresh(r, map[board.Position]board.Piece{
		{File: 4, Rank: 4}: {Role: board.Bishop, Color: board.White},
	})
	vis := r.Visible()
	if len(vis) != 1 || vis[0].Role != board.Bishop {
		t.Fatalf("visible after capture = %+v", vis)
	}

	var knight *Entity
	scene.mu.Lock()
	for h, call := range scene.last {
		if e, ok := r.byHandle[h]; ok && e.Role == board.Knight {
			knight = e
			if call.visible {
				t.Errorf("hidden knight still placed visible")
			}
		}
	}
	scene.mu.Unlock()
	if knight == nil {
		t.Fatalf("knight never attached")
	}

	// a knight reappears and reuses the hidden entity
	refresh(r, map[board.Position]board.Piece{
		{File: 4, Rank: 4}: {Role: board.Bishop, Color: board.White},
		{File: 5, Rank: 5}: {Role: board.Knight, Color: board.Black},
	})
	if r.Len() != 2 {
		t.Fatalf("entities = %d, want 2 after recycling", r.Len())
	}
	if !knight.Visible || knight.Pos != (board.Position{File: 5, Rank: 5}) {
		t.Fatalf("knight not recycled: %+v", knight)
	}
}

func TestLookupAndMove(t *testing.T) {
	scene := newFakeScene()
	r := New(&seqLoader{}, scene, WithScale(0.5))
	defer r.Close()

	e := r.GetOrCreate(board.Queen, board.White, board.Position{File: 3, Rank: 0})
	r.Wait()
	h, ok := r.HandleOf(e)
	if !ok {
		t.Fatalf("handle not resolved")
	}
	got, ok := r.Lookup(h)
	if !ok || got != e {
		t.Fatalf("Lookup(%s) = %v %v", h, got, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("unexpected lookup hit")
	}

	r.Move(e, board.Position{File: 3, Rank: 4})
	scene.mu.Lock()
	defer scene.mu.Unlock()
	if scene.attached[h] != 0.5 {
		t.Fatalf("scale = %v, want 0.5", scene.attached[h])
	}
	if scene.last[h].pos != (board.Position{File: 3, Rank: 4}) {
		t.Fatalf("last place = %+v", scene.last[h])
	}
}

func TestAssetFailureOnlyAffectsEntity(t *testing.T) {
	scene := newFakeScene()
	r := New(&seqLoader{fail: board.Rook}, scene)
	defer r.Close()

	rook := r.GetOrCreate(board.Rook, board.White, board.Position{})
	king := r.GetOrCreate(board.King, board.White, board.Position{File: 4})
	r.Wait()

	if _, ok := r.HandleOf(rook); ok {
		t.Fatalf("failed asset should leave entity without handle")
	}
	if _, ok := r.HandleOf(king); !ok {
		t.Fatalf("king should have a handle")
	}
	if !rook.Visible {
		t.Fatalf("logical entity must stay visible")
	}
}

func TestModelCatalog(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pawn"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pawn", "scene.gltf"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewModelCatalog(dir, true)

	a, err := c.Load(context.Background(), board.Piece{Role: board.Pawn, Color: board.White})
	if err != nil {
		t.Fatalf("Load pawn: %v", err)
	}
	if a.Handle == "" || a.Model != filepath.ToSlash(filepath.Join(dir, "pawn", "scene.gltf")) {
		t.Fatalf("unexpected asset %+v", a)
	}
	b, _ := c.Load(context.Background(), board.Piece{Role: board.Pawn, Color: board.Black})
	if a.Handle == b.Handle {
		t.Fatalf("handles must be unique")
	}
	if _, err := c.Load(context.Background(), board.Piece{Role: board.King, Color: board.White}); err == nil {
		t.Fatalf("expected error for missing model")
	}
	if got := NewModelCatalog("", false).ModelPath(board.King); got != "models/king/scene.gltf" {
		t.Fatalf("ModelPath = %q", got)
	}
}
