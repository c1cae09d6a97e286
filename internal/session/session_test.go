package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/history"
	"github.com/park285/Cheese-ARBoard/internal/registry"
	"github.com/park285/Cheese-ARBoard/internal/remote"
	"github.com/park285/Cheese-ARBoard/internal/rules"
	"github.com/park285/Cheese-ARBoard/internal/viewer"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type seqLoader struct{ n atomic.Int64 }

func (l *seqLoader) Load(_ context.Context, p board.Piece) (registry.Asset, error) {
	return registry.Asset{Handle: registry.Handle(fmt.Sprintf("h%d", l.n.Add(1))), Model: string(p.Role)}, nil
}

func square(t *testing.T, s string) board.Square {
	t.Helper()
	sq, err := board.ParseSquare(s)
	if err != nil {
		t.Fatal(err)
	}
	return sq
}

func handleAt(t *testing.T, s *Session, name string) registry.Handle {
	t.Helper()
	s.reg.Wait()
	e, ok := s.coord.EntityAt(square(t, name))
	if !ok {
		t.Fatalf("no entity on %s", name)
	}
	h, ok := s.reg.HandleOf(e)
	if !ok {
		t.Fatalf("entity on %s has no handle", name)
	}
	return h
}

func pickPiece(t *testing.T, s *Session, name string) {
	t.Helper()
	s.HandlePick(context.Background(), viewer.Input{Type: "pick", Target: viewer.TargetPiece, Handle: handleAt(t, s, name)})
}

func pickField(s *Session, file, rank int) {
	s.HandlePick(context.Background(), viewer.Input{Type: "pick", Target: viewer.TargetField, X: float64(file), Z: -float64(rank)})
}

func newLocal(t *testing.T) *Session {
	t.Helper()
	s := New(Config{Loader: &seqLoader{}})
	t.Cleanup(s.Close)
	s.coord.Refresh()
	return s
}

func TestPickFlowLocal(t *testing.T) {
	s := newLocal(t)
	if s.Mode() != ModeLocal {
		t.Fatalf("mode = %s", s.Mode())
	}

	pickPiece(t, s, "e2")
	if from, ok := s.coord.Selected(); !ok || from != 12 {
		t.Fatalf("e2 not selected")
	}
	pickPiece(t, s, "e2")
	if _, ok := s.coord.Selected(); ok {
		t.Fatalf("second pick should unselect")
	}

	pickPiece(t, s, "e2")
	pickPiece(t, s, "g1")
	if from, ok := s.coord.Selected(); !ok || from != square(t, "g1") {
		t.Fatalf("selection did not switch to g1")
	}
	pickField(s, 5, 2)
	if p, ok := s.Snapshot().OccupantAt(square(t, "f3")); !ok || p.Role != board.Knight {
		t.Fatalf("knight not on f3")
	}
	if s.Snapshot().Turn() != board.Black {
		t.Fatalf("turn = %s", s.Snapshot().Turn())
	}
}

func TestPickOpponentPieceCaptures(t *testing.T) {
	s := newLocal(t)
	pickPiece(t, s, "e2")
	pickField(s, 4, 3)
	pickPiece(t, s, "d7")
	pickField(s, 3, 4)

	pickPiece(t, s, "e4")
	pickPiece(t, s, "d5")
	p, ok := s.Snapshot().OccupantAt(square(t, "d5"))
	if !ok || p.Color != board.White || p.Role != board.Pawn {
		t.Fatalf("d5 = %v %v, want white pawn", p, ok)
	}
	if got := len(s.reg.Visible()); got != 31 {
		t.Fatalf("visible = %d, want 31", got)
	}
}

func TestPickIgnoresBadInput(t *testing.T) {
	s := newLocal(t)
	before := s.Snapshot()
	s.HandlePick(context.Background(), viewer.Input{Type: "pick", Target: viewer.TargetPiece, Handle: "missing"})
	pickField(s, 4, 3) // nothing selected
	s.HandlePick(context.Background(), viewer.Input{Type: "pick", Target: viewer.TargetField, X: 11, Z: 0})
	s.HandlePick(context.Background(), viewer.Input{Type: "pick", Target: viewer.TargetNone})
	if s.Snapshot() != before {
		t.Fatalf("snapshot changed by invalid picks")
	}
}

func TestFoolsMateIsRecorded(t *testing.T) {
	s := newLocal(t)
	for _, mv := range [][2]string{{"f2", "f3"}, {"e7", "e5"}, {"g2", "g4"}, {"d8", "h4"}} {
		pickPiece(t, s, mv[0])
		to := board.ToPosition(square(t, mv[1]))
		pickField(s, to.File, to.Rank)
	}
	if !s.Snapshot().IsCheckmate() {
		t.Fatalf("expected checkmate")
	}
	if !s.Tracker().Saved() {
		t.Fatalf("match not persisted")
	}
}

// replySource is an in-process game: queued replies are played right after
// each accepted move, and fetch failures can be scheduled.
type replySource struct {
	mu         sync.Mutex
	snap       *rules.Snapshot
	replies    []board.Move
	fetchFails int
}

func (r *replySource) FetchPosition(context.Context, int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchFails > 0 {
		r.fetchFails--
		return "", errors.New("game server unavailable")
	}
	return r.snap.FEN(), nil
}

func (r *replySource) SubmitMove(_ context.Context, _ int, m board.Move) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.snap.Apply(m)
	if err != nil {
		return err
	}
	if len(r.replies) > 0 {
		if next, err = next.Apply(r.replies[0]); err != nil {
			return err
		}
		r.replies = r.replies[1:]
	}
	r.snap = next
	return nil
}

func (r *replySource) play(m board.Move) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.snap.Apply(m)
	if err == nil {
		r.snap = next
	}
	return err
}

func move(t *testing.T, from, to string) board.Move {
	t.Helper()
	return board.Move{From: square(t, from), To: square(t, to)}
}

func newRemote(t *testing.T, src *replySource, repo history.Repository) *Session {
	t.Helper()
	s := New(Config{Source: src, GameID: 5, Loader: &seqLoader{}, Repo: repo})
	t.Cleanup(s.Close)
	poll(t, s)
	return s
}

// poll runs one poll cycle the way the session loop would.
func poll(t *testing.T, s *Session) {
	t.Helper()
	if _, err := s.poller.FetchAndDiff(context.Background()); err != nil {
		t.Fatalf("FetchAndDiff: %v", err)
	}
	s.handleRemoteChange(context.Background())
}

func pickMove(t *testing.T, s *Session, from, to string) {
	t.Helper()
	pickPiece(t, s, from)
	pos := board.ToPosition(square(t, to))
	pickField(s, pos.File, pos.Rank)
}

func savedMoves(t *testing.T, s *Session, repo history.Repository) []string {
	t.Helper()
	if !s.Tracker().Saved() {
		t.Fatalf("match not persisted")
	}
	rec, err := repo.GetMatch(context.Background(), s.Tracker().SessionUUID())
	if err != nil || rec == nil {
		t.Fatalf("GetMatch: %v %v", rec, err)
	}
	return rec.MovesUCI
}

func TestRemoteHistoryKeepsInstantReplies(t *testing.T) {
	src := &replySource{snap: rules.Start(), replies: []board.Move{move(t, "e7", "e5"), move(t, "d8", "h4")}}
	repo := history.NewMemoryRepository()
	s := newRemote(t, src, repo)

	pickMove(t, s, "f2", "f3")
	s.handleRemoteChange(context.Background())
	pickMove(t, s, "g2", "g4")
	s.handleRemoteChange(context.Background())

	if !s.Snapshot().IsCheckmate() {
		t.Fatalf("expected checkmate, fen = %s", s.Snapshot().FEN())
	}
	if diff := cmp.Diff([]string{"f2f3", "e7e5", "g2g4", "d8h4"}, savedMoves(t, s, repo)); diff != "" {
		t.Fatalf("moves (-want +got):\n%s", diff)
	}
}

func TestRemoteHistoryAfterFailedRefetch(t *testing.T) {
	src := &replySource{snap: rules.Start()}
	repo := history.NewMemoryRepository()
	s := newRemote(t, src, repo)

	src.mu.Lock()
	src.fetchFails = 1
	src.mu.Unlock()
	pickMove(t, s, "f2", "f3")
	poll(t, s)

	if err := src.play(move(t, "e7", "e5")); err != nil {
		t.Fatal(err)
	}
	poll(t, s)
	src.mu.Lock()
	src.replies = []board.Move{move(t, "d8", "h4")}
	src.mu.Unlock()
	pickMove(t, s, "g2", "g4")
	s.handleRemoteChange(context.Background())

	if diff := cmp.Diff([]string{"f2f3", "e7e5", "g2g4", "d8h4"}, savedMoves(t, s, repo)); diff != "" {
		t.Fatalf("moves (-want +got):\n%s", diff)
	}
}

// stubGame is a minimal remote game endpoint.
type stubGame struct {
	mu    sync.Mutex
	fen   string
	posts int
}

func (g *stubGame) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		_, _ = w.Write([]byte(g.fen))
	case http.MethodPost:
		var m board.Move
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		snap, _ := rules.ParseFEN(g.fen)
		next, err := snap.Apply(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		g.fen = next.FEN()
		g.posts++
		w.WriteHeader(http.StatusOK)
	}
}

func (g *stubGame) set(fen string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fen = fen
}

func TestRemoteSessionEndToEnd(t *testing.T) {
	game := &stubGame{fen: rules.StartFEN}
	gameSrv := httptest.NewServer(game)
	defer gameSrv.Close()

	hub := viewer.NewHub()
	s := New(Config{
		Source:       remote.NewClient(gameSrv.URL, remote.WithTimeout(time.Second)),
		GameID:       3,
		PollInterval: 20 * time.Millisecond,
		Loader:       &seqLoader{},
		Hub:          hub,
	})
	defer s.Close()
	if s.Mode() != ModeRemote {
		t.Fatalf("mode = %s", s.Mode())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	viewSrv := httptest.NewServer(hub)
	defer viewSrv.Close()
	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws"+strings.TrimPrefix(viewSrv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	handles := map[board.Position]registry.Handle{}
	waitFor := func(cond func(viewer.Event) bool) {
		t.Helper()
		readCtx, readCancel := context.WithTimeout(ctx, 3*time.Second)
		defer readCancel()
		for {
			var ev viewer.Event
			if err := wsjson.Read(readCtx, conn, &ev); err != nil {
				t.Fatalf("waiting for event: %v", err)
			}
			if ev.Type == viewer.EventPlace && ev.Visible != nil && *ev.Visible {
				handles[*ev.Position] = ev.Handle
			}
			if cond(ev) {
				return
			}
		}
	}

	e2 := board.Position{File: 4, Rank: 1}
	waitFor(func(viewer.Event) bool { _, ok := handles[e2]; return ok })

	send := func(in viewer.Input) {
		t.Helper()
		if err := wsjson.Write(ctx, conn, in); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(viewer.Input{Type: "pick", Target: viewer.TargetPiece, Handle: handles[e2]})
	waitFor(func(ev viewer.Event) bool { return ev.Type == viewer.EventSelection && ev.Selected != nil })
	send(viewer.Input{Type: "pick", Target: viewer.TargetField, X: 4, Z: -3})
	waitFor(func(ev viewer.Event) bool { return ev.Type == viewer.EventBoard && ev.Turn == "black" })

	game.mu.Lock()
	posts := game.posts
	game.mu.Unlock()
	if posts != 1 {
		t.Fatalf("posts = %d, want 1", posts)
	}

	// the opponent answers on the server; the poll loop picks it up
	game.set("rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2")
	waitFor(func(ev viewer.Event) bool { return ev.Type == viewer.EventBoard && ev.Turn == "white" })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
