package coordinator

import (
	"context"
	"sync/atomic"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/rules"
)

// Backend owns the authoritative snapshot and accepts moves. The local backend
// applies moves itself; the remote one is remote.Poller.
type Backend interface {
	Snapshot() *rules.Snapshot
	SubmitMove(ctx context.Context, m board.Move) error
}

// LocalBackend plays both sides on one device.
type LocalBackend struct {
	snap atomic.Pointer[rules.Snapshot]
}

func NewLocalBackend(start *rules.Snapshot) *LocalBackend {
	if start == nil {
		start = rules.Start()
	}
	b := &LocalBackend{}
	b.snap.Store(start)
	return b
}

func (b *LocalBackend) Snapshot() *rules.Snapshot { return b.snap.Load() }

func (b *LocalBackend) SubmitMove(_ context.Context, m board.Move) error {
	next, err := b.snap.Load().Apply(m)
	if err != nil {
		return err
	}
	b.snap.Store(next)
	return nil
}
