package docker

import (
	"context"
	"sync"

	"github.com/cochaviz/ecu/internal/process"
)

// fakeRunner records commands and answers them with fn.
type fakeRunner struct {
	mu    sync.Mutex
	calls []process.Command
	fn    func(cmd process.Command) (int, error)
}

func (r *fakeRunner) Run(_ context.Context, cmd process.Command) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()
	if r.fn == nil {
		return 0, nil
	}
	return r.fn(cmd)
}

func (r *fakeRunner) commands() []process.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]process.Command(nil), r.calls...)
}
