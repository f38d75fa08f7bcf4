package generation

import (
	"context"
	"sync"
)

// Fake is an in-memory Generator for tests. Respond decides every answer.
type Fake struct {
	Respond func(req Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

// NewFake returns a Fake answering with respond.
func NewFake(respond func(req Request) (string, error)) *Fake {
	return &Fake{Respond: respond}
}

func (f *Fake) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.Respond(req)
}

// Requests returns every request seen so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}
