// Package mock provides a test double for the stt package interfaces.
//
// Use Provider to feed a controlled Transcript to callers and inspect which
// requests were delivered.
//
// Example:
//
//	p := &mock.Provider{Transcript: stt.Transcript{Text: "안녕하세요"}}
//	tr, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sorivox/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe when Err is nil.
	Transcript stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every request passed to Transcribe.
	Calls []stt.Request
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Transcript, Err.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	return p.Transcript, nil
}
