package cosign

import (
	"context"
	"fmt"
	"sync"
)

// FakeOracle is an in-memory Oracle for tests. Signature state is tracked
// per path and advanced by Sign the same way cosign2 fills slots in order.
// It never touches file contents.
type FakeOracle struct {
	mu     sync.Mutex
	states map[string]SignatureState

	// SignCalls records every path passed to Sign, in order.
	SignCalls []string
	// DumpErr, when set, is returned by every Dump call.
	DumpErr error
	// SignErr, when set, is returned by every Sign call.
	SignErr error
}

var _ Oracle = &FakeOracle{}

func NewFakeOracle() *FakeOracle {
	return &FakeOracle{states: make(map[string]SignatureState)}
}

// SetState pins the signature state reported for a path. Paths never set
// report Unsigned.
func (o *FakeOracle) SetState(path string, state SignatureState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[path] = state
}

func (o *FakeOracle) Dump(ctx context.Context, path string) (Dump, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.DumpErr != nil {
		return Dump{}, o.DumpErr
	}
	switch o.states[path] {
	case PartiallySigned:
		return Dump{
			HasHeader: true,
			Slot2Zero: true,
			Slots:     []SlotInfo{{Index: 1, Signature: "feedface", KeyID: "key1"}},
		}, nil
	case FullySigned:
		return Dump{
			HasHeader: true,
			Slots: []SlotInfo{
				{Index: 1, Signature: "feedface", KeyID: "key1"},
				{Index: 2, Signature: "cafef00d", KeyID: "key2"},
			},
		}, nil
	case HeaderCorrupt:
		return Dump{
			HasHeader: true,
			Slot1Zero: true,
			Slots:     []SlotInfo{{Index: 2, Signature: "cafef00d", KeyID: "key2"}},
		}, nil
	default:
		return Dump{HasHeader: false}, nil
	}
}

func (o *FakeOracle) Sign(ctx context.Context, path string, signer Signer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.SignCalls = append(o.SignCalls, path)
	if o.SignErr != nil {
		return o.SignErr
	}
	switch o.states[path] {
	case Unsigned:
		o.states[path] = PartiallySigned
	case PartiallySigned:
		o.states[path] = FullySigned
	case FullySigned:
		return fmt.Errorf("cosign2 sign failed for %s: both signature slots are already filled", path)
	case HeaderCorrupt:
		return fmt.Errorf("cosign2 sign failed for %s: signature header is corrupt", path)
	}
	return nil
}
