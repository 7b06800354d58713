package live

import (
	"bytes"
	"context"
	"encoding/json"
)

// Snapshot is one observed state. Exists is false once the value is gone.
type Snapshot[T any] struct {
	Value  T
	Exists bool
}

// Loader reads the current value. ok is false when there is none.
type Loader[T any] func(ctx context.Context) (value T, ok bool, err error)

// Watch subscribes to topic and then loads the initial snapshot, so a change
// committed between the two is still delivered. Each published payload is
// decoded as T; a null payload means the value is gone, and a payload that
// does not decode triggers a reload. The channel closes when ctx is done.
func Watch[T any](ctx context.Context, hub Hub, topic string, load Loader[T]) (<-chan Snapshot[T], error) {
	sub, err := hub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	value, ok, err := load(ctx)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Snapshot[T], 1)
	out <- Snapshot[T]{Value: value, Exists: ok}
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, open := <-sub.Messages():
				if !open {
					return
				}
				snapshot, err := decodeSnapshot[T](ctx, payload, load)
				if err != nil {
					continue
				}
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeSnapshot[T any](ctx context.Context, payload []byte, load Loader[T]) (Snapshot[T], error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Snapshot[T]{}, nil
	}
	var value T
	if err := json.Unmarshal(trimmed, &value); err != nil {
		value, ok, err := load(ctx)
		if err != nil {
			return Snapshot[T]{}, err
		}
		return Snapshot[T]{Value: value, Exists: ok}, nil
	}
	return Snapshot[T]{Value: value, Exists: true}, nil
}
