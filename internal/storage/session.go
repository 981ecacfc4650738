package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Benny93/calcgraph-go/internal/codec"
	"github.com/Benny93/calcgraph-go/internal/graph"
)

// Save encodes the canvas and stores it under StateKey, with the position of
// the color sequence under ColorKey.
func Save(ctx context.Context, b Backend, c *graph.Canvas) error {
	text, err := codec.Encode(c.Nodes())
	if err != nil {
		return fmt.Errorf("encoding canvas: %w", err)
	}
	if err := b.Set(ctx, StateKey, text); err != nil {
		return fmt.Errorf("saving canvas: %w", err)
	}
	if err := b.Set(ctx, ColorKey, strconv.Itoa(c.ColorIndex())); err != nil {
		return fmt.Errorf("saving color index: %w", err)
	}
	return nil
}

// Restore replaces the canvas contents with the stored state. A missing key
// leaves the canvas empty. Records that fail to decode, repeat an earlier id
// or descend from themselves are dropped and counted in the report.
func Restore(ctx context.Context, b Backend, c *graph.Canvas) (codec.Report, error) {
	text, ok, err := b.Get(ctx, StateKey)
	if err != nil {
		return codec.Report{}, fmt.Errorf("loading canvas: %w", err)
	}
	if !ok {
		c.Reset()
		return codec.Report{}, nil
	}

	nodes, report := codec.Decode(text)
	nodes, dropped := graph.Repair(nodes)
	report.Dropped += dropped
	if err := c.Load(nodes); err != nil {
		return report, fmt.Errorf("restoring canvas: %w", err)
	}

	index, ok, err := b.Get(ctx, ColorKey)
	if err != nil {
		return report, fmt.Errorf("loading color index: %w", err)
	}
	if ok {
		// An unreadable index keeps the one Load derived.
		if i, err := strconv.Atoi(index); err == nil {
			c.SetColorIndex(i)
		}
	}
	return report, nil
}

// Count returns the number of records in the stored canvas without
// restoring it.
func Count(ctx context.Context, b Backend) (int, error) {
	text, ok, err := b.Get(ctx, StateKey)
	if err != nil {
		return 0, fmt.Errorf("loading canvas: %w", err)
	}
	if !ok {
		return 0, nil
	}
	_, report := codec.Decode(text)
	return report.Records, nil
}

// Clear removes the stored canvas.
func Clear(ctx context.Context, b Backend) error {
	for _, key := range []string{StateKey, ColorKey} {
		if err := b.Remove(ctx, key); err != nil {
			return fmt.Errorf("clearing canvas: %w", err)
		}
	}
	return nil
}
