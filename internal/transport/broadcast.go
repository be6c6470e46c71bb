package transport

import (
	"context"

	"github.com/luciancaetano/frost"
)

// Broadcast queues the same encoded frame on every connection and returns how many
// accepted it. A connection that cannot keep up is closed by its own Send and does
// not delay the others.
func Broadcast(ctx context.Context, conns []frost.Conn, frame []byte) int {
	sent := 0
	for _, c := range conns {
		if c == nil {
			continue
		}
		if err := c.Send(ctx, frame); err == nil {
			sent++
		}
	}
	return sent
}
