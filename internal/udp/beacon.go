package udp

import (
	"context"
	"log"
	"time"
)

// Beacon sends the JSON encoding of snapshot() every interval until ctx is
// done. A failure is logged once, and so is the recovery.
func Beacon(ctx context.Context, b *Broadcaster, interval time.Duration, snapshot func() any) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := b.SendJSON(snapshot())
		switch {
		case err != nil && !failing:
			failing = true
			log.Printf("udp: status beacon dest=%s: %v", b.dest, err)
		case err == nil && failing:
			failing = false
			log.Printf("udp: status beacon dest=%s recovered", b.dest)
		}
	}
}
