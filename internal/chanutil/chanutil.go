// Package chanutil holds the one piece of channel plumbing every worker
// stage shares: a bounded send that drops the oldest queued item instead
// of blocking the producer.
package chanutil

import "sync/atomic"

// SendDropOldest pushes v onto ch. If ch is full, the oldest pending
// value is discarded (and dropped is incremented) to make room. This is
// the back-pressure policy for every inter-stage channel in the
// pipeline: media is soft-real-time, so dropping beats blocking.
func SendDropOldest[T any](ch chan T, v T, dropped *atomic.Uint64) {
	select {
	case ch <- v:
		return
	default:
	}

	select {
	case <-ch:
		if dropped != nil {
			dropped.Add(1)
		}
	default:
	}

	select {
	case ch <- v:
	default:
		if dropped != nil {
			dropped.Add(1)
		}
	}
}

// Drain empties ch without blocking, used when a worker is tearing down
// and must not leave a goroutine parked on a full channel.
func Drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
