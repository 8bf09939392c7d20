// Package timing bounds username-enumeration timing side channels.
package timing

// DecoyWorker performs one unit of synthetic cryptographic work comparable
// to a real credential decrypt.
type DecoyWorker interface {
	Decoy()
}

// Shield equalizes ceremony-start latency between principals that resolve
// credentials and principals that do not. Best effort: it bounds the timing
// difference, it does not eliminate it.
type Shield struct {
	worker DecoyWorker
}

// NewShield returns a shield backed by the given decoy worker.
func NewShield(worker DecoyWorker) *Shield {
	return &Shield{worker: worker}
}

// Cover runs decoy work synchronously. It must complete before the response
// is written; deferred or backgrounded decoy work defeats the purpose.
func (s *Shield) Cover() {
	if s == nil || s.worker == nil {
		return
	}
	s.worker.Decoy()
}
