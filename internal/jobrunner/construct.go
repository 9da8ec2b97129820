package jobrunner

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/simcore/internal/kernel"
)

// ConstructPayload is the message a worker posts to the kernel thread once
// every template for a request has been fetched. The worker msgpack-encodes
// it before the handoff and the kernel-thread dispatcher decodes it, so the
// worker goroutine retains no pointer the kernel thread will later read.
type ConstructPayload struct {
	RequestID string
	UserID    string
	Exchange  ExchangeTemplate
	Stocks    []StockTemplate
	Traders   []TraderTemplate
}

func encodePayload(p ConstructPayload) ([]byte, error) {
	return msgpack.Marshal(p)
}

func decodePayload(raw []byte) (ConstructPayload, error) {
	var p ConstructPayload
	err := msgpack.Unmarshal(raw, &p)
	return p, err
}

// BuildResult records what a Builder created, in creation order, so the
// pool can roll the objects back in reverse on failure.
type BuildResult struct {
	ExchangeID kernel.ObjectID
	StockIDs   []kernel.ObjectID
	TraderIDs  []kernel.ObjectID
}

// Builder constructs and retires environment object graphs on behalf of the
// pool. Every method runs on the kernel thread via Kernel.Dispatch, never
// on a worker goroutine.
type Builder interface {
	// Build creates the exchange, then each stock, then each trader for
	// payload. On error it returns whatever partial result it produced so
	// Rollback can clean up. progress reports objects created so far out of
	// the total.
	Build(payload ConstructPayload, progress func(created, total int)) (BuildResult, error)

	// Commit exposes a successfully built environment through the read API.
	Commit(payload ConstructPayload, result BuildResult)

	// Rollback destroys every object in result: traders first, then stocks,
	// then the exchange.
	Rollback(result BuildResult)
}
