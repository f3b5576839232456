// Package submit posts block-eligible shares to the node and tracks the
// outcome asynchronously, never blocking the session that found them.
package submit

import (
	"time"

	"github.com/kaspanet/kaspad/app/appmessage"
	"go.uber.org/zap"

	"github.com/rkbridge/stratum-bridge/internal/kaspaapi"
)

const retryDelay = 200 * time.Millisecond

// Tracker submits blocks with bounded concurrency so a burst of simultaneous
// finds from different sessions can't open an unbounded number of node calls.
type Tracker struct {
	client kaspaapi.NodeClient
	log    *zap.Logger
	sem    chan struct{}

	onAccepted func()
}

// NewTracker builds a tracker bound to client, with onAccepted invoked once
// per node-accepted block (for the blocks_accepted_total metric).
func NewTracker(client kaspaapi.NodeClient, concurrency int, onAccepted func(), log *zap.Logger) *Tracker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Tracker{
		client:     client,
		log:        log,
		sem:        make(chan struct{}, concurrency),
		onAccepted: onAccepted,
	}
}

// Submit posts block asynchronously and returns at once; submissions beyond
// the concurrency limit wait in their own goroutine for a free slot. powHash
// is the job's precomputed pre_pow_hash, passed on to NodeClient.SubmitBlock;
// worker is supplied only for logging.
func (t *Tracker) Submit(block *appmessage.RPCBlock, powHash [32]byte, worker string) {
	go func() {
		t.sem <- struct{}{}
		defer func() { <-t.sem }()
		t.submitWithRetry(block, powHash, worker)
	}()
}

func (t *Tracker) submitWithRetry(block *appmessage.RPCBlock, powHash [32]byte, worker string) {
	reason, err := t.client.SubmitBlock(block, powHash)
	if err == nil && reason == appmessage.RejectReasonNone {
		t.log.Info("block accepted by node", zap.String("worker", worker))
		if t.onAccepted != nil {
			t.onAccepted()
		}
		return
	}

	t.log.Warn("block submission failed, retrying once", zap.Error(err), zap.Any("reject_reason", reason))
	time.Sleep(retryDelay)

	reason, err = t.client.SubmitBlock(block, powHash)
	if err == nil && reason == appmessage.RejectReasonNone {
		t.log.Info("block accepted by node on retry", zap.String("worker", worker))
		if t.onAccepted != nil {
			t.onAccepted()
		}
		return
	}
	t.log.Error("block submission failed after retry", zap.Error(err), zap.Any("reject_reason", reason), zap.String("worker", worker))
}
