// Package jobs turns node block templates into numbered, retained Jobs that
// sessions can reference by id when they submit a share.
package jobs

import (
	"sync"
	"time"

	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/kaspanet/kaspad/domain/consensus/utils/consensushashing"
	"github.com/pkg/errors"

	"github.com/rkbridge/stratum-bridge/internal/kaspaapi"
)

// minRetained is the ring capacity floor named by the retention policy: at
// least 10 jobs are kept regardless of how quickly templates turn over.
const minRetained = 10

// retentionWindow is the time-based half of the retention policy: a job
// younger than this is evicted by count only while the ring holds more than
// twice its capacity.
const retentionWindow = 60 * time.Second

// Job is one numbered unit of work cut from a Template.
type Job struct {
	ID         uint64
	Template   *kaspaapi.Template
	PrePowHash [32]byte
	CreatedAt  time.Time
}

// Registry holds the last N jobs in a fixed ring, indexed by id for O(1)
// lookup, guarded by a read-mostly lock: lookups (one per submitted share)
// vastly outnumber writes (one per template change).
type Registry struct {
	mu       sync.RWMutex
	byID     map[uint64]*Job
	order    []uint64 // insertion order, oldest first
	capacity int
	nextID   uint64
	latest   *Job
}

// NewRegistry builds an empty registry with the given ring capacity. A
// capacity below minRetained is raised to it.
func NewRegistry(capacity int) *Registry {
	if capacity < minRetained {
		capacity = minRetained
	}
	return &Registry{
		byID:     make(map[uint64]*Job, capacity),
		order:    make([]uint64, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// Publish cuts a new Job from tmpl, assigns it the next job id, and retires
// the oldest jobs beyond capacity once they are older than retentionWindow,
// or regardless of age while more than twice capacity are held. It errors if
// the node-supplied template header cannot be converted to its domain form.
func (r *Registry) Publish(tmpl *kaspaapi.Template) (*Job, error) {
	prePow, err := prePowHash(tmpl.Block)
	if err != nil {
		return nil, errors.Wrap(err, "derive pre_pow_hash")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job := &Job{
		ID:         r.nextID,
		Template:   tmpl,
		PrePowHash: prePow,
		CreatedAt:  time.Now(),
	}
	r.nextID++
	if r.nextID == 0 { // wrapped past max uint64; treat as still increasing
		r.nextID = 1
	}

	r.byID[job.ID] = job
	r.order = append(r.order, job.ID)
	r.latest = job
	r.evictLocked()
	return job, nil
}

func (r *Registry) evictLocked() {
	now := time.Now()
	for len(r.order) > r.capacity {
		oldestID := r.order[0]
		oldest, ok := r.byID[oldestID]
		if ok && now.Sub(oldest.CreatedAt) < retentionWindow && len(r.order) <= r.capacity*2 {
			// Still within the time half of the retention window and not
			// grossly oversized; keep it a little longer.
			break
		}
		delete(r.byID, oldestID)
		r.order = r.order[1:]
	}
}

// Latest returns the most recently published job, or nil if none yet.
func (r *Registry) Latest() *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Lookup resolves a job id. ok is false when the job was never issued or has
// since been retired (Stale, per the error taxonomy).
func (r *Registry) Lookup(id uint64) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.byID[id]
	return j, ok
}

// prePowHash delegates entirely to the node client library's consensus
// hashing package: this is the keyed hash over the pre-nonce/timestamp
// portion of the header that the PoW function takes as input, and it is
// never reimplemented locally.
func prePowHash(block *appmessage.RPCBlock) ([32]byte, error) {
	domainBlock, err := appmessage.RPCBlockToDomainBlock(block)
	if err != nil {
		return [32]byte{}, err
	}
	header := domainBlock.Header.ToMutable()
	header.SetTimeInMilliseconds(0)
	header.SetNonce(0)
	hash := consensushashing.HeaderHash(header)
	var out [32]byte
	copy(out[:], hash.ByteSlice())
	return out, nil
}
