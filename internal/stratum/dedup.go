package stratum

import "container/list"

const dedupCapacity = 4096

type shareKey struct {
	jobID            uint64
	nonce            uint64
	extranonceClient string
	ntime            int64
}

// dedupCache is a bounded FIFO set used to reject resubmitted shares within
// one session. It is not safe for concurrent use; the session's submit
// handling is already single-threaded per connection.
type dedupCache struct {
	order *list.List
	index map[shareKey]*list.Element
}

func newDedupCache() *dedupCache {
	return &dedupCache{
		order: list.New(),
		index: make(map[shareKey]*list.Element),
	}
}

// SeenOrRecord returns true if key was already recorded; otherwise it
// records it and returns false.
func (d *dedupCache) SeenOrRecord(key shareKey) bool {
	if _, ok := d.index[key]; ok {
		return true
	}
	el := d.order.PushBack(key)
	d.index[key] = el
	if d.order.Len() > dedupCapacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(shareKey))
	}
	return false
}
