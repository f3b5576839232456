package jobs

import (
	"strings"
	"testing"

	"github.com/kaspanet/kaspad/app/appmessage"

	"github.com/rkbridge/stratum-bridge/internal/kaspaapi"
)

func makeTestTemplate(bits uint32) *kaspaapi.Template {
	return &kaspaapi.Template{
		Block: &appmessage.RPCBlock{
			Header: &appmessage.RPCBlockHeader{
				Version:              1,
				Parents:              []*appmessage.RPCBlockLevelParents{{ParentHashes: []string{strings.Repeat("00", 32)}}},
				HashMerkleRoot:       strings.Repeat("00", 32),
				AcceptedIDMerkleRoot: strings.Repeat("00", 32),
				UTXOCommitment:       strings.Repeat("00", 32),
				Timestamp:            0,
				Bits:                 bits,
				Nonce:                0,
				DAAScore:             0,
				BlueScore:            0,
				BlueWork:             "00",
				PruningPoint:         strings.Repeat("00", 32),
			},
			Transactions: []*appmessage.RPCTransaction{},
		},
	}
}

func publishOrFatal(t *testing.T, r *Registry, tmpl *kaspaapi.Template) *Job {
	t.Helper()
	job, err := r.Publish(tmpl)
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	return job
}

func TestRegistry_PublishAssignsIncreasingIDs(t *testing.T) {
	r := NewRegistry(minRetained)

	j1 := publishOrFatal(t, r, makeTestTemplate(0x207fffff))
	j2 := publishOrFatal(t, r, makeTestTemplate(0x207fffff))

	if j1.ID != 1 || j2.ID != 2 {
		t.Fatalf("expected sequential ids 1,2; got %d,%d", j1.ID, j2.ID)
	}
	if r.Latest().ID != j2.ID {
		t.Fatalf("expected latest to be job %d, got %d", j2.ID, r.Latest().ID)
	}
}

func TestRegistry_LookupMissingIsStale(t *testing.T) {
	r := NewRegistry(minRetained)
	publishOrFatal(t, r, makeTestTemplate(0x207fffff))

	if _, ok := r.Lookup(999); ok {
		t.Fatal("expected lookup of never-issued id to report stale")
	}
}

func TestRegistry_RetiresYoungJobsBeyondTwiceCapacity(t *testing.T) {
	r := NewRegistry(minRetained)
	var lastID uint64
	for i := 0; i < minRetained*3; i++ {
		lastID = publishOrFatal(t, r, makeTestTemplate(0x207fffff)).ID
	}

	if _, ok := r.Lookup(1); ok {
		t.Fatal("expected the earliest job to have been retired")
	}
	if _, ok := r.Lookup(lastID); !ok {
		t.Fatal("expected the most recent job to still be retained")
	}
}
