package stratum

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/rkbridge/stratum-bridge/internal/jobs"
	"github.com/rkbridge/stratum-bridge/internal/validator"
)

type loopback struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

type emptyRegistry struct{}

func (emptyRegistry) Latest() *jobs.Job              { return nil }
func (emptyRegistry) Lookup(uint64) (*jobs.Job, bool) { return nil, false }

type recordingSink struct {
	accepted int
	rejected int
}

func (r *recordingSink) ShareAccepted(string, Family, float64)                      { r.accepted++ }
func (r *recordingSink) ShareRejected(string, Family, validator.RejectReason)       { r.rejected++ }
func (r *recordingSink) BlockCandidate(*jobs.Job, string, *validator.Result)        {}

func newTestSession() (*Session, *loopback) {
	lb := &loopback{}
	codec := NewCodec(lb)
	sink := &recordingSink{}
	s := NewSession("test-session", codec, emptyRegistry{}, NewExtranonceAllocator(), sink, 64, 20, true, zap.NewNop())
	return s, lb
}

func TestSession_SubscribeThenAuthorizeReachesActive(t *testing.T) {
	s, lb := newTestSession()

	if err := s.HandleRequest(&Request{ID: json.RawMessage(`1`), Method: "mining.subscribe", Params: []interface{}{"IceRiverMiner/1.0.0"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if s.State() != StateSubscribed {
		t.Fatalf("expected Subscribed, got %v", s.State())
	}
	if s.Family() != FamilyIceRiver {
		t.Fatalf("expected family IceRiver, got %v", s.Family())
	}

	if err := s.HandleRequest(&Request{ID: json.RawMessage(`2`), Method: "mining.authorize", Params: []interface{}{"worker.1"}}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if s.State() != StateActive {
		t.Fatalf("expected Active (no job to send yet), got %v", s.State())
	}
	if s.Worker() != "worker.1" {
		t.Fatalf("expected worker.1, got %q", s.Worker())
	}

	if lb.out.Len() == 0 {
		t.Fatal("expected some response/notification bytes written")
	}
}

func TestSession_SubmitBeforeAuthorizeIsRejected(t *testing.T) {
	s, _ := newTestSession()
	err := s.HandleRequest(&Request{ID: json.RawMessage(`1`), Method: "mining.submit", Params: []interface{}{"w", "1", "", "", "0"}})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if s.State() != StateNew {
		t.Fatalf("state should not advance on a rejected submit, got %v", s.State())
	}
}

func TestSession_CloseReleasesExtranonce(t *testing.T) {
	s, _ := newTestSession()
	_ = s.HandleRequest(&Request{ID: json.RawMessage(`1`), Method: "mining.subscribe", Params: []interface{}{"bzminer/1"}})
	en := s.extranonce
	s.Close()
	if s.State() != StateClosed {
		t.Fatalf("expected Closed, got %v", s.State())
	}
	next, err := s.allocator.Allocate(FamilyBzMiner)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if string(next) != string(en) {
		t.Fatalf("expected released extranonce %x to be reused, got %x", en, next)
	}
	s.Close() // idempotent
}
