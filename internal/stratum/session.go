package stratum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rkbridge/stratum-bridge/internal/jobs"
	"github.com/rkbridge/stratum-bridge/internal/validator"
	"github.com/rkbridge/stratum-bridge/internal/vardiff"
)

// State is a session's position in the handshake/work state machine.
type State int

const (
	StateNew State = iota
	StateSubscribed
	StateAuthorized
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSubscribed:
		return "subscribed"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

const (
	subscribeDeadline = 30 * time.Second
	authorizeDeadline = 60 * time.Second
	idleTimeout       = 10 * time.Minute
	maxWorkerNameLen  = 256
	submitRateLimit   = 100
	submitBurst       = 20
)

// Registry is the subset of jobs.Registry a session needs.
type Registry interface {
	Latest() *jobs.Job
	Lookup(id uint64) (*jobs.Job, bool)
}

// ShareSink receives validated outcomes for metrics/submission routing.
type ShareSink interface {
	ShareAccepted(worker string, family Family, difficulty float64)
	ShareRejected(worker string, family Family, reason validator.RejectReason)
	BlockCandidate(job *jobs.Job, worker string, result *validator.Result)
}

// Session is one ASIC connection's full handshake/work lifecycle.
type Session struct {
	id           string
	codec        *Codec
	log          *zap.Logger
	registry     Registry
	allocator    *ExtranonceAllocator
	sink         ShareSink
	minShareDiff float64
	sharesPerMin float64
	pow2Clamp    bool

	state       State
	family      Family
	extranonce  []byte
	worker      string
	lastJobID   uint64
	vardiff     *vardiff.Controller
	dedup       *dedupCache
	limiter     *rate.Limiter
	connectedAt time.Time
	lastActive  time.Time

	closed bool
}

// NewSession constructs a session bound to one connection. Nothing is
// written to the wire until the miner speaks first.
func NewSession(id string, codec *Codec, registry Registry, allocator *ExtranonceAllocator, sink ShareSink, minShareDiff, sharesPerMin float64, pow2Clamp bool, log *zap.Logger) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		codec:        codec,
		log:          log.With(zap.String("session", id)),
		registry:     registry,
		allocator:    allocator,
		sink:         sink,
		minShareDiff: minShareDiff,
		sharesPerMin: sharesPerMin,
		pow2Clamp:    pow2Clamp,
		state:        StateNew,
		dedup:        newDedupCache(),
		limiter:      rate.NewLimiter(submitRateLimit, submitBurst),
		connectedAt:  now,
		lastActive:   now,
	}
}

// State returns the session's current state machine position.
func (s *Session) State() State { return s.state }

// Family returns the detected miner family (FamilyUnknown before subscribe).
func (s *Session) Family() Family { return s.family }

// Worker returns the authorized worker label, if any.
func (s *Session) Worker() string { return s.worker }

// Drain moves an Active session to Draining: it stops receiving new jobs
// but keeps processing in-flight submissions until Close or the drain
// window elapses.
func (s *Session) Drain() {
	if s.state == StateActive {
		s.state = StateDraining
	}
}

// Close releases the session's extranonce. Idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.allocator.Release(s.family, s.extranonce)
	s.state = StateClosed
}

// HandleRequest dispatches one parsed Request through the state machine.
// It is called from the connection's single reader goroutine; all session
// field access here is single-threaded by construction.
func (s *Session) HandleRequest(req *Request) error {
	s.lastActive = time.Now()

	switch req.Method {
	case "mining.subscribe":
		return s.handleSubscribe(req)
	case "mining.authorize":
		return s.handleAuthorize(req)
	case "mining.submit":
		return s.handleSubmit(req)
	case "mining.suggest_difficulty":
		return s.reply(req.ID, true, nil)
	default:
		return s.reply(req.ID, false, &RPCError{Code: ErrOther, Message: "unsupported method " + req.Method})
	}
}

func (s *Session) handleSubscribe(req *Request) error {
	if s.state != StateNew {
		return s.reply(req.ID, false, &RPCError{Code: ErrOther, Message: "already subscribed"})
	}

	agent := ""
	if len(req.Params) > 0 {
		if str, ok := req.Params[0].(string); ok {
			agent = str
		}
	}
	s.family = DetectFamily(agent)

	extranonce, err := s.allocator.Allocate(s.family)
	if err != nil {
		s.reply(req.ID, false, &RPCError{Code: ErrOther, Message: "extranonce pool exhausted"})
		return err
	}
	s.extranonce = extranonce

	subscriptions := []interface{}{
		[]interface{}{"mining.set_difficulty", s.id},
		[]interface{}{"mining.notify", s.id},
	}
	result := []interface{}{subscriptions, hex.EncodeToString(s.extranonce), s.family.ExtranonceWidth()}

	if err := s.reply(req.ID, result, nil); err != nil {
		return err
	}
	s.state = StateSubscribed
	s.log.Info("miner subscribed", zap.String("agent", agent), zap.String("family", s.family.String()))
	return nil
}

func (s *Session) handleAuthorize(req *Request) error {
	if s.state != StateSubscribed {
		return s.reply(req.ID, false, &RPCError{Code: ErrNotSubscribed, Message: "must subscribe first"})
	}
	worker := ""
	if len(req.Params) > 0 {
		if str, ok := req.Params[0].(string); ok {
			worker = str
		}
	}
	if len(worker) > maxWorkerNameLen {
		worker = worker[:maxWorkerNameLen]
	}
	s.worker = worker
	s.vardiff = vardiff.New(s.minShareDiff, s.sharesPerMin, s.pow2Clamp)

	if err := s.reply(req.ID, true, nil); err != nil {
		return err
	}
	s.state = StateAuthorized
	s.log.Info("miner authorized", zap.String("worker", worker))
	return s.activate()
}

// activate sends the initial difficulty and job once a miner is authorized,
// transitioning to Active.
func (s *Session) activate() error {
	if err := s.pushDifficulty(s.vardiff.Difficulty()); err != nil {
		return err
	}
	job := s.registry.Latest()
	if job == nil {
		s.state = StateActive
		return nil
	}
	if err := s.NotifyJob(job, true); err != nil {
		return err
	}
	s.state = StateActive
	return nil
}

func (s *Session) handleSubmit(req *Request) error {
	if s.state != StateActive && s.state != StateDraining {
		return s.reply(req.ID, false, &RPCError{Code: ErrUnauthorized, Message: "not authorized"})
	}
	if !s.limiter.Allow() {
		return s.reply(req.ID, false, &RPCError{Code: ErrOther, Message: "rate limited"})
	}

	sub, err := parseSubmit(req.Params, s.family)
	if err != nil {
		s.sink.ShareRejected(s.worker, s.family, validator.RejectBadSubmission)
		return s.reply(req.ID, false, &RPCError{Code: ErrOther, Message: "malformed submit"})
	}

	job, ok := s.registry.Lookup(sub.JobID)
	if !ok {
		s.sink.ShareRejected(s.worker, s.family, validator.RejectStaleJob)
		return s.reply(req.ID, false, &RPCError{Code: ErrJobNotFound, Message: "Job not found"})
	}

	key := shareKey{jobID: sub.JobID, nonce: sub.Nonce, extranonceClient: string(sub.ExtranonceClient), ntime: sub.TimestampOverride}
	if s.dedup.SeenOrRecord(key) {
		s.sink.ShareRejected(s.worker, s.family, validator.RejectDuplicate)
		return s.reply(req.ID, false, &RPCError{Code: ErrDuplicate, Message: "Duplicate share"})
	}

	target := validator.DifficultyToTarget(s.vardiff.Difficulty())
	result, err := validator.Validate(job, sub, target)
	if err != nil {
		s.sink.ShareRejected(s.worker, s.family, validator.RejectBadSubmission)
		return s.reply(req.ID, false, &RPCError{Code: ErrOther, Message: "validation error"})
	}

	switch result.Outcome {
	case validator.OutcomeReject:
		s.sink.ShareRejected(s.worker, s.family, result.Reason)
		return s.reply(req.ID, false, &RPCError{Code: ErrLowDiff, Message: "Low difficulty share"})
	case validator.OutcomeBlockCandidate:
		s.sink.BlockCandidate(job, s.worker, result)
		fallthrough
	case validator.OutcomeShareAccepted:
		s.sink.ShareAccepted(s.worker, s.family, s.vardiff.Difficulty())
	}

	if newDiff, changed := s.vardiff.RecordShare(time.Now()); changed {
		if err := s.pushDifficulty(newDiff); err != nil {
			return err
		}
	}

	return s.reply(req.ID, true, nil)
}

// NotifyJob pushes mining.notify for job. cleanJobs forces the miner to
// discard all prior work (used on template change and on first activation).
func (s *Session) NotifyJob(job *jobs.Job, cleanJobs bool) error {
	if s.state == StateDraining || s.state == StateClosed {
		return nil
	}
	s.lastJobID = job.ID
	params := []interface{}{
		fmt.Sprintf("%x", job.ID),
		hex.EncodeToString(job.PrePowHash[:]),
		job.Template.Block.Header.Timestamp,
		cleanJobs,
	}
	return s.codec.WriteNotification(&Notification{ID: nil, Method: "mining.notify", Params: params})
}

func (s *Session) pushDifficulty(diff float64) error {
	return s.codec.WriteNotification(&Notification{ID: nil, Method: "mining.set_difficulty", Params: []interface{}{diff}})
}

func (s *Session) reply(id json.RawMessage, result interface{}, rpcErr *RPCError) error {
	return s.codec.WriteResponse(&Response{ID: id, Result: result, Error: rpcErr})
}

func parseSubmit(params []interface{}, family Family) (validator.Submission, error) {
	if len(params) < 3 {
		return validator.Submission{}, io.ErrUnexpectedEOF
	}
	worker, _ := params[0].(string)
	jobIDStr, _ := params[1].(string)
	jobID, err := strconv.ParseUint(strings.TrimPrefix(jobIDStr, "0x"), 16, 64)
	if err != nil {
		return validator.Submission{}, err
	}

	nonceStr, _ := params[len(params)-1].(string)
	nonce, err := strconv.ParseUint(strings.TrimPrefix(nonceStr, "0x"), 16, 64)
	if err != nil {
		return validator.Submission{}, err
	}

	var extranonceClient []byte
	var tsOverride int64
	if family != FamilyBitmain && len(params) >= 4 {
		if en, ok := params[2].(string); ok && en != "" {
			extranonceClient, _ = hex.DecodeString(en)
		}
	}
	if len(params) >= 5 {
		if ts, ok := params[3].(string); ok && ts != "" {
			if v, err := strconv.ParseInt(strings.TrimPrefix(ts, "0x"), 16, 64); err == nil {
				tsOverride = v
			}
		}
	}

	return validator.Submission{
		Worker:            worker,
		JobID:             jobID,
		ExtranonceClient:  extranonceClient,
		Nonce:             nonce,
		TimestampOverride: tsOverride,
	}, nil
}
