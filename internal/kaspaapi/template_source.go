package kaspaapi

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Template is the bridge's internal view of one node block template: the
// raw block the node proposed plus the network target derived from its
// bits, ready for a job to be cut from it.
type Template struct {
	Block         *appmessage.RPCBlock
	NetworkTarget *big.Int
	ReceivedAt    time.Time
}

const (
	startupGrace      = 10 * time.Second
	reconnectMinDelay = 100 * time.Millisecond
	reconnectMaxDelay = 10 * time.Second
	rpcCallTimeout    = 5 * time.Second
	degradedAfter     = 10 * time.Minute
)

// TemplateSource maintains one cached Template, replaced atomically as new
// notifications arrive from the node. Sessions read Current(); they never
// block on the node being reachable.
type TemplateSource struct {
	log         *zap.Logger
	payAddress  string
	coinbaseTag string

	mu       sync.RWMutex
	current  *Template
	degraded bool

	dial func(ctx context.Context, addr string) (NodeClient, error)
	addr string

	newTemplate chan struct{}
}

// NewTemplateSource constructs a source bound to a node address. The
// coinbase tag has already been sanitized by the caller (see SanitizeTag).
func NewTemplateSource(addr, payAddress, coinbaseTag string, log *zap.Logger) *TemplateSource {
	return &TemplateSource{
		log:         log,
		payAddress:  payAddress,
		coinbaseTag: coinbaseTag,
		dial:        Dial,
		addr:        addr,
		newTemplate: make(chan struct{}, 1),
	}
}

// Current returns the most recently published Template, or nil if none has
// arrived yet.
func (s *TemplateSource) Current() *Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Updates returns a channel that receives a signal (not the Template itself,
// to avoid buffering stale copies) whenever Current changes.
func (s *TemplateSource) Updates() <-chan struct{} {
	return s.newTemplate
}

// Degraded reports whether the source believes the node is unreachable or
// still syncing (IBD).
func (s *TemplateSource) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Run dials the node, subscribes to new-block-template notifications, and
// keeps reconnecting with exponential backoff until ctx is done. It blocks
// until the first template has been fetched or startupGrace elapses.
func (s *TemplateSource) Run(ctx context.Context) error {
	firstTemplate := make(chan error, 1)
	go s.connectLoop(ctx, firstTemplate)

	select {
	case err := <-firstTemplate:
		return err
	case <-time.After(startupGrace):
		return errors.New("template source: no template received within startup grace period")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TemplateSource) connectLoop(ctx context.Context, firstTemplate chan<- error) {
	delay := reconnectMinDelay
	reportedFirst := false

	for {
		if ctx.Err() != nil {
			return
		}
		client, err := s.dial(ctx, s.addr)
		if err != nil {
			s.log.Warn("node unreachable, retrying", zap.Error(err), zap.Duration("backoff", delay))
			if !s.sleep(ctx, delay) {
				return
			}
			delay = nextBackoff(delay)
			continue
		}
		delay = reconnectMinDelay

		err = s.serve(ctx, client, func() {
			if !reportedFirst {
				reportedFirst = true
				firstTemplate <- nil
			}
		})
		client.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("node stream ended, reconnecting", zap.Error(err))
		s.setDegraded(true)
	}
}

// serve registers for notifications on one live connection and refreshes the
// template on each. It returns when the connection drops.
func (s *TemplateSource) serve(ctx context.Context, client NodeClient, onFirst func()) error {
	info, err := client.GetInfo()
	if err != nil {
		return errors.Wrap(err, "get_info")
	}
	if info != nil && !info.IsSynced {
		s.log.Warn("node is still syncing, serving last-known template until it catches up")
		s.setDegraded(true)
	} else {
		s.setDegraded(false)
	}

	if err := s.refresh(client); err != nil {
		return errors.Wrap(err, "initial get_block_template")
	}
	onFirst()

	err = client.RegisterForNewBlockTemplateNotifications(func(_ *appmessage.NewBlockTemplateNotificationMessage) {
		if refreshErr := s.refresh(client); refreshErr != nil {
			s.log.Warn("failed to refresh template after notification", zap.Error(refreshErr))
		}
	})
	if err != nil {
		return errors.Wrap(err, "subscribe new_block_template")
	}

	<-ctx.Done()
	return ctx.Err()
}

func (s *TemplateSource) refresh(client NodeClient) error {
	resp, err := client.GetBlockTemplate(s.payAddress, s.coinbaseTag)
	if err != nil {
		return err
	}
	if resp == nil || resp.Block == nil {
		return errors.New("node returned an empty block template")
	}

	target := bitsToTarget(resp.Block.Header.Bits)
	tmpl := &Template{
		Block:         resp.Block,
		NetworkTarget: target,
		ReceivedAt:    time.Now(),
	}

	s.mu.Lock()
	s.current = tmpl
	s.mu.Unlock()

	select {
	case s.newTemplate <- struct{}{}:
	default:
	}
	return nil
}

func (s *TemplateSource) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

func (s *TemplateSource) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return d
}

// bitsToTarget converts the compact "bits" representation the node reports
// into a full 256-bit target, the same conversion used throughout the
// Kaspa mining ecosystem (a big-endian analogue of Bitcoin's nBits).
func bitsToTarget(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := bits & 0x00ffffff

	target := new(big.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
		return target
	}
	target.Lsh(target, uint(8*(exponent-3)))
	return target
}
