// Package supervisor wires one configured instance's Template Source, Job
// Registry, Stratum Server, metrics endpoint, and terminal stats table
// together, and manages their lifecycle as a unit.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rkbridge/stratum-bridge/internal/config"
	"github.com/rkbridge/stratum-bridge/internal/jobs"
	"github.com/rkbridge/stratum-bridge/internal/kaspaapi"
	"github.com/rkbridge/stratum-bridge/internal/metrics"
	"github.com/rkbridge/stratum-bridge/internal/stats"
	"github.com/rkbridge/stratum-bridge/internal/stratum"
	"github.com/rkbridge/stratum-bridge/internal/submit"
	"github.com/rkbridge/stratum-bridge/internal/validator"
)

const jobRegistryCapacity = 32

// Instance runs one configured stratum port end to end.
type Instance struct {
	name   string
	cfg    config.InstanceConfig
	global config.GlobalConfig
	log    *zap.Logger

	templateSource *kaspaapi.TemplateSource
	registry       *jobs.Registry
	server         *stratum.Server
	metrics        *metrics.Instance
	stats          *stats.Table
	submitTracker  *submit.Tracker
	httpServer     *http.Server
}

// NewInstance constructs everything for one InstanceConfig without starting
// any goroutines.
func NewInstance(global config.GlobalConfig, cfg config.InstanceConfig, log *zap.Logger) (*Instance, error) {
	name := fmt.Sprintf(":%d", cfg.StratumPort)
	log = log.With(zap.String("bridge_instance", name))

	tag := kaspaapi.SanitizeTag(cfg.CoinbaseTag)
	ts := kaspaapi.NewTemplateSource(global.KaspadAddress, cfg.PayAddress, tag, log)

	registry := jobs.NewRegistry(jobRegistryCapacity)
	m := metrics.NewInstance(name)
	statTable := stats.NewTable()

	inst := &Instance{
		name:           name,
		cfg:            cfg,
		global:         global,
		log:            log,
		templateSource: ts,
		registry:       registry,
		metrics:        m,
		stats:          statTable,
	}

	sharesPerMin := global.SharesPerMinFor(cfg)
	server := stratum.NewServer(
		fmt.Sprintf(":%d", cfg.StratumPort),
		registry,
		inst,
		cfg.MinShareDiff,
		sharesPerMin,
		global.Pow2Clamp,
		log,
	)
	inst.server = server
	return inst, nil
}

// Run starts all of the instance's subsystems and blocks until ctx is
// canceled, then drains them in order.
func (inst *Instance) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return inst.templateSource.Run(ctx)
	})

	submitClient, err := kaspaapi.Dial(ctx, inst.global.KaspadAddress)
	if err != nil {
		inst.log.Warn("could not open a dedicated submission connection; blocks will not be submitted until reconnect", zap.Error(err))
	} else {
		inst.submitTracker = submit.NewTracker(submitClient, 4, inst.metrics.BlocksAccepted.Inc, inst.log)
	}

	if err := inst.server.Start(ctx); err != nil {
		return fmt.Errorf("start stratum server: %w", err)
	}

	if inst.cfg.PromPort != 0 {
		mux := inst.metrics.NewServeMux()
		inst.httpServer = &http.Server{Addr: fmt.Sprintf(":%d", inst.cfg.PromPort), Handler: mux}
		g.Go(func() error {
			if err := inst.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if inst.global.PrintStats {
		stop := make(chan struct{})
		g.Go(func() error {
			inst.stats.Run(10*time.Second, stop)
			return nil
		})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
	}

	g.Go(func() error {
		return inst.publishLoop(ctx)
	})

	<-ctx.Done()
	inst.server.Stop()
	if inst.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		inst.httpServer.Shutdown(shutdownCtx)
	}
	return g.Wait()
}

// publishLoop turns each template update into a job and broadcasts it,
// republishing on block_wait_time idle ticks so miners stay fed.
func (inst *Instance) publishLoop(ctx context.Context) error {
	ticker := time.NewTicker(inst.global.BlockWaitTime)
	defer ticker.Stop()

	var lastTemplateAt time.Time

	publish := func(cleanJobs bool) {
		tmpl := inst.templateSource.Current()
		if tmpl == nil {
			return
		}
		job, err := inst.registry.Publish(tmpl)
		if err != nil {
			inst.log.Warn("failed to publish job from template", zap.Error(err))
			return
		}
		inst.metrics.JobAgeSeconds.Set(0)
		inst.server.BroadcastJob(job, cleanJobs)
		lastTemplateAt = tmpl.ReceivedAt
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-inst.templateSource.Updates():
			publish(true)
		case <-ticker.C:
			if !lastTemplateAt.IsZero() && time.Since(lastTemplateAt) >= inst.global.BlockWaitTime {
				publish(false)
			}
			if latest := inst.registry.Latest(); latest != nil {
				inst.metrics.JobAgeSeconds.Set(time.Since(latest.CreatedAt).Seconds())
			}
		}
	}
}

// ShareAccepted implements stratum.ShareSink.
func (inst *Instance) ShareAccepted(worker string, family stratum.Family, difficulty float64) {
	inst.metrics.SharesAccepted.WithLabelValues(worker).Inc()
	inst.metrics.CurrentDiff.WithLabelValues(worker).Set(difficulty)
	inst.stats.Accepted(worker, family.String(), difficulty)
}

// ShareRejected implements stratum.ShareSink.
func (inst *Instance) ShareRejected(worker string, family stratum.Family, reason validator.RejectReason) {
	inst.metrics.SharesRejected.WithLabelValues(worker, rejectReasonLabel(reason)).Inc()
	inst.stats.Rejected(worker, family.String(), reason == validator.RejectStaleJob)
}

// BlockCandidate implements stratum.ShareSink: a share met the network
// target, so it's handed to the submission tracker.
func (inst *Instance) BlockCandidate(job *jobs.Job, worker string, result *validator.Result) {
	inst.metrics.BlocksFound.Inc()
	inst.log.Info("block candidate found", zap.String("worker", worker), zap.Uint64("job_id", job.ID))
	if inst.submitTracker != nil {
		inst.submitTracker.Submit(result.Block, job.PrePowHash, worker)
	}
}

func rejectReasonLabel(r validator.RejectReason) string {
	switch r {
	case validator.RejectStaleJob:
		return "stale_job"
	case validator.RejectDuplicate:
		return "duplicate"
	case validator.RejectLowDifficulty:
		return "low_difficulty"
	default:
		return "bad_submission"
	}
}
