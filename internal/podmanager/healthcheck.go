package podmanager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/alation/acm/internal/acmerrors"
)

// healthCheckBudget is the total wall-clock budget spec.md §4.2 gives the
// Health Checker from its first attempt to a final result.
const healthCheckBudget = 30 * time.Second

// healthResult is the Health Checker's terminal outcome: err is nil on a
// successful probe.
type healthResult struct {
	err *acmerrors.Error
}

// HealthChecker is the gRPC reachability prober spec.md §4.2 describes: it
// probes addr with bounded exponential backoff until it either confirms the
// server is present, exhausts its failure budget, or is cancelled.
type HealthChecker struct {
	cancel context.CancelFunc
	done   chan struct{}
	result chan healthResult
}

// startHealthChecker launches the checker against addr and returns
// immediately; the caller reads exactly one value from Result(), or none at
// all if Kill is called first.
func startHealthChecker(parent context.Context, log logr.Logger, addr string) *HealthChecker {
	ctx, cancel := context.WithCancel(parent)
	h := &HealthChecker{
		cancel: cancel,
		done:   make(chan struct{}),
		result: make(chan healthResult, 1),
	}
	go h.run(ctx, log.WithName("health-checker").WithValues("addr", addr), addr)
	return h
}

// Result is the channel the owning Event Watcher selects on; it carries
// exactly one value, or is never written to at all if the checker was
// killed first.
func (h *HealthChecker) Result() <-chan healthResult {
	return h.result
}

// Kill cancels the checker and blocks until its goroutine has exited. Safe
// to call after the checker has already finished.
func (h *HealthChecker) Kill() {
	h.cancel()
	<-h.done
}

// Join blocks until the checker's goroutine has exited, without cancelling
// it. Safe to call after the checker has already finished.
func (h *HealthChecker) Join() {
	<-h.done
}

func (h *HealthChecker) run(ctx context.Context, log logr.Logger, addr string) {
	defer close(h.done)

	start := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = healthCheckBudget

	var lastErr error

	for {
		interval := bo.NextBackOff()
		if interval == backoff.Stop {
			h.emit(ctx, healthResult{err: acmerrors.TooManyFailures(addr, lastErr)})
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		remaining := healthCheckBudget - time.Since(start)
		if remaining <= 0 {
			h.emit(ctx, healthResult{err: acmerrors.NotReady()})
			return
		}

		connCtx, connCancel := context.WithTimeout(ctx, remaining)
		probeDone := make(chan error, 1)
		go func() { probeDone <- probeGRPCHealth(connCtx, addr) }()

		select {
		case err := <-probeDone:
			connCancel()
			if err == nil {
				h.emit(ctx, healthResult{})
				return
			}
			lastErr = err
		case <-connCtx.Done():
			connCancel()
			if ctx.Err() != nil {
				return
			}
			log.V(1).Info("health check slow-loris timeout, giving up")
			h.emit(ctx, healthResult{err: acmerrors.NotReady()})
			return
		}
	}
}

// emit delivers r unless the checker has since been cancelled; cancellation
// always wins so Kill() never races a stale result onto the channel.
func (h *HealthChecker) emit(ctx context.Context, r healthResult) {
	if ctx.Err() != nil {
		return
	}
	h.result <- r
}

// probeGRPCHealth dials addr and issues a single Health.Check RPC. Per
// spec.md §4.2, any response from the server — including an RPC-level error
// such as Unimplemented, which is what a connector without a health service
// returns — counts as success; only a failure to establish the connection
// or complete the call within ctx's deadline counts as a probe failure.
func probeGRPCHealth(ctx context.Context, addr string) error {
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	_, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return err
	default:
		// The server answered, just not affirmatively; that still counts
		// as "present" per the spec's "any response" rule.
		return nil
	}
}
