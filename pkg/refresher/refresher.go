// Package refresher is the long-running supervisor that keeps the token
// vault fresh: it scans stored records, refreshes those close to expiry
// through the appropriate grant, and regenerates downstream client
// configurations when anything changed.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"

	"github.com/gatewaymesh/mcpgate/pkg/auth/provider"
	"github.com/gatewaymesh/mcpgate/pkg/clientconfig"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/process"
	"github.com/gatewaymesh/mcpgate/pkg/telemetry"
	"github.com/gatewaymesh/mcpgate/pkg/vault"
)

// Defaults for the refresh cycle.
const (
	DefaultInterval = 5 * time.Minute
	DefaultBuffer   = time.Hour
)

// maxGrantAttempts bounds retries of one upstream grant within a cycle.
const maxGrantAttempts = 3

// ErrAlreadyRunning is returned when another instance holds the lock and
// --no-kill prevents terminating it.
var ErrAlreadyRunning = errors.New("another refresher instance is already running")

// Options configures a Refresher run.
type Options struct {
	// Interval between cycles. Zero means DefaultInterval.
	Interval time.Duration

	// Buffer is the expiry window: records expiring within it are refreshed.
	Buffer time.Duration

	// Once runs a single cycle and exits.
	Once bool

	// Force refreshes every record regardless of expiry.
	Force bool

	// NoKill refuses to terminate an existing instance instead of replacing it.
	NoKill bool

	// PIDFile is the single-instance PID file path.
	PIDFile string

	// AgentCore client-credentials configuration for bedrock-agentcore records.
	AgentCoreTokenURL     string
	AgentCoreClientID     string
	AgentCoreClientSecret string
}

// Refresher drives the refresh loop.
type Refresher struct {
	vault     *vault.Vault
	provider  provider.Provider
	generator *clientconfig.Generator
	opts      Options
	lock      *flock.Flock
}

// New creates a refresher. The provider adapter serves ingress M2M
// refreshes; OAuth egress records refresh through their own endpoints.
func New(v *vault.Vault, p provider.Provider, gen *clientconfig.Generator, opts Options) *Refresher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Refresher{
		vault:     v,
		provider:  p,
		generator: gen,
		opts:      opts,
		lock:      flock.New(opts.PIDFile + ".lock"),
	}
}

// Start acquires single-instance ownership and runs cycles until the
// context is cancelled (or immediately once with Options.Once).
func (r *Refresher) Start(ctx context.Context) error {
	if err := r.acquireInstance(); err != nil {
		return err
	}
	defer r.releaseInstance()

	logger.Infof("token refresher started (interval=%s, buffer=%s, force=%v)",
		r.opts.Interval, r.opts.Buffer, r.opts.Force)

	r.runCycle(ctx)
	if r.opts.Once {
		return nil
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("token refresher shutting down")
			return nil
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// acquireInstance terminates any existing instance (unless NoKill), then
// takes the lock and writes the PID file.
func (r *Refresher) acquireInstance() error {
	if pid, err := process.ReadPIDFile(r.opts.PIDFile); err == nil && process.Alive(pid) && pid != os.Getpid() {
		if r.opts.NoKill {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		logger.Infof("terminating existing refresher instance (pid %d)", pid)
		if err := process.Terminate(pid); err != nil {
			return fmt.Errorf("failed to terminate existing instance: %w", err)
		}
	}

	locked, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	return process.WriteCurrentPIDFile(r.opts.PIDFile)
}

func (r *Refresher) releaseInstance() {
	if err := process.RemovePIDFile(r.opts.PIDFile); err != nil {
		logger.Warnf("failed to remove PID file: %v", err)
	}
	if err := r.lock.Unlock(); err != nil {
		logger.Warnf("failed to release instance lock: %v", err)
	}
}

// runCycle refreshes every due record. A failure on one record never
// skips the rest; cancellation interrupts between records, not mid-record.
func (r *Refresher) runCycle(ctx context.Context) {
	names, err := r.vault.List()
	if err != nil {
		logger.Errorf("failed to enumerate token vault: %v", err)
		return
	}

	refreshed := 0
	for _, name := range names {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec := r.vault.Read(name)
		if rec == nil {
			continue
		}

		if !r.opts.Force && rec.ExpiresAt-time.Now().Unix() >= int64(r.opts.Buffer.Seconds()) {
			continue
		}

		fresh, err := r.refreshRecord(ctx, name, rec)
		if err != nil {
			telemetry.RefreshOutcomes.WithLabelValues(rec.Provider, "failure").Inc()
			logger.Warnf("failed to refresh %s: %v", name, err)
			continue
		}
		if fresh == nil {
			// Deferred: nothing the refresher can do non-interactively.
			telemetry.RefreshOutcomes.WithLabelValues(rec.Provider, "deferred").Inc()
			continue
		}

		if err := r.vault.Write(name, fresh); err != nil {
			telemetry.RefreshOutcomes.WithLabelValues(rec.Provider, "failure").Inc()
			logger.Errorf("failed to persist refreshed token %s: %v", name, err)
			continue
		}
		telemetry.RefreshOutcomes.WithLabelValues(rec.Provider, "success").Inc()
		logger.Infof("refreshed %s (expires %s)", name, fresh.ExpiresAtHuman)
		refreshed++
	}

	if refreshed > 0 && r.generator != nil {
		if err := r.generator.Regenerate(); err != nil {
			logger.Errorf("failed to regenerate client configurations: %v", err)
		}
	}
}

// refreshRecord picks the refresh procedure from the record's provider
// and direction. It returns (nil, nil) when the record needs an
// interactive flow the refresher cannot run.
func (r *Refresher) refreshRecord(ctx context.Context, name string, rec *vault.Record) (*vault.Record, error) {
	switch {
	case rec.Provider == "bedrock-agentcore" || strings.Contains(name, "agentcore"):
		return r.refreshAgentCore(ctx, rec)
	case rec.Direction == vault.DirectionIngress:
		return r.refreshIngress(ctx, rec)
	default:
		return r.refreshOAuth(ctx, name, rec)
	}
}

// refreshIngress re-mints the gateway's inbound M2M token through the
// provider adapter.
func (r *Refresher) refreshIngress(ctx context.Context, rec *vault.Record) (*vault.Record, error) {
	if r.provider == nil {
		return nil, errors.New("no provider adapter configured for ingress refresh")
	}

	result, err := r.retryGrant(ctx, func() (*provider.TokenResult, error) {
		return r.provider.M2MToken(ctx, rec.Scopes...)
	})
	if err != nil {
		return nil, err
	}

	return r.freshRecord(rec, result), nil
}

// retryGrant wraps one upstream grant in bounded exponential backoff.
func (r *Refresher) retryGrant(ctx context.Context, grant func() (*provider.TokenResult, error)) (*provider.TokenResult, error) {
	return backoff.Retry(ctx, grant,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxGrantAttempts),
	)
}

// freshRecord carries forward the old record's identity fields with the
// new token material. The new expiry is always strictly later than the
// old record's since grants return positive lifetimes from now.
func (r *Refresher) freshRecord(old *vault.Record, result *provider.TokenResult) *vault.Record {
	fresh := *old
	fresh.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		fresh.RefreshToken = result.RefreshToken
	}
	if result.TokenType != "" {
		fresh.TokenType = result.TokenType
	}
	if len(result.Scopes) > 0 {
		fresh.Scopes = result.Scopes
	}
	fresh.ExpiresAt = time.Now().Unix() + result.ExpiresIn
	fresh.ExpiresAtHuman = ""
	return &fresh
}
