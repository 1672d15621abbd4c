package master

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/runctx"
)

// handshakeBackoff is the retry interval while waiting for the primary to
// come up.
const handshakeBackoff = 500 * time.Millisecond

// Relay is the remote-master side of relay mode: it announces this host's
// workers to the primary and forwards each finalized worker record back.
// Suite dispatch never flows through it; remote workers dial the primary
// directly.
type Relay struct {
	ctx    *runctx.Context
	client *protocol.Client
	log    *zap.Logger
}

// NewRelay creates a relay pointed at the primary's endpoint.
func NewRelay(rctx *runctx.Context, log *zap.Logger) (*Relay, error) {
	client, err := protocol.NewClient(rctx.RelayEndpoint, rctx.Token)
	if err != nil {
		return nil, err
	}
	return &Relay{ctx: rctx, client: client, log: log}, nil
}

// Handshake announces this relay's worker count, retrying connection
// failures within the configured window. A foreign token, any other non-OK
// reply, or an exhausted window is fatal.
func (r *Relay) Handshake() error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	deadline := time.Now().Add(r.ctx.RelayConnectTimeout)
	for {
		err := r.client.Slave(r.ctx.Concurrency, hostname, r.ctx.SlaveMessage)
		if err == nil {
			r.log.Info("relay handshake accepted",
				zap.String("primary", r.ctx.RelayEndpoint),
				zap.Int("workers", r.ctx.Concurrency))
			return nil
		}
		if errors.Is(err, protocol.ErrWrongRun) {
			return fmt.Errorf("relay handshake: %w", err)
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) || opErr.Op != "dial" {
			// Connected, but the reply was not OK.
			return fmt.Errorf("relay handshake: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("relay handshake: primary unreachable after %s: %w",
				r.ctx.RelayConnectTimeout, err)
		}
		r.log.Debug("primary not ready, retrying", zap.Error(err))
		time.Sleep(handshakeBackoff)
	}
}

// ForwardWorker sends a finalized local worker record to the primary.
// Wired as the supervisor's OnReap callback.
func (r *Relay) ForwardWorker(rec *protocol.WorkerRecord) {
	if err := r.client.SendWorker(rec); err != nil {
		// Not recoverable: the primary will simply never hear back.
		r.log.Error("forward worker record", zap.Int("num", rec.Num), zap.Error(err))
	}
}
