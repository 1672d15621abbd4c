// Package master owns the suite queue, the listening endpoint, and the
// dispatch protocol. The dispatch loop is a single goroutine; every queue
// mutation, worker-table update, and counter change happens inside it, so
// none of that state needs locking.
package master

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/discovery"
	"github.com/yagince/test-queue/internal/protocol"
	"github.com/yagince/test-queue/internal/queue"
	"github.com/yagince/test-queue/internal/runctx"
	"github.com/yagince/test-queue/internal/worker"
)

// acceptWindow is the listener readiness poll used by the dispatch loop;
// its only suspension point.
const acceptWindow = 100 * time.Millisecond

// ErrKaboom reports that a worker escalated early failure.
var ErrKaboom = errors.New("a worker signaled KABOOM, stopping the run")

// deadlineListener is satisfied by both *net.TCPListener and
// *net.UnixListener.
type deadlineListener interface {
	SetDeadline(time.Time) error
}

// Master runs the primary dispatch loop.
type Master struct {
	ctx   *runctx.Context
	log   *zap.Logger
	queue *queue.Queue

	listener net.Listener
	endpoint protocol.Endpoint

	supervisor *worker.Supervisor
	disco      *discovery.Child

	// awaited holds whitelist names not yet seen in the queue. While
	// non-empty the queue is not ready and POP gets WAIT.
	awaited map[string]bool

	remoteWorkers   int
	remoteCompleted []*protocol.WorkerRecord

	kaboom bool
	start  time.Time
}

// New creates a master over an already-seeded queue.
func New(rctx *runctx.Context, q *queue.Queue, sup *worker.Supervisor, log *zap.Logger) *Master {
	m := &Master{
		ctx:        rctx,
		log:        log,
		queue:      q,
		supervisor: sup,
		awaited:    make(map[string]bool),
	}
	for _, name := range rctx.Whitelist {
		if !q.SeenName(name) {
			m.awaited[name] = true
		}
	}
	return m
}

// Listen opens the listening endpoint. Filesystem sockets are created
// user-only; a stale socket file is removed first.
func (m *Master) Listen() error {
	ep, err := protocol.ParseEndpoint(m.ctx.ListenEndpoint)
	if err != nil {
		return err
	}

	if ep.Network == "unix" {
		if err := os.Remove(ep.Addr); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen(ep.Network, ep.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", ep.Addr, err)
	}

	if ep.Network == "unix" {
		if err := os.Chmod(ep.Addr, 0o600); err != nil {
			listener.Close()
			return fmt.Errorf("set socket permissions: %w", err)
		}
	}

	m.listener = listener
	m.endpoint = ep
	m.log.Info("listening", zap.String("endpoint", ep.Addr))
	return nil
}

// SetDiscovery hands the master the discovery child to supervise. Must be
// called before Loop.
func (m *Master) SetDiscovery(c *discovery.Child) {
	m.disco = c
}

// AwaitedNames returns the whitelist names still missing from the queue,
// sorted.
func (m *Master) AwaitedNames() []string {
	names := make([]string, 0, len(m.awaited))
	for name := range m.awaited {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoteCompleted returns worker records forwarded by relays, in arrival
// order.
func (m *Master) RemoteCompleted() []*protocol.WorkerRecord {
	return m.remoteCompleted
}

// awaiting reports whether POP must answer WAIT instead of draining: a
// forced suite is still missing, or the queue is empty while discovery
// may yet produce more.
func (m *Master) awaiting() bool {
	if len(m.awaited) > 0 {
		return true
	}
	return m.queue.Len() == 0 && m.disco != nil && m.disco.Running()
}

// Loop serves suites until the queue is drained, discovery has ended, and
// no remote worker is outstanding. It always closes the listener and
// synchronously reaps remaining local workers on the way out.
func (m *Master) Loop(ctx context.Context) (err error) {
	m.start = time.Now()

	defer func() {
		m.Close()
		if err != nil {
			// Abort path: hard-kill everything before reaping. Workers on
			// the normal path notice the closed listener and exit on
			// their own.
			if m.disco != nil {
				m.disco.Kill()
			}
			m.supervisor.KillAll()
		}
		m.supervisor.ReapAll()
	}()

	dl, _ := m.listener.(deadlineListener)

	for {
		if hook := m.ctx.Hooks.QueueStatus; hook != nil {
			hook(m.start, m.queue.Len(), m.supervisor.Count(), m.remoteWorkers)
		}

		if m.disco != nil {
			if exited, status := m.disco.Poll(); exited {
				if status != 0 {
					return fmt.Errorf("discovery exited with status %d", status)
				}
				if len(m.awaited) > 0 {
					return fmt.Errorf("missing forced suites: %v", m.AwaitedNames())
				}
				m.disco = nil
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !m.awaiting() && m.queue.Len() == 0 && m.remoteWorkers == 0 {
			return nil
		}

		if dl != nil {
			dl.SetDeadline(time.Now().Add(acceptWindow))
		}
		conn, err := m.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				m.supervisor.ReapNonblocking()
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		m.handleConn(conn)
		if m.kaboom {
			return ErrKaboom
		}
	}
}

// Close shuts the listener and removes a filesystem socket. Idempotent.
func (m *Master) Close() {
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
	}
	if m.endpoint.Network == "unix" {
		os.Remove(m.endpoint.Addr)
	}
}
