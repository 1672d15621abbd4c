package master

import (
	"bufio"
	"io"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/yagince/test-queue/internal/protocol"
)

// handleConn reads one command from an accepted connection and dispatches
// it. Commands race on accept order only; the loop serves them strictly
// one at a time.
func (m *Master) handleConn(conn net.Conn) {
	defer conn.Close()

	cmd, err := protocol.ReadCommand(bufio.NewReader(conn))
	if err != nil {
		// Malformed traffic is dropped, not fatal.
		m.log.Debug("dropping malformed command", zap.Error(err))
		return
	}

	if cmd.Token != m.ctx.Token {
		m.log.Debug("foreign token rejected", zap.String("command", cmd.Name))
		io.WriteString(conn, protocol.RespWrongRun+"\n")
		return
	}

	switch cmd.Name {
	case protocol.CmdPop:
		m.handlePop(conn)
	case protocol.CmdNewSuite:
		m.handleNewSuite(cmd.Payload)
	case protocol.CmdSlave:
		m.handleSlave(conn, cmd.Args)
	case protocol.CmdWorker:
		m.handleWorker(cmd.Payload)
	case protocol.CmdKaboom:
		m.log.Warn("KABOOM received")
		m.kaboom = true
	}
}

// handlePop answers with the next suite, the WAIT sentinel while the queue
// is not ready, or an empty body once the run is done.
func (m *Master) handlePop(conn net.Conn) {
	if m.awaiting() {
		if body, err := protocol.EncodeWaitSentinel(); err == nil {
			conn.Write(body)
		}
		return
	}

	pair, ok := m.queue.Pop()
	if !ok {
		// Empty body: the worker exits cleanly.
		return
	}

	body, err := protocol.EncodeSuitePair(pair)
	if err != nil {
		m.log.Error("encode suite pair", zap.Error(err))
		return
	}
	conn.Write(body)
	m.log.Debug("dispatched suite",
		zap.String("name", pair.Name), zap.String("path", pair.Path))
}

// handleNewSuite enqueues a discovered suite. Duplicates are no-ops. When
// the last awaited whitelist name arrives, whitelist order is re-enforced
// and discovery is asked to finish early.
func (m *Master) handleNewSuite(payload []byte) {
	pair, err := protocol.DecodeSuitePair(payload)
	if err != nil {
		m.log.Debug("dropping bad NEW SUITE", zap.Error(err))
		return
	}

	if m.queue.Add(pair) {
		m.log.Debug("queued discovered suite", zap.String("name", pair.Name))
	}

	if m.awaited[pair.Name] {
		delete(m.awaited, pair.Name)
		if len(m.awaited) == 0 {
			m.queue.EnforceOrder()
			if m.disco != nil {
				m.log.Info("whitelist satisfied, interrupting discovery")
				m.disco.Interrupt()
			}
		}
	}
}

// handleSlave registers a relay's incoming workers and acknowledges.
func (m *Master) handleSlave(conn net.Conn, args []string) {
	if len(args) < 2 {
		m.log.Debug("dropping malformed SLAVE", zap.Strings("args", args))
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		m.log.Debug("dropping SLAVE with bad worker count", zap.String("count", args[0]))
		return
	}

	m.remoteWorkers += n
	fields := []zap.Field{
		zap.Int("workers", n),
		zap.String("host", args[1]),
		zap.Int("remote_workers", m.remoteWorkers),
	}
	if len(args) > 2 {
		fields = append(fields, zap.Strings("message", args[2:]))
	}
	m.log.Info("relay connected", fields...)

	io.WriteString(conn, protocol.RespOK+"\n")
}

// handleWorker records a relay-forwarded completion and decrements the
// outstanding remote worker count.
func (m *Master) handleWorker(payload []byte) {
	rec, err := protocol.DecodeWorkerRecord(payload)
	if err != nil {
		m.log.Warn("dropping bad WORKER record", zap.Error(err))
		return
	}

	m.remoteCompleted = append(m.remoteCompleted, rec)
	if m.remoteWorkers > 0 {
		m.remoteWorkers--
	}
	m.log.Info("remote worker finished",
		zap.String("host", rec.Host),
		zap.Int("num", rec.Num),
		zap.Int("exit_status", rec.ExitStatus),
		zap.Int("remote_workers", m.remoteWorkers))
}
