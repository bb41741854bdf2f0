// internal/hub/server.go
package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/collabhub/internal/protocol"
)

const (
	acceptPollInterval   = 200 * time.Millisecond
	maxConnections       = 64
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 4 * 1024 * 1024
)

// Server is the local IPC transport: newline-JSON commands over a unix
// socket. The accept loop polls with a deadline and sleeps between polls;
// each accepted connection gets its own worker that reads one line, holds
// the hub lock for the dispatch, writes one line back, then reads the next.
type Server struct {
	hub        *Hub
	socketPath string
	listener   *net.UnixListener
	sem        *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server for the hub at the given socket path.
func NewServer(h *Hub, socketPath string) *Server {
	return &Server{
		hub:        h,
		socketPath: socketPath,
		sem:        semaphore.NewWeighted(maxConnections),
	}
}

// Start binds the socket and launches the accept loop. A leftover socket
// file from an unclean shutdown is removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		return err
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()
	slog.Info("hub listening", "socket", s.socketPath)
	return nil
}

// Stop shuts the server down and waits for in-flight workers.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

// Done is closed when the server has been asked to stop, including by a
// Shutdown command.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.listener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Warn("accept failed", "error", err)
				time.Sleep(acceptPollInterval)
				continue
			}
		}

		if !s.sem.TryAcquire(1) {
			// Over the connection cap; refuse rather than queue.
			resp := protocol.Fail(errors.New("hub busy: too many connections"))
			writeResponse(conn, resp)
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, scannerInitialBuffer), scannerMaxBuffer)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd protocol.Command
		var resp protocol.Response
		if err := json.Unmarshal(line, &cmd); err != nil {
			resp = protocol.Fail(errors.New("malformed command line"))
		} else {
			resp = s.hub.Dispatch(cmd)
		}

		if err := writeResponse(conn, resp); err != nil {
			slog.Debug("write response failed", "error", err)
			return
		}

		if cmd.Cmd == protocol.CmdShutdown && resp.Success {
			slog.Info("shutdown requested over transport")
			s.cancel()
			return
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func writeResponse(conn net.Conn, resp protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
