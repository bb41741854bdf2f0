// internal/federation/federation.go
package federation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/user/collabhub/internal/hub"
	"github.com/user/collabhub/internal/peer"
	"github.com/user/collabhub/internal/types"
)

const (
	dialTimeout        = 5 * time.Second
	frameTimeout       = 10 * time.Second
	acceptPollInterval = 200 * time.Millisecond
)

// Frame types exchanged between hubs. One frame per connection, newline-JSON,
// with a one-line ack back.
const (
	frameConnectionRequest = "connection_request"
	frameApproved          = "approved"
	frameSessionUpdate     = "session_update"
	framePing              = "ping"
)

type frame struct {
	Type      string                   `json:"type"`
	FromHubID string                   `json:"from_hub_id,omitempty"`
	AuthToken string                   `json:"auth_token,omitempty"`
	Request   *types.ConnectionRequest `json:"request,omitempty"`
	Approved  *types.ConnectedHub      `json:"approved,omitempty"`
	Sessions  []*types.RemoteSession   `json:"sessions,omitempty"`
}

type ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Dialer sends one frame per connection to a peer hub. Session pushes and
// pings carry the auth token minted at approval time; the peer manager is the
// source of truth for which token belongs to which address.
type Dialer struct {
	peers *peer.Manager
}

// NewDialer creates the outbound half of federation.
func NewDialer(peers *peer.Manager) *Dialer {
	return &Dialer{peers: peers}
}

// SendConnectionRequest delivers a handshake request. No token yet; the
// receiving hub holds it pending until a human approves.
func (d *Dialer) SendConnectionRequest(address string, port int, req *types.ConnectionRequest) error {
	return d.send(address, port, frame{Type: frameConnectionRequest, FromHubID: req.FromHubID, Request: req})
}

// SendApproval tells the requester its request was approved, carrying our
// identity and the shared token.
func (d *Dialer) SendApproval(address string, port int, approved *types.ConnectedHub) error {
	return d.send(address, port, frame{Type: frameApproved, FromHubID: approved.HubID, Approved: approved})
}

// PushSessions replaces our session projection on the peer.
func (d *Dialer) PushSessions(address string, port int, fromHubID string, sessions []*types.RemoteSession) error {
	token, ok := d.tokenFor(address, port)
	if !ok {
		return fmt.Errorf("no peer link for %s:%d", address, port)
	}
	return d.send(address, port, frame{
		Type:      frameSessionUpdate,
		FromHubID: fromHubID,
		AuthToken: token,
		Sessions:  sessions,
	})
}

// Ping refreshes our liveness on the peer.
func (d *Dialer) Ping(address string, port int, fromHubID string) error {
	token, ok := d.tokenFor(address, port)
	if !ok {
		return fmt.Errorf("no peer link for %s:%d", address, port)
	}
	return d.send(address, port, frame{Type: framePing, FromHubID: fromHubID, AuthToken: token})
}

func (d *Dialer) tokenFor(address string, port int) (string, bool) {
	for _, p := range d.peers.ConnectedHubs() {
		if p.Address == address && p.Port == port {
			return p.AuthToken, true
		}
	}
	return "", false
}

func (d *Dialer) send(address string, port int, f frame) error {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial hub %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(frameTimeout))

	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read ack: %w", err)
		}
		return errors.New("peer closed without ack")
	}
	var a ack
	if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
		return fmt.Errorf("unmarshal ack: %w", err)
	}
	if !a.Success {
		return fmt.Errorf("peer refused %s frame: %s", f.Type, a.Error)
	}
	return nil
}

// Listener accepts inbound federation frames and applies them to the hub.
// Handshake frames are open; session updates and pings must present the token
// minted for the sending hub.
type Listener struct {
	hub      *hub.Hub
	listener *net.TCPListener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen binds the federation port. bindAddr may be empty for all interfaces;
// port 0 picks an ephemeral port, readable from Port().
func Listen(h *hub.Hub, bindAddr string, port int) (*Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(bindAddr, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, err
	}
	tcpListener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind federation port: %w", err)
	}
	return &Listener{hub: h, listener: tcpListener}, nil
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Start launches the accept loop.
func (l *Listener) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.acceptLoop()
	slog.Info("federation listening", "addr", l.listener.Addr())
}

// Stop shuts the listener down and waits for in-flight frames.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.listener.Close()
	l.wg.Wait()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		l.listener.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := l.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-l.ctx.Done():
				return
			default:
				slog.Warn("federation accept failed", "error", err)
				time.Sleep(acceptPollInterval)
				continue
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.serveConn(conn)
		}()
	}
}

func (l *Listener) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(frameTimeout))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	var f frame
	if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
		writeAck(conn, fmt.Errorf("malformed frame"))
		return
	}
	writeAck(conn, l.handle(f))
}

func (l *Listener) handle(f frame) error {
	switch f.Type {
	case frameConnectionRequest:
		if f.Request == nil {
			return errors.New("missing request body")
		}
		return l.hub.HandleConnectionRequest(f.Request)

	case frameApproved:
		if f.Approved == nil {
			return errors.New("missing approval body")
		}
		return l.hub.HandleApproval(f.Approved)

	case frameSessionUpdate:
		if err := l.authorize(f); err != nil {
			return err
		}
		return l.hub.HandleSessionUpdate(f.FromHubID, f.Sessions)

	case framePing:
		if err := l.authorize(f); err != nil {
			return err
		}
		return l.hub.HandlePing(f.FromHubID)

	default:
		return fmt.Errorf("unknown frame type: %s", f.Type)
	}
}

func (l *Listener) authorize(f frame) error {
	linked, ok := l.hub.Peers.GetConnectedHub(f.FromHubID)
	if !ok {
		return fmt.Errorf("hub not connected: %s", f.FromHubID)
	}
	if f.AuthToken == "" || f.AuthToken != linked.AuthToken {
		return errors.New("invalid auth token")
	}
	return nil
}

func writeAck(conn net.Conn, err error) {
	a := ack{Success: err == nil}
	if err != nil {
		a.Error = err.Error()
	}
	line, merr := json.Marshal(a)
	if merr != nil {
		return
	}
	line = append(line, '\n')
	conn.Write(line)
}
