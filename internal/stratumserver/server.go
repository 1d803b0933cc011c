package stratumserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxBufferedLineBytes = 10 * 1024 // 10 KiB flood limit, spec §4.4.2

// ShareSubmission is everything the Job Manager needs to validate one
// mining.submit, spec §4.2.3.
type ShareSubmission struct {
	ClientID       string
	RemoteAddr     string
	LocalPort      int
	Worker         string
	JobID          string
	NTime          string
	ExtraNonce1    string
	ExtraNonce2    string
	Solution       string
	Difficulty     float64
	PrevDifficulty float64
}

// ShareResult is the outcome the Job Manager reports back, spec §4.2.3.
type ShareResult struct {
	Accepted bool
	Code     int
	Message  string
}

// ShareProcessor validates shares; implemented by internal/jobmanager.
type ShareProcessor interface {
	ProcessShare(sub ShareSubmission) ShareResult
}

// Authorizer validates mining.authorize requests against an external
// identity source (address validity, worker policy), spec §4.4.3.
type Authorizer interface {
	Authorize(remoteAddr string, localPort int, worker, password string) bool
}

// Config configures one listener port, spec §4.4.1/§4.4.7.
type Config struct {
	Host              string
	Port              int
	TLSCertFile       string
	TLSKeyFile        string
	TLSEnabled        bool
	ExtraNonce2Size   int
	ConnectionTimeout time.Duration
	RebroadcastTimeout time.Duration
	InstanceID        uint8

	CheckThreshold  int
	InvalidPercent  float64
	PowLimit        *big.Int

	Authorizer     Authorizer
	ShareProcessor ShareProcessor
	Logger         *slog.Logger

	// OnRebroadcastTimeout fires when RebroadcastTimeout elapses with no
	// new job broadcast, spec §4.4.4.
	OnRebroadcastTimeout func()
	// OnBan fires when a client is banned, spec §4.4.5, so the pool
	// orchestrator can propagate the ban to sibling worker processes.
	OnBan func(remoteIP string)
}

// Server is one Stratum listener, spec §4.4.
type Server struct {
	cfg      Config
	listener net.Listener
	extra    *ExtraNonceGenerator
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	banMu      sync.RWMutex
	bannedIPs  map[string]time.Time
	staticDeny map[string]struct{}

	rebroadcastMu    sync.Mutex
	rebroadcastTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds a Server; call Serve to start accepting.
func NewServer(cfg Config, staticDenyIPs []string) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	deny := make(map[string]struct{}, len(staticDenyIPs))
	for _, ip := range staticDenyIPs {
		deny[ip] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		extra:      NewExtraNonceGenerator(cfg.InstanceID),
		logger:     cfg.Logger,
		clients:    make(map[string]*Client),
		bannedIPs:  make(map[string]time.Time),
		staticDeny: deny,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Serve starts listening. Blocks until Stop is called.
func (s *Server) Serve() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var listener net.Listener
	var err error
	if s.cfg.TLSEnabled {
		cert, cerr := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if cerr != nil {
			return fmt.Errorf("stratumserver: load TLS cert: %w", cerr)
		}
		listener, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("stratumserver: listen %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info("stratum listener started", "addr", addr, "tls", s.cfg.TLSEnabled)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop shuts the listener and all client connections down.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, c := range s.clients {
		c.cancel()
		c.Conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// PurgeBans removes ban entries older than maxAge, spec §4.4.1.
func (s *Server) PurgeBans(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	s.banMu.Lock()
	for ip, t := range s.bannedIPs {
		if t.Before(cutoff) {
			delete(s.bannedIPs, ip)
		}
	}
	s.banMu.Unlock()
}

func (s *Server) isBanned(ip string) bool {
	s.banMu.RLock()
	defer s.banMu.RUnlock()
	if _, ok := s.staticDeny[ip]; ok {
		return true
	}
	_, ok := s.bannedIPs[ip]
	return ok
}

func (s *Server) ban(ip string) {
	s.banMu.Lock()
	s.bannedIPs[ip] = time.Now()
	s.banMu.Unlock()
	if s.cfg.OnBan != nil {
		s.cfg.OnBan(ip)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if s.isBanned(host) {
		s.logger.Info("rejected banned ip", "ip", host)
		return
	}

	client := newClient(s.ctx, uuid.New().String(), conn, s.extra.Next(), s.cfg.ExtraNonce2Size)
	client.LocalPort = s.cfg.Port

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	defer s.removeClient(client)

	s.wg.Add(1)
	go s.pumpSend(client)

	s.readLoop(client)
}

func (s *Server) removeClient(c *Client) {
	c.cancel()
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
}

func (s *Server) pumpSend(c *Client) {
	defer s.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case line := <-c.sendChan:
			c.Conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if _, err := c.Conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}
}

// readLoop implements spec §4.4.2: an accumulating buffer split on '\n',
// dropping the client if the unsplit buffer exceeds 10 KiB.
func (s *Server) readLoop(c *Client) {
	reader := bufio.NewReader(c.Conn)
	var buf strings.Builder

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.Conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		chunk, err := reader.ReadString('\n')
		buf.WriteString(chunk)

		if buf.Len() > maxBufferedLineBytes {
			s.logger.Warn("socket_flooded", "client", c.ID, "remote_addr", c.RemoteAddr)
			return
		}

		if strings.HasSuffix(chunk, "\n") {
			line := strings.TrimSpace(buf.String())
			buf.Reset()
			if line != "" {
				s.handleLine(c, line)
				c.touch()
			}
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

func (s *Server) handleLine(c *Client, line string) {
	req, err := ParseRequest(line)
	if err != nil {
		if resp, merr := newError(nil, ErrCodeMalformed, "parse error").marshal(); merr == nil {
			c.send(resp)
		}
		return
	}

	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(c, req)
	case "mining.extranonce.subscribe":
		s.handleExtranonceSubscribe(c, req)
	case "mining.authorize":
		s.handleAuthorize(c, req)
	case "mining.submit":
		s.handleSubmit(c, req)
	case "mining.get_transactions":
		if resp, err := newResult(req.ID, []interface{}{}).marshal(); err == nil {
			c.send(resp)
		}
	default:
		s.logger.Debug("unknown_method", "method", req.Method, "client", c.ID)
	}
}

func (s *Server) handleSubscribe(c *Client, req *Request) {
	c.setState(StateSubscribed)
	result := newSubscribeResult(c.ID, c.ExtraNonce1, c.ExtraNonce2Size)
	if resp, err := newResult(req.ID, result).marshal(); err == nil {
		c.send(resp)
	}
}

func (s *Server) handleExtranonceSubscribe(c *Client, req *Request) {
	c.mu.Lock()
	c.SupportsExtranonceSubscribe = true
	c.mu.Unlock()
	if resp, err := newResult(req.ID, true).marshal(); err == nil {
		c.send(resp)
	}
}

func (s *Server) handleAuthorize(c *Client, req *Request) {
	if c.State() < StateSubscribed {
		if resp, err := newError(req.ID, ErrCodeNotSubscribed, "not subscribed").marshal(); err == nil {
			c.send(resp)
		}
		return
	}

	var worker, password string
	if len(req.Params) >= 1 {
		worker, _ = req.Params[0].(string)
	}
	if len(req.Params) >= 2 {
		password, _ = req.Params[1].(string)
	}

	authorized := true
	if s.cfg.Authorizer != nil {
		authorized = s.cfg.Authorizer.Authorize(c.RemoteAddr, c.LocalPort, worker, password)
	}

	if authorized {
		c.mu.Lock()
		c.WorkerName = worker
		c.mu.Unlock()
		c.setState(StateAuthorized)
	}

	if resp, err := newResult(req.ID, authorized).marshal(); err == nil {
		c.send(resp)
	}
}

func (s *Server) handleSubmit(c *Client, req *Request) {
	if c.State() < StateAuthorized {
		if resp, err := newError(req.ID, ErrCodeUnauthorized, "unauthorized worker").marshal(); err == nil {
			c.send(resp)
		}
		return
	}
	if len(req.Params) < 5 {
		if resp, err := newError(req.ID, ErrCodeMalformed, "malformed submit").marshal(); err == nil {
			c.send(resp)
		}
		return
	}

	worker, _ := req.Params[0].(string)
	jobID, _ := req.Params[1].(string)
	nTime, _ := req.Params[2].(string)
	extraNonce2, _ := req.Params[3].(string)
	solution, _ := req.Params[4].(string)

	c.setState(StateMining)

	host, _, _ := net.SplitHostPort(c.RemoteAddr)

	sub := ShareSubmission{
		ClientID:       c.ID,
		RemoteAddr:     host,
		LocalPort:      c.LocalPort,
		Worker:         worker,
		JobID:          jobID,
		NTime:          nTime,
		ExtraNonce1:    c.ExtraNonce1,
		ExtraNonce2:    extraNonce2,
		Solution:       solution,
		Difficulty:     c.Difficulty,
		PrevDifficulty: c.PreviousDifficulty,
	}

	var result ShareResult
	if s.cfg.ShareProcessor != nil {
		result = s.cfg.ShareProcessor.ProcessShare(sub)
	} else {
		result = ShareResult{Accepted: false, Code: ErrCodeMalformed, Message: "no share processor configured"}
	}

	if result.Accepted {
		if resp, err := newResult(req.ID, true).marshal(); err == nil {
			c.send(resp)
		}
	} else {
		if resp, err := newError(req.ID, result.Code, result.Message).marshal(); err == nil {
			c.send(resp)
		}
	}

	c.RecordShareResult(result.Accepted)
	s.checkBan(c, host)
}

// checkBan implements spec §4.4.5.
func (s *Server) checkBan(c *Client, ip string) {
	if s.cfg.CheckThreshold <= 0 {
		return
	}
	valid, invalid := c.shareWindow()
	total := valid + invalid
	if total < uint64(s.cfg.CheckThreshold) {
		return
	}

	invalidPct := float64(invalid) / float64(total) * 100.0
	if invalidPct >= s.cfg.InvalidPercent {
		s.ban(ip)
		c.cancel()
		c.Conn.Close()
		return
	}
	c.resetShareWindow()
}

// BroadcastMiningJobs implements spec §4.4.4: sends mining.notify to every
// live client with a liveness check, then (re)arms the rebroadcast timer.
func (s *Server) BroadcastMiningJobs(params []interface{}) {
	now := time.Now()

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if c.IsStale(now, s.cfg.ConnectionTimeout) {
			c.cancel()
			c.Conn.Close()
			continue
		}
		c.SendMiningJob(params, s.cfg.PowLimit)
	}

	s.armRebroadcastTimer()
}

func (s *Server) armRebroadcastTimer() {
	if s.cfg.RebroadcastTimeout <= 0 || s.cfg.OnRebroadcastTimeout == nil {
		return
	}
	s.rebroadcastMu.Lock()
	defer s.rebroadcastMu.Unlock()
	if s.rebroadcastTimer != nil {
		s.rebroadcastTimer.Stop()
	}
	s.rebroadcastTimer = time.AfterFunc(s.cfg.RebroadcastTimeout, s.cfg.OnRebroadcastTimeout)
}

// SendDifficultyTo queues a difficulty update for one client via
// EnqueueNextDifficulty; it takes effect with that client's next
// SendMiningJob, spec §4.4.6. Used by the VarDiff controller's callback.
func (s *Server) SendDifficultyTo(clientID string, diff float64) {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	c.EnqueueNextDifficulty(diff)
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Detach removes clients matching predicate and returns them, spec §4.7's
// relinquish/attach handoff.
func (s *Server) Detach(predicate func(*Client) bool) []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Client
	for id, c := range s.clients {
		if predicate(c) {
			out = append(out, c)
			delete(s.clients, id)
		}
	}
	return out
}

// Attach restores previously detached clients and immediately sends them
// the current job.
func (s *Server) Attach(clients []*Client, currentJobParams []interface{}) {
	s.mu.Lock()
	for _, c := range clients {
		s.clients[c.ID] = c
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.SendMiningJob(currentJobParams, s.cfg.PowLimit)
	}
}
