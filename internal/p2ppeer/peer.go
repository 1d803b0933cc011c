package p2ppeer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	maxReconnectAttempts = 5
	reconnectBackoff     = 5 * time.Second
)

// Config configures one peer connection, spec §4.6.
type Config struct {
	Host            string
	Port            int
	Magic           uint32
	ProtocolVersion int32
	UserAgent       string
	StartHeight     int32
	Nonce           uint64
	Logger          *slog.Logger

	OnBlockFound          func(hashHex string)
	OnTransactionReceived func(hashHex string)
	OnConnectionFailed    func(err error)
	OnError               func(err error)
}

// Peer is one outbound connection to the coin's native P2P port.
type Peer struct {
	cfg    Config
	conn   net.Conn
	logger *slog.Logger
	stop   chan struct{}
}

// NewPeer builds a Peer; call Run to connect and serve the message loop.
func NewPeer(cfg Config) *Peer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Peer{cfg: cfg, logger: cfg.Logger, stop: make(chan struct{})}
}

// Stop terminates the peer's connection and reconnect loop.
func (p *Peer) Stop() {
	close(p.stop)
	if p.conn != nil {
		p.conn.Close()
	}
}

// Run connects, handshakes, and serves the message loop, reconnecting per
// spec §4.6's policy: up to 5 attempts with 5s back-off, hard stop on
// ECONNREFUSED.
func (p *Peer) Run() {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		select {
		case <-p.stop:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", net.JoinHostPort(p.cfg.Host, fmt.Sprintf("%d", p.cfg.Port)), 10*time.Second)
		if err != nil {
			if isConnRefused(err) {
				if p.cfg.OnConnectionFailed != nil {
					p.cfg.OnConnectionFailed(err)
				}
				return
			}
			p.logger.Warn("p2ppeer: dial failed, retrying", "attempt", attempt+1, "err", err)
			time.Sleep(reconnectBackoff)
			continue
		}

		p.conn = conn
		if err := p.handshake(); err != nil {
			p.logger.Warn("p2ppeer: handshake failed", "err", err)
			conn.Close()
			time.Sleep(reconnectBackoff)
			continue
		}

		p.logger.Info("p2ppeer: connected", "host", p.cfg.Host, "port", p.cfg.Port)
		p.serve() // blocks until the connection drops
		conn.Close()
		attempt = -1 // a successful connection resets the attempt budget
		time.Sleep(reconnectBackoff)
	}
}

func (p *Peer) handshake() error {
	v := VersionMsg{
		ProtocolVersion: p.cfg.ProtocolVersion,
		Services:        ServiceNodeNetwork,
		Timestamp:       time.Now().Unix(),
		Nonce:           p.cfg.Nonce,
		UserAgent:       p.cfg.UserAgent,
		StartHeight:     p.cfg.StartHeight,
		Relay:           true,
	}
	if err := writeMessage(p.conn, p.cfg.Magic, CmdVersion, v.encode()); err != nil {
		return err
	}

	sawVersion, sawVerack := false, false
	for !sawVersion || !sawVerack {
		header, payload, err := readMessage(p.conn, p.cfg.Magic)
		if err != nil {
			return err
		}
		switch header.Command {
		case CmdVersion:
			sawVersion = true
			if err := writeMessage(p.conn, p.cfg.Magic, CmdVerack, nil); err != nil {
				return err
			}
		case CmdVerack:
			sawVerack = true
		default:
			_ = payload // ignore anything else during handshake
		}
	}
	return nil
}

// serve runs the post-handshake message loop until the connection errors.
func (p *Peer) serve() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		header, payload, err := readMessage(p.conn, p.cfg.Magic)
		if err != nil {
			if p.cfg.OnError != nil {
				p.cfg.OnError(err)
			}
			return
		}

		switch header.Command {
		case CmdPing:
			writeMessage(p.conn, p.cfg.Magic, CmdPong, payload)
		case CmdInv:
			p.handleInv(payload)
		case CmdVerack, CmdVersion:
			// already handled during handshake; ignore stragglers
		}
	}
}

func (p *Peer) handleInv(payload []byte) {
	buf := bytes.NewReader(payload)
	count, err := getVarInt(buf)
	if err != nil {
		return
	}
	// spec §4.6 iterates 36-byte items: 4-byte type + 32-byte hash.
	for i := uint64(0); i < count; i++ {
		var item [36]byte
		if _, err := buf.Read(item[:]); err != nil {
			return
		}
		invType := binary.LittleEndian.Uint32(item[0:4])
		hash := reversedHex(item[4:36])
		switch invType {
		case InvTypeBlock:
			if p.cfg.OnBlockFound != nil {
				p.cfg.OnBlockFound(hash)
			}
		case InvTypeTx:
			if p.cfg.OnTransactionReceived != nil {
				p.cfg.OnTransactionReceived(hash)
			}
		}
	}
}

func reversedHex(b []byte) string {
	rev := make([]byte, len(b))
	for i := range b {
		rev[i] = b[len(b)-1-i]
	}
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(rev)*2)
	for i, v := range rev {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xF]
	}
	return string(out)
}

func getVarInt(buf *bytes.Reader) (uint64, error) {
	first, err := buf.ReadByte()
	if err != nil {
		return 0, err
	}
	switch first {
	case 0xFD:
		var v uint16
		if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xFE:
		var v uint32
		if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xFF:
		var v uint64
		if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return v, nil
	default:
		return uint64(first), nil
	}
}

func isConnRefused(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection refused")
}
