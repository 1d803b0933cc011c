package stratumserver

import (
	"bufio"
	"encoding/json"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthorizer struct{ allow bool }

func (f fakeAuthorizer) Authorize(remoteAddr string, localPort int, worker, password string) bool {
	return f.allow
}

type fakeShareProcessor struct{ result ShareResult }

func (f fakeShareProcessor) ProcessShare(sub ShareSubmission) ShareResult {
	return f.result
}

func startTestServer(t *testing.T, cfg Config) (*Server, net.Conn, *bufio.Reader) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	cfg.Host = "127.0.0.1"
	cfg.Port = port
	cfg.ExtraNonce2Size = 4
	cfg.ConnectionTimeout = time.Minute
	cfg.PowLimit = big.NewInt(0).SetBytes(mustHex("0007ffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"))

	srv := NewServer(cfg, nil)
	go srv.Serve()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)

	return srv, conn, bufio.NewReader(conn)
}

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		var v int
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			v <<= 4
			switch {
			case c >= '0' && c <= '9':
				v |= int(c - '0')
			case c >= 'a' && c <= 'f':
				v |= int(c-'a') + 10
			}
		}
		b[i] = byte(v)
	}
	return b
}

func TestServer_SubscribeAuthorizeSubmitHappyPath(t *testing.T) {
	srv, conn, reader := startTestServer(t, Config{
		Authorizer:     fakeAuthorizer{allow: true},
		ShareProcessor: fakeShareProcessor{result: ShareResult{Accepted: true}},
	})
	defer srv.Stop()
	defer conn.Close()

	conn.Write([]byte(`{"id":1,"method":"mining.subscribe","params":[]}` + "\n"))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Nil(t, resp.Error)

	conn.Write([]byte(`{"id":2,"method":"mining.authorize","params":["tAddr.w1","x"]}` + "\n"))
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, true, resp.Result)

	conn.Write([]byte(`{"id":3,"method":"mining.submit","params":["tAddr.w1","job1","00000000","aabbccdd","00"]}` + "\n"))
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, true, resp.Result)
	assert.Nil(t, resp.Error)
}

func TestServer_SubmitBeforeAuthorizeRejected(t *testing.T) {
	srv, conn, reader := startTestServer(t, Config{
		Authorizer:     fakeAuthorizer{allow: false},
		ShareProcessor: fakeShareProcessor{result: ShareResult{Accepted: true}},
	})
	defer srv.Stop()
	defer conn.Close()

	conn.Write([]byte(`{"id":1,"method":"mining.subscribe","params":[]}` + "\n"))
	_, err := reader.ReadString('\n')
	require.NoError(t, err)

	conn.Write([]byte(`{"id":2,"method":"mining.submit","params":["w","job1","00000000","aabbccdd","00"]}` + "\n"))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Nil(t, resp.Result)
	assert.NotNil(t, resp.Error)
}

func TestServer_UnknownMethodNoResponse(t *testing.T) {
	srv, conn, _ := startTestServer(t, Config{})
	defer srv.Stop()
	defer conn.Close()

	conn.Write([]byte(`{"id":1,"method":"mining.bogus","params":[]}` + "\n"))
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	_, err := conn.Read(buf)
	assert.Error(t, err) // read times out: no response was sent
}

func TestExtraNonceGenerator_Unique(t *testing.T) {
	g := NewExtraNonceGenerator(3)
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		n := g.Next()
		assert.False(t, seen[n])
		seen[n] = true
	}
}
