package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "pi"
	testPassword = "raspberry"
)

// execHandler answers one exec request with stdout, stderr and an exit status
type execHandler func(cmd string) (stdout, stderr string, status uint32)

// testServer is an in-process SSH server speaking exec and the sftp subsystem
type testServer struct {
	addr string
	port int

	mu       sync.Mutex
	commands []string
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

// startTestServer listens on loopback. authorized may be nil to disable
// public key authentication.
func startTestServer(t *testing.T, authorized ssh.PublicKey, handler execHandler) *testServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	srv := &testServer{addr: "127.0.0.1", port: port}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg, handler)
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return srv
}

func (s *testServer) serveConn(conn net.Conn, cfg *ssh.ServerConfig, handler execHandler) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only session channels")
			continue
		}
		ch, in, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveChannel(ch, in, handler)
	}
}

func (s *testServer) serveChannel(ch ssh.Channel, in <-chan *ssh.Request, handler execHandler) {
	for req := range in {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.record(payload.Command)

			go func(cmd string) {
				stdout, stderr, status := "", "", uint32(0)
				if handler != nil {
					stdout, stderr, status = handler(cmd)
				}
				_, _ = ch.Write([]byte(stdout))
				_, _ = ch.Stderr().Write([]byte(stderr))
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				_ = ch.CloseWrite()
				_ = ch.Close()
			}(payload.Command)

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			go func() {
				server, err := sftp.NewServer(ch)
				if err == nil {
					_ = server.Serve()
				}
				_ = ch.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}
