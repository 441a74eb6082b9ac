package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal in-process SSH daemon that accepts password
// auth and echoes bytes on every forwarded channel. It records the target
// address of each direct-tcpip open so tests can assert where the tunnel
// pointed.
type testSSHServer struct {
	addr    *net.TCPAddr
	targets chan string
}

func startTestSSHServer(t *testing.T, username, password string) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == username && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %q", meta.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &testSSHServer{
		addr:    ln.Addr().(*net.TCPAddr),
		targets: make(chan string, 8),
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn, config)
		}
	}()

	return srv
}

func (s *testSSHServer) handle(conn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer func() { _ = sconn.Close() }()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "direct-tcpip" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		var open struct {
			DestAddr   string
			DestPort   uint32
			OriginAddr string
			OriginPort uint32
		}
		if err := ssh.Unmarshal(newChannel.ExtraData(), &open); err == nil {
			s.targets <- fmt.Sprintf("%s:%d", open.DestAddr, open.DestPort)
		}

		channel, channelReqs, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go ssh.DiscardRequests(channelReqs)
		go func() {
			defer func() { _ = channel.Close() }()
			_, _ = io.Copy(channel, channel)
		}()
	}
}

func (s *testSSHServer) config(password string) Config {
	return Config{
		Host:     "127.0.0.1",
		Port:     s.addr.Port,
		Username: "dev",
		Password: password,
	}
}

// ============================================================================
// Construction and validation
// ============================================================================

func TestNewValidation(t *testing.T) {
	t.Run("MissingHost", func(t *testing.T) {
		_, err := New(Config{Port: 22, Username: "dev"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host")
	})

	t.Run("PortZero", func(t *testing.T) {
		_, err := New(Config{Host: "exec-1", Username: "dev"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})

	t.Run("PortOutOfRange", func(t *testing.T) {
		_, err := New(Config{Host: "exec-1", Port: 70000, Username: "dev"})
		require.Error(t, err)
	})

	t.Run("MissingUsername", func(t *testing.T) {
		_, err := New(Config{Host: "exec-1", Port: 22})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "username")
	})

	t.Run("Valid", func(t *testing.T) {
		tun, err := New(Config{Host: "exec-1", Port: 22, Username: "dev", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "exec-1:22", tun.Addr())
	})

	t.Run("IPv6HostIsBracketed", func(t *testing.T) {
		tun, err := New(Config{Host: "::1", Port: 22, Username: "dev"})
		require.NoError(t, err)
		assert.Equal(t, "[::1]:22", tun.Addr())
	})
}

func TestClientConfig(t *testing.T) {
	tun, err := New(Config{Host: "exec-1", Port: 22, Username: "dev", Password: "secret"})
	require.NoError(t, err)

	config := tun.clientConfig()
	assert.Equal(t, "dev", config.User)
	assert.Len(t, config.Auth, 1)
	assert.NotNil(t, config.HostKeyCallback)
	assert.Equal(t, dialTimeout, config.Timeout)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestDialRequiresOpen(t *testing.T) {
	tun, err := New(Config{Host: "exec-1", Port: 22, Username: "dev"})
	require.NoError(t, err)

	_, err = tun.Dial()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not open")
}

func TestCloseWithoutOpenIsNoop(t *testing.T) {
	tun, err := New(Config{Host: "exec-1", Port: 22, Username: "dev"})
	require.NoError(t, err)
	assert.NoError(t, tun.Close())
	assert.NoError(t, tun.Close())
}

func TestOpenHonorsContextCancellation(t *testing.T) {
	tun, err := New(Config{Host: "203.0.113.1", Port: 22, Username: "dev"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, tun.Open(ctx))
}

func TestOpenRejectsBadPassword(t *testing.T) {
	srv := startTestSSHServer(t, "dev", "secret")

	tun, err := New(srv.config("wrong"))
	require.NoError(t, err)

	err = tun.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake")

	_, err = tun.Dial()
	require.Error(t, err)
}

// ============================================================================
// End to end over an in-process SSH server
// ============================================================================

func TestTunnelEndToEnd(t *testing.T) {
	srv := startTestSSHServer(t, "dev", "secret")

	tun, err := New(srv.config("secret"))
	require.NoError(t, err)
	require.NoError(t, tun.Open(context.Background()))
	defer func() { _ = tun.Close() }()

	t.Run("SecondOpenFails", func(t *testing.T) {
		require.Error(t, tun.Open(context.Background()))
	})

	t.Run("DialForwardsToServicePort", func(t *testing.T) {
		conn, err := tun.Dial()
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		select {
		case target := <-srv.targets:
			assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", ServicePort), target)
		case <-time.After(time.Second):
			t.Fatal("server never saw a forwarded channel")
		}

		payload := []byte("hello over ssh")
		_, err = conn.Write(payload)
		require.NoError(t, err)

		reply := make([]byte, len(payload))
		done := make(chan error, 1)
		go func() {
			_, err := io.ReadFull(conn, reply)
			done <- err
		}()
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, payload, reply)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for echo")
		}
	})

	t.Run("CloseTearsDownClient", func(t *testing.T) {
		require.NoError(t, tun.Close())
		_, err := tun.Dial()
		require.Error(t, err)
	})

	t.Run("ReopenAfterClose", func(t *testing.T) {
		require.NoError(t, tun.Open(context.Background()))
		conn, err := tun.Dial()
		require.NoError(t, err)
		_ = conn.Close()
	})
}
