package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testGateway is a minimal in-process SSH server that accepts any public
// key and serves direct-tcpip channels.
type testGateway struct {
	ln   net.Listener
	cfg  *ssh.ServerConfig
	mu   sync.Mutex
	dial []string
}

func startTestGateway(t *testing.T) *testGateway {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	g := &testGateway{ln: ln, cfg: cfg}
	go g.serve()
	t.Cleanup(func() {
		ln.Close()
	})
	return g
}

func (g *testGateway) port() int { return g.ln.Addr().(*net.TCPAddr).Port }

func (g *testGateway) dialed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dial...)
}

func (g *testGateway) serve() {
	for {
		raw, err := g.ln.Accept()
		if err != nil {
			return
		}
		go g.handle(raw)
	}
}

func (g *testGateway) handle(raw net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(raw, g.cfg)
	if err != nil {
		raw.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &target); err != nil {
			nc.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		addr := net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port)))
		g.mu.Lock()
		g.dial = append(g.dial, addr)
		g.mu.Unlock()

		up, err := net.Dial("tcp", addr)
		if err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			up.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer up.Close()
			go io.Copy(up, ch)
			io.Copy(ch, up)
		}()
	}
}
