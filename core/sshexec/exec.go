// Package sshexec runs setup and health-check commands on a freshly
// provisioned pod over SSH. A rented GPU instance has no agent of its
// own to push work to, so bootstrapping the inference server is done
// the same way a human operator would: shell in and run a script.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/forgecloud/podscaler/tracing"
)

// Result is the outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Remote runs commands on a pod's SSH endpoint.
//
//counterfeiter:generate . Remote
type Remote interface {
	// Run executes cmd on host:port as root and waits for it to exit.
	Run(ctx context.Context, host string, port int, cmd string) (Result, error)
}

// Client is a Remote backed by golang.org/x/crypto/ssh. It keeps a
// single long-lived connection per target host:port, established
// lazily and torn down by Close.
type Client struct {
	signer         ssh.Signer
	user           string
	connectTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// NewClient builds a Client that authenticates with the given private
// key (PEM-encoded, matching the "runpod.pem" key baked into the
// provider's pod image). Host key checking is disabled: the pod's
// host key is never known ahead of provisioning and the dispatcher
// already trusts the provider's control plane for the pod's identity.
func NewClient(privateKeyPEM []byte) (*Client, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh private key: %w", err)
	}
	return &Client{
		signer:         signer,
		user:           "root",
		connectTimeout: 10 * time.Second,
		conns:          make(map[string]*ssh.Client),
	}, nil
}

var _ Remote = (*Client)(nil)

func (c *Client) Run(ctx context.Context, host string, port int, cmd string) (result Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "sshexec.run", tracing.Attrs{
		"host": host,
		"cmd":  cmd,
	})
	defer func() { tracing.End(span, err) }()

	conn, err := c.dial(ctx, host, port)
	if err != nil {
		return Result{}, err
	}

	session, err := conn.NewSession()
	if err != nil {
		// The cached connection may have gone stale between uses; drop
		// it and let the next call redial.
		c.forget(host, port)
		return Result{}, fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(cmd)
	result = Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		result.ExitCode = exitErr.ExitStatus()
		return result, fmt.Errorf("command %q exited %d: %s", cmd, result.ExitCode, result.Stderr)
	}
	if runErr != nil {
		return result, fmt.Errorf("running %q: %w", cmd, runErr)
	}
	return result, nil
}

func (c *Client) dial(ctx context.Context, host string, port int) (*ssh.Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.connectTimeout,
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	c.conns[addr] = client
	c.mu.Unlock()
	return client, nil
}

func (c *Client) forget(host string, port int) {
	addr := fmt.Sprintf("%s:%d", host, port)
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		conn.Close()
		delete(c.conns, addr)
	}
}

// Close tears down every cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, addr)
	}
	return firstErr
}
