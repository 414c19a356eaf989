package sshexec_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/forgecloud/podscaler/core/sshexec"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func marshalPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(portStr)
	Expect(err).NotTo(HaveOccurred())
	return host, port
}

// startEchoServer spins up a minimal in-process SSH server that runs
// any requested "exec" command by writing it back to the channel,
// so Client.Run can be exercised without a real pod.
func startEchoServer(clientKey ssh.Signer) (addr string, stop func()) {
	hostKeyRaw, err := rsa.GenerateKey(rand.Reader, 2048)
	Expect(err).NotTo(HaveOccurred())
	hostKey, err := ssh.NewSignerFromKey(hostKeyRaw)
	Expect(err).NotTo(HaveOccurred())

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientKey.PublicKey().Marshal()) {
				return nil, nil
			}
			return nil, errUnauthorized
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	done := make(chan struct{})
	go func() {
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go handleConn(netConn, config)
		}
	}()

	return listener.Addr().String(), func() {
		listener.Close()
		close(done)
	}
}

func handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type == "exec" {
					channel.Write([]byte("ok\n"))
					req.Reply(true, nil)
					channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
					channel.Close()
				} else {
					req.Reply(false, nil)
				}
			}
		}()
	}
}

var errUnauthorized = sshAuthError{}

type sshAuthError struct{}

func (sshAuthError) Error() string { return "unauthorized key" }

var _ = Describe("Client", func() {
	It("runs a command over a real SSH connection", func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).NotTo(HaveOccurred())
		signer, err := ssh.NewSignerFromKey(key)
		Expect(err).NotTo(HaveOccurred())

		addr, stop := startEchoServer(signer)
		defer stop()

		pemBytes := marshalPrivateKeyPEM(key)
		client, err := sshexec.NewClient(pemBytes)
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		host, port := splitHostPort(addr)
		result, err := client.Run(context.Background(), host, port, "echo hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Stdout).To(Equal("ok\n"))
	})
})
