package protocols

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTP opens an SSH session, starts the sftp subsystem and stats the path.
//
// Options: "key_file" (private key path), "host_key" (base64 public key),
// "known_hosts" (file). Without a host key option the server key is not
// verified.
type SFTP struct {
	logger zerolog.Logger
}

// NewSFTP creates an SFTP tester.
func NewSFTP(logger zerolog.Logger) *SFTP {
	return &SFTP{logger: logger.With().Str("component", "sftp").Logger()}
}

// TestConnection implements Tester.
func (s *SFTP) TestConnection(ctx context.Context, t Target) (bool, string) {
	if t.Username == "" {
		return false, "SFTP requires a username"
	}
	port := t.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))

	auth, err := sshAuth(t)
	if err != nil {
		return failure("SFTP credentials", err)
	}
	hostKey, err := s.hostKeyCallback(t)
	if err != nil {
		return failure("SFTP host key", err)
	}
	config := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.timeout(),
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	d := net.Dialer{Timeout: t.timeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failure("SFTP connect failed", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return failure("SSH handshake failed", err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return failure("SFTP subsystem unavailable", err)
	}
	defer sc.Close()

	path := t.Path
	if path == "" {
		if path, err = sc.Getwd(); err != nil {
			return failure("SFTP session failed", err)
		}
	}
	info, err := sc.Stat(path)
	if err != nil {
		return failure("SFTP path not accessible", err)
	}
	if !info.IsDir() {
		return false, fmt.Sprintf("SFTP path %s is not a directory", path)
	}

	s.logger.Debug().Str("addr", addr).Str("user", t.Username).Str("path", path).Msg("sftp session ok")
	return true, "SFTP connection successful (" + path + ")"
}

func sshAuth(t Target) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if keyFile := t.option("key_file"); keyFile != "" {
		pem, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		var signer ssh.Signer
		if t.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(t.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.Password != "" {
		pw := t.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}))
	}
	if len(methods) == 0 {
		return nil, errors.New("no password or key_file given")
	}
	return methods, nil
}

// hostKeyCallback prefers a pinned host key, then a known_hosts file.
func (s *SFTP) hostKeyCallback(t Target) (ssh.HostKeyCallback, error) {
	if pinned := t.option("host_key"); pinned != "" {
		raw, err := base64.StdEncoding.DecodeString(pinned)
		if err != nil {
			return nil, fmt.Errorf("decode host key: %w", err)
		}
		key, err := ssh.ParsePublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		return ssh.FixedHostKey(key), nil
	}
	if file := t.option("known_hosts"); file != "" {
		cb, err := knownhosts.New(file)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return cb, nil
	}
	s.logger.Warn().Str("host", t.Host).Msg("no host_key or known_hosts option, server key not verified")
	return ssh.InsecureIgnoreHostKey(), nil
}
