package sftpx

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SFTPConfig struct {
	// Required
	Host     string
	Port     string
	User     string
	PkeyPath string

	// Optional, if private key is created with a passphrase
	Passphrase string
	// Optional, host keys are not verified when empty
	KnownHostsFile string
}

type SFTPClient struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTPClient creates an SFTP client using (optionally passphrase-protected) private key authentication
func NewSFTPClient(sftpConfig *SFTPConfig) (*SFTPClient, error) {
	signer, err := loadSigner(sftpConfig.PkeyPath, sftpConfig.Passphrase)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(sftpConfig.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User: sftpConfig.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         5 * time.Second,
	}

	port := sftpConfig.Port
	if port == "" {
		port = "22"
	}
	conn, err := ssh.Dial("tcp", net.JoinHostPort(sftpConfig.Host, port), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to SFTP server: %w", err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("unable to create SFTP client: %w", err)
	}

	return &SFTPClient{
		sshClient:  conn,
		sftpClient: client,
	}, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		//nolint:gosec
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load known hosts: %w", err)
	}
	return cb, nil
}

func loadSigner(pkeyPath, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(pkeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key with passphrase: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return signer, nil
}

func (s *SFTPClient) SFTPClient() *sftp.Client {
	return s.sftpClient
}

func (s *SFTPClient) Close() error {
	var errs []error
	if s.sftpClient != nil {
		errs = append(errs, s.sftpClient.Close())
	}
	if s.sshClient != nil {
		errs = append(errs, s.sshClient.Close())
	}
	return errors.Join(errs...)
}
