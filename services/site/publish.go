package site

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/ssh"
)

type PublishConfig struct {
	Host string `json:"host"`
	// defaults to 22
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	// path to a private key, used instead of or alongside the
	// password
	KeyFile   string `json:"key_file"`
	RemoteDir string `json:"remote_dir"`
}

// Publisher mirrors a generated site directory to a remote host over
// SFTP.
type Publisher struct {
	config PublishConfig
}

func NewPublisher(config PublishConfig) Publisher {
	return Publisher{config: config}
}

func (p Publisher) sshConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if p.config.KeyFile != "" {
		pem, err := os.ReadFile(p.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key %s: %w", p.config.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", p.config.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if p.config.Password != "" {
		methods = append(methods, ssh.Password(p.config.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("sftp: no password or key file configured")
	}

	return &ssh.ClientConfig{
		User:            p.config.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Second * 20,
	}, nil
}

// ssh.Dial does not take a context, so run it in a goroutine and let
// cancellation win the race.
func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, config)
		ch <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			r := <-ch
			if r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}

// Upload copies every file under localDir to the configured remote
// directory, creating remote directories as needed.
func (p Publisher) Upload(ctx context.Context, localDir string) error {
	ctx, span := tracer.Start(ctx, "Upload")
	defer span.End()

	sshCfg, err := p.sshConfig()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	port := p.config.Port
	if port <= 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", p.config.Host, port)

	sshClient, err := dialSSH(ctx, addr, sshCfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dial ssh")
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open sftp session")
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer client.Close()

	remoteRoot := p.config.RemoteDir
	if remoteRoot == "" {
		remoteRoot = "/"
	}

	uploaded := 0
	err = filepath.WalkDir(localDir, func(local string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, local)
		if err != nil {
			return err
		}
		remote := path.Join(remoteRoot, filepath.ToSlash(rel))
		if d.IsDir() {
			return client.MkdirAll(remote)
		}
		err = uploadFile(client, local, remote)
		if err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload site")
		return err
	}

	slog.InfoContext(ctx, "published site", "files", uploaded, "remote", addr+":"+remoteRoot)
	return nil
}

func uploadFile(client *sftp.Client, local string, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.Create(remote)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
