package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
)

// Source supplies the raw registry file.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Kind() string
	Path() string
}

// FTPSource reads the registry CSV from a municipal FTP server.
type FTPSource struct {
	Host     string
	User     string
	Password string
	File     string
}

func (s *FTPSource) Kind() string { return "ftp" }
func (s *FTPSource) Path() string { return s.File }

func (s *FTPSource) Fetch(ctx context.Context) ([]byte, error) {
	conn, err := ftp.Dial(s.Host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := s.User, s.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(s.File)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// FileSource reads the registry CSV from local disk.
type FileSource struct {
	File string
}

func (s *FileSource) Kind() string { return "file" }
func (s *FileSource) Path() string { return s.File }

func (s *FileSource) Fetch(context.Context) ([]byte, error) {
	return os.ReadFile(s.File)
}
