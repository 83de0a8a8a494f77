package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"fleetdeploy/internal/ssh"
)

// memJournal records journal lines per severity
type memJournal struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (j *memJournal) Info(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.infos = append(j.infos, msg)
}

func (j *memJournal) Error(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, msg)
}

func (j *memJournal) Infos() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.infos...)
}

func (j *memJournal) Errors() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.errors...)
}

// fakeHost scripts how one remote host behaves
type fakeHost struct {
	openErr   error
	uploadErr map[string]error // keyed by remote path
	stdout    string
	stderr    string
	exit      int
	runErr    error
	panicOn   string // command prefix that panics
}

// fakeOpener hands out fakeSessions and records everything they see. Like a
// real session it fails once its context is done.
type fakeOpener struct {
	mu       sync.Mutex
	hosts    map[string]*fakeHost
	uploads  map[string][]string // host -> remote paths
	commands map[string][]string // host -> commands
	closed   map[string]int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		hosts:    make(map[string]*fakeHost),
		uploads:  make(map[string][]string),
		commands: make(map[string][]string),
		closed:   make(map[string]int),
	}
}

func (o *fakeOpener) host(addr string) *fakeHost {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.hosts[addr]
	if !ok {
		h = &fakeHost{}
		o.hosts[addr] = h
	}
	return h
}

func (o *fakeOpener) Open(ctx context.Context, host string) (ssh.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := o.host(host)
	if h.openErr != nil {
		return nil, h.openErr
	}
	return &fakeSession{opener: o, addr: host, behavior: h}, nil
}

func (o *fakeOpener) Uploads(host string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.uploads[host]...)
}

func (o *fakeOpener) Commands(host string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.commands[host]...)
}

func (o *fakeOpener) Closed(host string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed[host]
}

func (o *fakeOpener) commandsWithPrefix(host, prefix string) []string {
	var out []string
	for _, c := range o.Commands(host) {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type fakeSession struct {
	opener   *fakeOpener
	addr     string
	behavior *fakeHost
}

func (s *fakeSession) Host() string { return s.addr }

func (s *fakeSession) Upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.behavior.uploadErr[remotePath]; err != nil {
		return 0, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	s.opener.mu.Lock()
	s.opener.uploads[s.addr] = append(s.opener.uploads[s.addr], remotePath)
	s.opener.mu.Unlock()
	return info.Size(), nil
}

func (s *fakeSession) Run(ctx context.Context, cmd string) (ssh.Output, error) {
	if err := ctx.Err(); err != nil {
		return ssh.Output{ExitStatus: -1}, err
	}
	s.opener.mu.Lock()
	s.opener.commands[s.addr] = append(s.opener.commands[s.addr], cmd)
	s.opener.mu.Unlock()

	if s.behavior.panicOn != "" && strings.HasPrefix(cmd, s.behavior.panicOn) {
		panic(fmt.Sprintf("boom on %s", s.addr))
	}
	if strings.HasPrefix(cmd, "chmod") || strings.HasPrefix(cmd, "rm -f") {
		return ssh.Output{}, nil
	}
	if s.behavior.runErr != nil {
		return ssh.Output{ExitStatus: -1}, s.behavior.runErr
	}
	return ssh.Output{Stdout: s.behavior.stdout, Stderr: s.behavior.stderr, ExitStatus: s.behavior.exit}, nil
}

func (s *fakeSession) Close() error {
	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()
	s.opener.closed[s.addr]++
	return nil
}

var errRefused = errors.New("connection refused")
