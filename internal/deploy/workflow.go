// Package deploy pushes files to hosts, runs the target and cleans up, one
// linear workflow per host, and coordinates those workflows across the fleet.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	deployerrors "fleetdeploy/internal/errors"
	"fleetdeploy/internal/logging"
	"fleetdeploy/internal/output"
	"fleetdeploy/internal/ssh"
)

// Job is the unit of work for one host
type Job struct {
	Host      string
	SourceDir string // local directory whose regular files are pushed
	RemoteDir string // remote directory the files land in
	Target    string // file name of the executable to run afterwards
	Shell     string // interpreter used to run Target
}

// File is one local file scheduled for transfer
type File struct {
	LocalPath string
	Name      string
}

// Outcome records what a workflow did on its host
type Outcome struct {
	Host        string
	Transferred []string // the transfer record: names actually copied
	Deleted     []string // names a removal command was issued for
	Stdout      string
	Stderr      string
	ExitStatus  int // informational only; -1 when the target never ran
	BytesSent   int64
	Duration    time.Duration
}

// Result is the per-host return value. Err is nil on success and a
// *errors.DeployError otherwise.
type Result struct {
	Host    string
	Outcome Outcome
	Err     error
}

// OK reports whether the host deployed cleanly
func (r Result) OK() bool {
	return r.Err == nil
}

// Runner executes one job
type Runner interface {
	Run(ctx context.Context, job Job) Result
}

// Workflow is the per-host pipeline: open a session, check the source
// directory, copy every file, make the target executable, run it, then clean
// up only if the run wrote nothing to its error stream.
type Workflow struct {
	opener   ssh.Opener
	journal  logging.Journal
	narrator *output.Narrator
	logger   *logging.Logger
}

// NewWorkflow creates a workflow. A nil narrator or logger discards output.
func NewWorkflow(opener ssh.Opener, journal logging.Journal, narrator *output.Narrator, logger *logging.Logger) *Workflow {
	if narrator == nil {
		narrator = output.Discard()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Workflow{opener: opener, journal: journal, narrator: narrator, logger: logger}
}

// Run executes job and never panics. Every failure is logged to the error
// journal and stdout, then returned in Result; nothing propagates to other
// hosts.
func (w *Workflow) Run(ctx context.Context, job Job) (res Result) {
	host := job.Host
	startTime := time.Now()

	res = Result{Host: host, Outcome: Outcome{Host: host, ExitStatus: -1}}
	defer func() {
		res.Outcome.Duration = time.Since(startTime)
	}()
	defer func() {
		if r := recover(); r != nil {
			res.Err = w.abort(host, fmt.Errorf("panic: %v", r))
		}
	}()

	// 1. session
	w.narrator.Host(output.MarkConnect, host, "Connecting...")
	sess, err := w.opener.Open(ctx, host)
	if err != nil {
		res.Err = w.connectionFailed(host, err)
		return res
	}
	defer sess.Close()

	// 2. local source directory
	files, err := SourceFiles(job.SourceDir)
	if err != nil {
		msg := fmt.Sprintf("%s: Local directory '%s' missing. Skipping.", host, job.SourceDir)
		w.narrator.Host(output.MarkFail, host, "Local directory '%s' missing. Skipping.", job.SourceDir)
		w.journal.Error(msg)
		res.Err = deployerrors.NewLocalPathError(host, job.SourceDir, err)
		return res
	}

	// 3. transfer
	for _, f := range files {
		n, err := sess.Upload(ctx, f.LocalPath, RemotePath(job.RemoteDir, f.Name))
		if err != nil {
			res.Err = w.abort(host, fmt.Errorf("copy %s: %w", f.Name, err))
			return res
		}
		res.Outcome.Transferred = append(res.Outcome.Transferred, f.Name)
		res.Outcome.BytesSent += n
		w.journal.Info(fmt.Sprintf("%s: Copied %s", host, f.Name))
	}
	w.logger.Debug("files transferred", "host", host, "count", len(files), "bytes", res.Outcome.BytesSent)

	// 4. best effort; a failure here shows up when the target runs
	targetPath := RemotePath(job.RemoteDir, job.Target)
	if _, err := sess.Run(ctx, ChmodCommand(targetPath)); err != nil {
		w.logger.Debug("chmod failed", "host", host, "error", err)
	}

	// 5. execute
	out, err := sess.Run(ctx, ExecCommand(job.Shell, targetPath))
	if err != nil {
		res.Err = w.abort(host, fmt.Errorf("run %s: %w", job.Target, err))
		return res
	}
	stdout := strings.TrimSpace(out.Stdout)
	stderr := strings.TrimSpace(out.Stderr)
	res.Outcome.Stdout = stdout
	res.Outcome.Stderr = stderr
	res.Outcome.ExitStatus = out.ExitStatus

	// 6. the error stream alone decides; the exit status is not consulted
	if stderr != "" {
		w.narrator.Host(output.MarkWarn, host, "Script error: %s", stderr)
		w.journal.Error(fmt.Sprintf("%s: Script error: %s", host, stderr))
		res.Err = deployerrors.NewRemoteExecutionError(host, stderr)
	} else {
		w.narrator.Host(output.MarkOK, host, "Script executed successfully.")
		w.journal.Info(fmt.Sprintf("%s: Script executed successfully", host))

		for _, name := range res.Outcome.Transferred {
			if _, err := sess.Run(ctx, RemoveCommand(RemotePath(job.RemoteDir, name))); err != nil {
				w.logger.Debug("cleanup command failed", "host", host, "file", name, "error", err)
			}
			res.Outcome.Deleted = append(res.Outcome.Deleted, name)
			w.journal.Info(fmt.Sprintf("%s: Deleted %s after successful execution.", host, name))
		}
		w.narrator.Host(output.MarkClean, host, "Cleaned up %d transferred files.", len(res.Outcome.Deleted))
	}

	if stdout != "" {
		w.journal.Info(fmt.Sprintf("%s: OUTPUT → %s", host, stdout))
	}

	return res
}

func (w *Workflow) connectionFailed(host string, err error) error {
	var de *deployerrors.DeployError
	if !errors.As(err, &de) {
		de = deployerrors.NewConnectionError(host, err)
	}
	w.narrator.Host(output.MarkFail, host, "%s", de.Detail())
	w.journal.Error(fmt.Sprintf("%s: %s", host, de.Detail()))
	return de
}

// abort handles any failure past session setup
func (w *Workflow) abort(host string, err error) error {
	w.narrator.Host(output.MarkFail, host, "%v", err)
	w.journal.Error(fmt.Sprintf("%s: %v", host, err))
	return deployerrors.NewWorkflowError(host, err)
}

// SourceFiles checks that dir is a readable directory and lists its regular
// files, sorted by name. Subdirectories and other non-regular entries are
// skipped.
func SourceFiles(dir string) ([]File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		fi, err := os.Stat(full)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, File{LocalPath: full, Name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// RemotePath joins a remote directory and file name with forward slashes
func RemotePath(dir, name string) string {
	return path.Join(dir, name)
}

// ChmodCommand marks p executable
func ChmodCommand(p string) string {
	return "chmod +x " + ssh.ShellQuote(p)
}

// ExecCommand runs p with shell
func ExecCommand(shell, p string) string {
	return shell + " " + ssh.ShellQuote(p)
}

// RemoveCommand deletes p
func RemoveCommand(p string) string {
	return "rm -f " + ssh.ShellQuote(p)
}
