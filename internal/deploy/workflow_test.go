package deploy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "fleetdeploy/internal/errors"
	"fleetdeploy/internal/output"
)

func sourceDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func testJob(host, dir string) Job {
	return Job{
		Host:      host,
		SourceDir: dir,
		RemoteDir: "/home/pi/",
		Target:    "update-ilitek",
		Shell:     "bash",
	}
}

func TestWorkflow_SuccessCleansUp(t *testing.T) {
	dir := sourceDir(t, map[string]string{
		"update-ilitek": "#!/bin/bash\necho done\n",
		"b.conf":        "key=value\n",
	})
	opener := newFakeOpener()
	opener.host("10.0.0.5").stdout = "done\n"
	journal := &memJournal{}
	var out bytes.Buffer

	res := NewWorkflow(opener, journal, output.NewNarrator(&out), nil).Run(context.Background(), testJob("10.0.0.5", dir))

	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"b.conf", "update-ilitek"}, res.Outcome.Transferred)
	assert.Equal(t, res.Outcome.Transferred, res.Outcome.Deleted)
	assert.Equal(t, "done", res.Outcome.Stdout)
	assert.Empty(t, res.Outcome.Stderr)
	assert.Equal(t, 0, res.Outcome.ExitStatus)
	assert.EqualValues(t, len("#!/bin/bash\necho done\n")+len("key=value\n"), res.Outcome.BytesSent)

	assert.Equal(t, []string{"/home/pi/b.conf", "/home/pi/update-ilitek"}, opener.Uploads("10.0.0.5"))
	assert.Equal(t, []string{
		"chmod +x /home/pi/update-ilitek",
		"bash /home/pi/update-ilitek",
		"rm -f /home/pi/b.conf",
		"rm -f /home/pi/update-ilitek",
	}, opener.Commands("10.0.0.5"))
	assert.Equal(t, 1, opener.Closed("10.0.0.5"))

	assert.Equal(t, []string{
		"10.0.0.5: Copied b.conf",
		"10.0.0.5: Copied update-ilitek",
		"10.0.0.5: Script executed successfully",
		"10.0.0.5: Deleted b.conf after successful execution.",
		"10.0.0.5: Deleted update-ilitek after successful execution.",
		"10.0.0.5: OUTPUT → done",
	}, journal.Infos())
	assert.Empty(t, journal.Errors())
	assert.Contains(t, out.String(), "10.0.0.5: Script executed successfully.")
}

func TestWorkflow_StderrKeepsFiles(t *testing.T) {
	dir := sourceDir(t, map[string]string{"update-ilitek": "x", "b.conf": "y"})
	opener := newFakeOpener()
	opener.host("10.0.0.7").stderr = "permission denied\n"
	journal := &memJournal{}

	res := NewWorkflow(opener, journal, nil, nil).Run(context.Background(), testJob("10.0.0.7", dir))

	require.Error(t, res.Err)
	assert.True(t, deployerrors.IsRemoteExecution(res.Err))
	assert.Equal(t, "permission denied", res.Outcome.Stderr)
	assert.Len(t, res.Outcome.Transferred, 2)
	assert.Empty(t, res.Outcome.Deleted)
	assert.Empty(t, opener.commandsWithPrefix("10.0.0.7", "rm -f"))
	assert.Equal(t, []string{"10.0.0.7: Script error: permission denied"}, journal.Errors())
	assert.Equal(t, []string{"10.0.0.7: Copied b.conf", "10.0.0.7: Copied update-ilitek"}, journal.Infos())
}

func TestWorkflow_ExitStatusDoesNotDecide(t *testing.T) {
	dir := sourceDir(t, map[string]string{"update-ilitek": "x"})
	opener := newFakeOpener()
	opener.host("10.0.0.8").exit = 3
	journal := &memJournal{}

	res := NewWorkflow(opener, journal, nil, nil).Run(context.Background(), testJob("10.0.0.8", dir))

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Outcome.ExitStatus)
	assert.Len(t, opener.commandsWithPrefix("10.0.0.8", "rm -f"), 1)
}

func TestWorkflow_MissingSourceDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	opener := newFakeOpener()
	journal := &memJournal{}

	res := NewWorkflow(opener, journal, nil, nil).Run(context.Background(), testJob("10.0.0.9", missing))

	require.Error(t, res.Err)
	assert.True(t, deployerrors.IsLocalPath(res.Err))
	assert.Empty(t, opener.Uploads("10.0.0.9"))
	assert.Empty(t, opener.Commands("10.0.0.9"))
	assert.Equal(t, -1, res.Outcome.ExitStatus)
	assert.Equal(t, []string{"10.0.0.9: Local directory '" + missing + "' missing. Skipping."}, journal.Errors())
	assert.Empty(t, journal.Infos())
	assert.Equal(t, 1, opener.Closed("10.0.0.9"))
}

func TestWorkflow_SourceIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	journal := &memJournal{}

	res := NewWorkflow(newFakeOpener(), journal, nil, nil).Run(context.Background(), testJob("10.0.0.9", file))

	assert.True(t, deployerrors.IsLocalPath(res.Err))
	assert.Len(t, journal.Errors(), 1)
}

func TestWorkflow_ConnectionFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.host("10.0.0.3").openErr = deployerrors.NewConnectionError("10.0.0.3", errRefused)
	journal := &memJournal{}

	res := NewWorkflow(opener, journal, nil, nil).Run(context.Background(), testJob("10.0.0.3", t.TempDir()))

	require.Error(t, res.Err)
	assert.True(t, deployerrors.IsConnection(res.Err))
	assert.Equal(t, []string{"10.0.0.3: connect: connection refused"}, journal.Errors())
	assert.Empty(t, journal.Infos())
}

func TestWorkflow_PlainOpenErrorIsWrapped(t *testing.T) {
	opener := newFakeOpener()
	opener.host("10.0.0.3").openErr = errRefused

	res := NewWorkflow(opener, &memJournal{}, nil, nil).Run(context.Background(), testJob("10.0.0.3", t.TempDir()))

	assert.True(t, deployerrors.IsConnection(res.Err))
	assert.ErrorIs(t, res.Err, errRefused)
}

func TestWorkflow_UploadFailureStopsHost(t *testing.T) {
	dir := sourceDir(t, map[string]string{"a.sh": "x", "b.conf": "y"})
	opener := newFakeOpener()
	opener.host("10.0.0.4").uploadErr = map[string]error{"/home/pi/b.conf": assert.AnError}
	journal := &memJournal{}

	res := NewWorkflow(opener, journal, nil, nil).Run(context.Background(), testJob("10.0.0.4", dir))

	require.Error(t, res.Err)
	assert.Equal(t, deployerrors.WorkflowErrorType, deployerrors.TypeOf(res.Err))
	assert.ErrorIs(t, res.Err, assert.AnError)
	assert.Equal(t, []string{"a.sh"}, res.Outcome.Transferred)
	assert.Empty(t, opener.Commands("10.0.0.4"))
	require.Len(t, journal.Errors(), 1)
	assert.Contains(t, journal.Errors()[0], "10.0.0.4: copy b.conf:")
}

func TestWorkflow_RunErrorStopsHost(t *testing.T) {
	dir := sourceDir(t, map[string]string{"update-ilitek": "x"})
	opener := newFakeOpener()
	opener.host("10.0.0.6").runErr = assert.AnError

	res := NewWorkflow(opener, &memJournal{}, nil, nil).Run(context.Background(), testJob("10.0.0.6", dir))

	assert.Equal(t, deployerrors.WorkflowErrorType, deployerrors.TypeOf(res.Err))
	assert.Empty(t, res.Outcome.Deleted)
	assert.Empty(t, opener.commandsWithPrefix("10.0.0.6", "rm -f"))
}

func TestWorkflow_PanicIsContained(t *testing.T) {
	dir := sourceDir(t, map[string]string{"update-ilitek": "x"})
	opener := newFakeOpener()
	opener.host("10.0.0.2").panicOn = "bash"
	journal := &memJournal{}

	var res Result
	require.NotPanics(t, func() {
		res = NewWorkflow(opener, journal, nil, nil).Run(context.Background(), testJob("10.0.0.2", dir))
	})

	assert.Equal(t, deployerrors.WorkflowErrorType, deployerrors.TypeOf(res.Err))
	require.Len(t, journal.Errors(), 1)
	assert.Contains(t, journal.Errors()[0], "panic: boom on 10.0.0.2")
	assert.Equal(t, 1, opener.Closed("10.0.0.2"))
	assert.Empty(t, res.Outcome.Deleted)
}

func TestWorkflow_CancelledContextFailsHost(t *testing.T) {
	dir := sourceDir(t, map[string]string{"update.sh": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewWorkflow(newFakeOpener(), &memJournal{}, nil, nil).Run(ctx, testJob("10.0.0.11", dir))

	assert.True(t, deployerrors.IsConnection(res.Err))
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestWorkflow_EmptySourceDir(t *testing.T) {
	opener := newFakeOpener()

	res := NewWorkflow(opener, &memJournal{}, nil, nil).Run(context.Background(), testJob("10.0.0.10", t.TempDir()))

	require.NoError(t, res.Err)
	assert.Empty(t, res.Outcome.Transferred)
	assert.Empty(t, opener.commandsWithPrefix("10.0.0.10", "rm -f"))
}

func TestSourceFiles_SkipsNonRegular(t *testing.T) {
	dir := sourceDir(t, map[string]string{"z.sh": "1", "a.txt": "2"})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	files, err := SourceFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, filepath.Join(dir, "a.txt"), files[0].LocalPath)
	assert.Equal(t, "z.sh", files[1].Name)
}

func TestCommands(t *testing.T) {
	assert.Equal(t, "/home/pi/update.sh", RemotePath("/home/pi/", "update.sh"))
	assert.Equal(t, "/home/pi/update.sh", RemotePath("/home/pi", "update.sh"))
	assert.Equal(t, "chmod +x /home/pi/update.sh", ChmodCommand("/home/pi/update.sh"))
	assert.Equal(t, "bash /home/pi/update.sh", ExecCommand("bash", "/home/pi/update.sh"))
	assert.Equal(t, "rm -f '/home/pi/my file'", RemoveCommand("/home/pi/my file"))
}
