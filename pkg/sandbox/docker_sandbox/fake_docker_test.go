package docker_sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker is an in-memory stand-in for the Docker daemon implementing the
// dockerAPI surface the manager depends on. Exec behavior is scripted per
// command line; file copies operate on a per-container path map.
type fakeDocker struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer
	execs      map[string]*recordedExec
	log        []*recordedExec

	// outcomes scripts shell commands, keyed by the joined command line.
	outcomes      map[string]execOutcome
	pythonOutcome execOutcome

	createErr error
	startErr  error
	execErr   error
}

type fakeContainer struct {
	id      string
	name    string
	image   string
	running bool
	host    *container.HostConfig
	files   map[string][]byte
}

type execOutcome struct {
	stdout   string
	stderr   string
	exitCode int
}

type recordedExec struct {
	containerID string
	cmd         []string
	user        string
	workDir     string
	outcome     execOutcome
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: make(map[string]*fakeContainer),
		execs:      make(map[string]*recordedExec),
		outcomes:   make(map[string]execOutcome),
	}
}

func notFoundErr(ref string) error {
	return fmt.Errorf("No such container: %s: %w", ref, cerrdefs.ErrNotFound)
}

func (f *fakeDocker) resolve(ref string) (*fakeContainer, bool) {
	if c, ok := f.containers[ref]; ok {
		return c, true
	}
	for _, c := range f.containers {
		if c.name == ref {
			return c, true
		}
	}
	return nil, false
}

// scriptCommand scripts the outcome of one shell command run via bash -c.
func (f *fakeDocker) scriptCommand(command string, out execOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes["bash -c "+command] = out
}

func (f *fakeDocker) stop(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.resolve(ref); ok {
		c.running = false
	}
}

func (f *fakeDocker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeDocker) execsMatching(name string) []*recordedExec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*recordedExec
	for _, e := range f.log {
		if e.cmd[0] == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.seq++
	c := &fakeContainer{
		id:    fmt.Sprintf("ctr-%d", f.seq),
		name:  containerName,
		image: config.Image,
		host:  hostConfig,
		files: make(map[string][]byte),
	}
	f.containers[c.id] = c
	return container.CreateResponse{ID: c.id}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.resolve(containerID)
	if !ok {
		return notFoundErr(containerID)
	}
	c.running = true
	return nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.resolve(containerID)
	if !ok {
		return container.InspectResponse{}, notFoundErr(containerID)
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    c.id,
			Name:  "/" + c.name,
			State: &container.State{Running: c.running},
		},
	}, nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.resolve(containerID)
	if !ok {
		return notFoundErr(containerID)
	}
	delete(f.containers, c.id)
	return nil
}

func (f *fakeDocker) ContainerExecCreate(_ context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return container.ExecCreateResponse{}, f.execErr
	}
	c, ok := f.resolve(containerID)
	if !ok {
		return container.ExecCreateResponse{}, notFoundErr(containerID)
	}

	var out execOutcome
	switch options.Cmd[0] {
	case "mkdir":
	case "rm":
		delete(c.files, options.Cmd[len(options.Cmd)-1])
	case "python":
		if _, ok := c.files[options.Cmd[1]]; !ok {
			out = execOutcome{stderr: "python: can't open file " + options.Cmd[1], exitCode: 2}
		} else {
			out = f.pythonOutcome
		}
	default:
		out = f.outcomes[strings.Join(options.Cmd, " ")]
	}

	f.seq++
	e := &recordedExec{
		containerID: c.id,
		cmd:         options.Cmd,
		user:        options.User,
		workDir:     options.WorkingDir,
		outcome:     out,
	}
	id := fmt.Sprintf("exec-%d", f.seq)
	f.execs[id] = e
	f.log = append(f.log, e)
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerExecAttach(_ context.Context, execID string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[execID]
	if !ok {
		return types.HijackedResponse{}, notFoundErr(execID)
	}

	var buf bytes.Buffer
	if e.outcome.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(e.outcome.stdout))
	}
	if e.outcome.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(e.outcome.stderr))
	}
	conn, _ := net.Pipe()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeDocker) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[execID]
	if !ok {
		return container.ExecInspect{}, notFoundErr(execID)
	}
	return container.ExecInspect{ExecID: execID, ContainerID: e.containerID, ExitCode: e.outcome.exitCode}, nil
}

func (f *fakeDocker) CopyToContainer(_ context.Context, containerID, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.resolve(containerID)
	if !ok {
		return notFoundErr(containerID)
	}
	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		c.files[path.Join(dstPath, hdr.Name)] = data
	}
}

func (f *fakeDocker) CopyFromContainer(_ context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.resolve(containerID)
	if !ok {
		return nil, container.PathStat{}, notFoundErr(containerID)
	}
	data, ok := c.files[srcPath]
	if !ok {
		return nil, container.PathStat{}, notFoundErr(srcPath)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:    path.Base(srcPath),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}); err != nil {
		return nil, container.PathStat{}, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, container.PathStat{}, err
	}
	if err := tw.Close(); err != nil {
		return nil, container.PathStat{}, err
	}
	stat := container.PathStat{Name: path.Base(srcPath), Size: int64(len(data))}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), stat, nil
}

var _ dockerAPI = (*fakeDocker)(nil)
