package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/transport"
)

// ErrAlreadyLaunched is returned when a single-use launcher is reused.
var ErrAlreadyLaunched = errors.New("sandbox context already launched")

// Realm is one launched sandbox context as seen from the host.
type Realm interface {
	// Conn is the host's end of the context's channel.
	Conn() transport.Conn
	// Destroy tears the context down. It is idempotent.
	Destroy() error
}

// Launcher creates sandbox contexts.
type Launcher interface {
	Launch(ctx context.Context) (Realm, error)
}

// InProcessLauncher runs each context on its own goroutine behind an
// in-memory pipe.
type InProcessLauncher struct {
	Config Config
	Logger *zap.Logger
}

// Launch implements Launcher.
func (l *InProcessLauncher) Launch(ctx context.Context) (Realm, error) {
	hostEnd, sandboxEnd := transport.Pipe()
	worker, err := NewWorker(sandboxEnd, l.Config, l.Logger)
	if err != nil {
		hostEnd.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	realm := &inProcessRealm{conn: hostEnd, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(realm.done)
		if err := worker.Serve(runCtx); err != nil {
			logging.OrNop(l.Logger).Debug("in-process sandbox stopped", zap.Error(err))
		}
	}()
	return realm, nil
}

type inProcessRealm struct {
	conn   transport.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *inProcessRealm) Conn() transport.Conn { return r.conn }

func (r *inProcessRealm) Destroy() error {
	r.cancel()
	err := r.conn.Close()
	<-r.done
	return err
}

// ProcessLauncher runs each context in a child process started as
// `<Binary> sandbox --stdio`. Frames travel over the child's stdin and
// stdout; its stderr is forwarded to the logger.
type ProcessLauncher struct {
	Binary string
	Config Config
	Logger *zap.Logger
	// KillGrace is how long Destroy waits for a clean exit before killing.
	KillGrace time.Duration
}

// Args returns the child's command line arguments.
func (l *ProcessLauncher) Args() []string {
	cfg := l.Config.withDefaults()
	args := []string{
		"sandbox", "--stdio",
		"--exec-timeout", cfg.ExecTimeout.String(),
		"--max-script-bytes", strconv.FormatInt(cfg.MaxScriptBytes, 10),
		"--fetch-retries", strconv.Itoa(cfg.FetchRetries),
	}
	if cfg.AllowFile {
		args = append(args, "--allow-file")
	}
	return args
}

// Launch implements Launcher.
func (l *ProcessLauncher) Launch(ctx context.Context) (Realm, error) {
	binary := l.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate sandbox binary: %w", err)
		}
		binary = self
	}
	log := logging.OrNop(l.Logger).Named("sandbox_process")

	cmd := exec.Command(binary, l.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox stderr: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start sandbox process: %w", err)
	}
	log = log.With(zap.Int("pid", cmd.Process.Pid))
	log.Debug("sandbox process started", zap.String("binary", binary))

	go forwardStderr(stderr, log)

	grace := l.KillGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	realm := &processRealm{
		cmd:    cmd,
		conn:   transport.NewStream(stdout, stdin, stdin),
		grace:  grace,
		log:    log,
		exited: make(chan struct{}),
	}
	go realm.wait()
	return realm, nil
}

func forwardStderr(r io.Reader, log *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Info(scanner.Text(), zap.String("stream", "stderr"))
	}
}

type processRealm struct {
	cmd   *exec.Cmd
	conn  transport.Conn
	grace time.Duration
	log   *zap.Logger

	exited  chan struct{}
	waitErr error
	once    sync.Once
}

func (r *processRealm) Conn() transport.Conn { return r.conn }

// wait reaps the child and closes the channel when it exits on its own.
func (r *processRealm) wait() {
	r.waitErr = r.cmd.Wait()
	close(r.exited)
	_ = r.conn.Close()
	if r.waitErr != nil {
		r.log.Debug("sandbox process exited", zap.Error(r.waitErr))
	}
}

func (r *processRealm) Destroy() error {
	r.once.Do(func() {
		// Closing stdin lets the worker exit on its own.
		_ = r.conn.Close()
		select {
		case <-r.exited:
		case <-time.After(r.grace):
			r.log.Warn("sandbox process did not exit, killing")
			_ = r.cmd.Process.Kill()
			<-r.exited
		}
	})
	return nil
}

// Attach wraps an already connected channel, such as a websocket from a
// remote worker, as a single-use launcher.
func Attach(conn transport.Conn) Launcher {
	return &attachLauncher{conn: conn}
}

type attachLauncher struct {
	mu   sync.Mutex
	conn transport.Conn
}

func (l *attachLauncher) Launch(context.Context) (Realm, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, ErrAlreadyLaunched
	}
	realm := &attachedRealm{conn: l.conn}
	l.conn = nil
	return realm, nil
}

type attachedRealm struct {
	conn transport.Conn
}

func (r *attachedRealm) Conn() transport.Conn { return r.conn }

func (r *attachedRealm) Destroy() error { return r.conn.Close() }

// ServeStream runs a worker over a length-prefixed frame stream, as the
// child side of ProcessLauncher does with its stdio.
func ServeStream(ctx context.Context, r io.Reader, w io.Writer, cfg Config, log *zap.Logger) error {
	worker, err := NewWorker(transport.NewStream(r, w, nil), cfg, log)
	if err != nil {
		return err
	}
	return worker.Serve(ctx)
}

// ServeRemote dials a host's attach endpoint and serves one context over
// the websocket.
func ServeRemote(ctx context.Context, url string, cfg Config, log *zap.Logger) error {
	conn, err := transport.DialWebSocket(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial host: %w", err)
	}
	worker, err := NewWorker(conn, cfg, log)
	if err != nil {
		conn.Close()
		return err
	}
	return worker.Serve(ctx)
}
