// Package docker implements the container runtime port by driving the
// docker CLI. Every call is bounded by a timeout, a concurrency limit and a
// circuit breaker.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/port/containerruntime"
	"github.com/Strob0t/VPNForge/internal/resilience"
)

const tracerName = "vpnforge/docker"

// Runtime implements containerruntime.Runtime.
type Runtime struct {
	binary  string
	timeout time.Duration
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	run     runFunc
}

var _ containerruntime.Runtime = (*Runtime)(nil)

// New creates a Runtime from the docker configuration. breaker may be nil.
func New(cfg config.Docker, breaker *resilience.Breaker) *Runtime {
	binary := cfg.Binary
	if binary == "" {
		binary = "docker"
	}
	if breaker != nil {
		breaker.CountOnly(countsAsOutage)
	}
	return &Runtime{
		binary:  binary,
		timeout: cfg.CallTimeout,
		limiter: resilience.NewLimiter(cfg.MaxConcurrent),
		breaker: breaker,
		run:     execRun,
	}
}

// BreakerState reports the circuit breaker state for health checks.
func (r *Runtime) BreakerState() string {
	if r.breaker == nil {
		return "disabled"
	}
	return r.breaker.State()
}

// call runs one docker command. A non-zero exit returns both the result
// and an *domain.InfrastructureError so callers can inspect stderr.
func (r *Runtime) call(ctx context.Context, secretEnv map[string]string, args ...string) (result, error) {
	command := append([]string{r.binary}, args...)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "docker "+args[0],
		trace.WithAttributes(attribute.StringSlice("docker.args", args)))
	defer span.End()

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var env []string
	for _, name := range slices.Sorted(maps.Keys(secretEnv)) {
		env = append(env, name+"="+secretEnv[name])
	}

	var res result
	start := time.Now()
	invoke := func() error {
		var err error
		res, err = r.run(callCtx, env, r.binary, args...)
		return classify(ctx, callCtx, command, res, err)
	}
	err := r.limiter.Run(callCtx, func() error {
		if r.breaker == nil {
			return invoke()
		}
		return r.breaker.Execute(invoke)
	})
	if err != nil && !errors.Is(err, domain.ErrInfrastructure) {
		// limiter wait ended or breaker open
		err = classify(ctx, callCtx, command, res, err)
	}

	slog.DebugContext(ctx, "docker call", "cmd", args[0], "exit_code", res.exitCode,
		"duration_ms", time.Since(start).Milliseconds(), "error", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, args[0])
	}
	return res, err
}

// classify turns a raw run outcome into an error, nil on a zero exit.
func classify(parent, callCtx context.Context, command []string, res result, err error) error {
	if err == nil && res.exitCode == 0 {
		return nil
	}
	if errors.Is(err, domain.ErrCircuitOpen) {
		return err
	}
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", strings.Join(command, " "), parent.Err())
	}
	infra := &domain.InfrastructureError{Command: command, Output: res.stderr, ExitCode: res.exitCode, Err: err}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		infra.Timeout = true
		infra.Err = context.DeadlineExceeded
		return infra
	}
	if infra.Err == nil {
		infra.Err = fmt.Errorf("exit status %d", res.exitCode)
	}
	return infra
}

// countsAsOutage selects the failures that indicate the engine itself is
// unhealthy, as opposed to a missing object or a failing workload.
func countsAsOutage(err error) bool {
	var infra *domain.InfrastructureError
	if !errors.As(err, &infra) {
		return false
	}
	return infra.Timeout || infra.ExitCode < 0 || daemonUnreachable(infra.Output)
}

func daemonUnreachable(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "cannot connect to the docker daemon") ||
		strings.Contains(s, "error during connect")
}

// isNotFound reports whether stderr says the target object does not exist.
func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "no such object") ||
		strings.Contains(s, "no such volume") ||
		strings.Contains(s, "no such network") ||
		(strings.Contains(s, "network") && strings.Contains(s, "not found"))
}

// fromDaemon reports whether stderr came from the engine rather than from a
// command executed inside a container.
func fromDaemon(stderr string) bool {
	return strings.Contains(stderr, "Error response from daemon") || daemonUnreachable(stderr)
}

func notFoundErr(err error, stderr string) bool {
	var infra *domain.InfrastructureError
	return errors.As(err, &infra) && !infra.Timeout && isNotFound(stderr)
}

// --- Containers ---

func (r *Runtime) ContainerState(ctx context.Context, name string) (containerruntime.State, error) {
	res, err := r.call(ctx, nil, "inspect", "--type", "container", "--format", "{{.State.Status}}", name)
	if err != nil {
		if notFoundErr(err, res.stderr) {
			return containerruntime.StateMissing, nil
		}
		return containerruntime.StateMissing, err
	}
	return containerruntime.State(strings.TrimSpace(res.stdout)), nil
}

// runArgs builds the argv shared by RunContainer and RunOnce.
func runArgs(spec containerruntime.ContainerSpec) []string {
	var args []string
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if spec.Volume != "" {
		args = append(args, "-v", spec.Volume+":"+spec.VolumeTarget)
	}
	for _, host := range slices.Sorted(maps.Keys(spec.PublishUDP)) {
		args = append(args, "-p", fmt.Sprintf("%d:%d/udp", host, spec.PublishUDP[host]))
	}
	for _, c := range spec.CapAdd {
		args = append(args, "--cap-add", c)
	}
	for _, d := range spec.Devices {
		args = append(args, "--device", d)
	}
	for _, k := range slices.Sorted(maps.Keys(spec.Sysctls)) {
		args = append(args, "--sysctl", k+"="+spec.Sysctls[k])
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}
	if spec.Restart != "" {
		args = append(args, "--restart", spec.Restart)
	}
	args = append(args, spec.Image)
	return append(args, spec.Cmd...)
}

func (r *Runtime) RunContainer(ctx context.Context, spec containerruntime.ContainerSpec) (string, error) {
	res, err := r.call(ctx, nil, append([]string{"run", "-d"}, runArgs(spec)...)...)
	if err != nil {
		return "", fmt.Errorf("run container %s: %w", spec.Name, err)
	}
	return strings.TrimSpace(res.stdout), nil
}

func (r *Runtime) RunOnce(ctx context.Context, spec containerruntime.ContainerSpec, secretEnv map[string]string) (string, error) {
	spec.Env = append(slices.Clone(spec.Env), slices.Sorted(maps.Keys(secretEnv))...)
	res, err := r.call(ctx, secretEnv, append([]string{"run", "--rm"}, runArgs(spec)...)...)
	if err != nil {
		return res.stdout, fmt.Errorf("run %s: %w", strings.Join(spec.Cmd, " "), err)
	}
	return res.stdout, nil
}

func (r *Runtime) StartContainer(ctx context.Context, name string) error {
	res, err := r.call(ctx, nil, "start", name)
	if err != nil {
		if notFoundErr(err, res.stderr) {
			return fmt.Errorf("start %s: %w", name, errors.Join(containerruntime.ErrNoSuchContainer, err))
		}
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) StopContainer(ctx context.Context, name string) error {
	res, err := r.call(ctx, nil, "stop", "-t", "10", name)
	if err != nil {
		if notFoundErr(err, res.stderr) {
			return fmt.Errorf("stop %s: %w", name, errors.Join(containerruntime.ErrNoSuchContainer, err))
		}
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, name string) error {
	res, err := r.call(ctx, nil, "rm", "-f", name)
	if err != nil && !notFoundErr(err, res.stderr) {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) Logs(ctx context.Context, name string, tail int) (string, error) {
	res, err := r.call(ctx, nil, "logs", "--tail", strconv.Itoa(tail), name)
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", name, err)
	}
	return res.stdout + res.stderr, nil
}

// Exec runs cmd inside the container. Engine failures (missing or stopped
// container, timeouts) are errors; the command's own exit code is not.
func (r *Runtime) Exec(ctx context.Context, name string, cmd []string, secretEnv map[string]string) (containerruntime.ExecResult, error) {
	args := []string{"exec"}
	for _, k := range slices.Sorted(maps.Keys(secretEnv)) {
		args = append(args, "-e", k)
	}
	args = append(append(args, name), cmd...)

	res, err := r.call(ctx, secretEnv, args...)
	out := containerruntime.ExecResult{ExitCode: res.exitCode, Stdout: res.stdout, Stderr: res.stderr}
	if err == nil {
		return out, nil
	}
	var infra *domain.InfrastructureError
	if errors.As(err, &infra) && !infra.Timeout && infra.ExitCode > 0 && !fromDaemon(res.stderr) {
		return out, nil
	}
	if notFoundErr(err, res.stderr) {
		err = errors.Join(containerruntime.ErrNoSuchContainer, err)
	}
	return out, fmt.Errorf("exec in %s: %w", name, err)
}

// readFileMissing is the exit status the read script uses for a missing file.
const readFileMissing = 3

func (r *Runtime) ReadFile(ctx context.Context, name, path string) ([]byte, bool, error) {
	script := `if [ -f "$1" ]; then cat "$1"; else exit ` + strconv.Itoa(readFileMissing) + `; fi`
	res, err := r.Exec(ctx, name, []string{"sh", "-c", script, "sh", path}, nil)
	if err != nil {
		return nil, false, err
	}
	switch res.ExitCode {
	case 0:
		return []byte(res.Stdout), true, nil
	case readFileMissing:
		return nil, false, nil
	default:
		return nil, false, &domain.InfrastructureError{
			Command:  []string{r.binary, "exec", name, "cat", path},
			Output:   res.Stderr,
			ExitCode: res.ExitCode,
			Err:      fmt.Errorf("exit status %d", res.ExitCode),
		}
	}
}

// --- Networks and volumes ---

func (r *Runtime) CreateNetwork(ctx context.Context, name string) (string, error) {
	if id, err := r.networkID(ctx, name); err != nil || id != "" {
		return id, err
	}
	res, err := r.call(ctx, nil, "network", "create", "--driver", "bridge", name)
	if err != nil {
		if strings.Contains(res.stderr, "already exists") {
			return r.networkID(ctx, name)
		}
		return "", fmt.Errorf("create network %s: %w", name, err)
	}
	return strings.TrimSpace(res.stdout), nil
}

// networkID returns "" without error when the network does not exist.
func (r *Runtime) networkID(ctx context.Context, name string) (string, error) {
	res, err := r.call(ctx, nil, "network", "inspect", "--format", "{{.Id}}", name)
	if err != nil {
		if notFoundErr(err, res.stderr) {
			return "", nil
		}
		return "", fmt.Errorf("inspect network %s: %w", name, err)
	}
	return strings.TrimSpace(res.stdout), nil
}

func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	res, err := r.call(ctx, nil, "network", "rm", name)
	if err != nil && !notFoundErr(err, res.stderr) {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

// CreateVolume creates the named volume; the engine treats an existing name
// as success and echoes it back.
func (r *Runtime) CreateVolume(ctx context.Context, name string) (string, error) {
	res, err := r.call(ctx, nil, "volume", "create", name)
	if err != nil {
		return "", fmt.Errorf("create volume %s: %w", name, err)
	}
	return strings.TrimSpace(res.stdout), nil
}

func (r *Runtime) RemoveVolume(ctx context.Context, name string) error {
	res, err := r.call(ctx, nil, "volume", "rm", "-f", name)
	if err != nil && !notFoundErr(err, res.stderr) {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) VolumeExists(ctx context.Context, name string) (bool, error) {
	res, err := r.call(ctx, nil, "volume", "inspect", "--format", "{{.Name}}", name)
	if err != nil {
		if notFoundErr(err, res.stderr) {
			return false, nil
		}
		return false, fmt.Errorf("inspect volume %s: %w", name, err)
	}
	return true, nil
}
