package engine

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/arpa2/lcengine/pkg/logger"
)

// Driver is one external handler process, wired to a life-cycle name. The
// command line runs under /bin/sh -c, matching the popen semantics the wire
// contract promises, and the process is expected to keep draining its stdin
// for the lifetime of the environment.
type Driver struct {
	name    string
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
}

// identLen returns the length of the leading identifier of s: letters,
// digits, '-' and '_'.
func identLen(s string) int {
	n := 0
	for n < len(s) {
		c := s[n]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9', c == '-', c == '_':
			n++
		default:
			return n
		}
	}
	return n
}

// splitDriverSpec splits a "name=command" argument. The separator must sit
// directly after the leading identifier, and the command must be non-empty.
func splitDriverSpec(arg string) (name, command string, err error) {
	n := identLen(arg)
	if n == 0 || n >= len(arg) || arg[n] != '=' {
		return "", "", fmt.Errorf("%w: driver spec %q must have the form name=command", ErrInvalidArgument, arg)
	}
	if arg[n+1:] == "" {
		return "", "", fmt.Errorf("%w: driver spec %q has an empty command", ErrInvalidArgument, arg)
	}
	return arg[:n], arg[n+1:], nil
}

// startDriver launches the handler command and captures its stdin. Handler
// stdout is logged at info level, stderr at error level.
func startDriver(name, command string, log *logger.Logger) (*Driver, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = log.WithFields(logrus.Fields{"driver": name, "stream": "stdout"}).Writer()
	cmd.Stderr = log.WithFields(logrus.Fields{"driver": name, "stream": "stderr"}).WriterLevel(logrus.ErrorLevel)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Driver{name: name, command: command, cmd: cmd, stdin: stdin}, nil
}

// writePair delivers one fired event: the object's distinguishedName and the
// full lifecycleState attribute text, each on its own line. The pipe is
// unbuffered, so the write is the flush.
func (d *Driver) writePair(dn, attr string) error {
	_, err := fmt.Fprintf(d.stdin, "%s\n%s\n", dn, attr)
	return err
}

// close shuts the pipe and reaps the handler. A non-zero exit status is
// returned as the error.
func (d *Driver) close() error {
	if d.stdin != nil {
		d.stdin.Close()
		d.stdin = nil
	}
	if d.cmd == nil {
		return nil
	}
	err := d.cmd.Wait()
	d.cmd = nil
	return err
}

// DriverStatus reports a handler subprocess's identity and resource usage,
// sampled on demand for the admin surface.
type DriverStatus struct {
	Name       string  `json:"name"`
	Command    string  `json:"command"`
	PID        int32   `json:"pid,omitempty"`
	Running    bool    `json:"running"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
}

// Status samples the handler process. Sampling failures leave the
// corresponding fields zero; a wedged or exited handler still reports its
// name and command so an operator can identify it.
func (d *Driver) Status() DriverStatus {
	st := DriverStatus{Name: d.name, Command: d.command}
	if d.cmd == nil || d.cmd.Process == nil {
		return st
	}
	st.PID = int32(d.cmd.Process.Pid)
	proc, err := process.NewProcess(st.PID)
	if err != nil {
		return st
	}
	if running, err := proc.IsRunning(); err == nil {
		st.Running = running
	}
	if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
		st.RSSBytes = mi.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	return st
}
