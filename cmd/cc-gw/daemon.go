package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ccgw/cc-gw/config"
)

const (
	healthWaitBudget = 5 * time.Second
	stopWaitBudget   = 10 * time.Second
)

// readPID returns the pid from the pidfile, 0 when absent or unparsable.
func readPID(home string) int {
	raw, err := os.ReadFile(config.PIDPath(home))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// pidAlive reports whether the process exists. Signal 0 performs the
// permission and existence checks without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func writePID(home string, pid int) error {
	return os.WriteFile(config.PIDPath(home), []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// spawnDaemon re-execs the binary detached and waits for it to come up.
func spawnDaemon(home string, port int) int {
	if pid := readPID(home); pidAlive(pid) {
		fmt.Fprintf(os.Stderr, "gateway already running (pid %d)\n", pid)
		return 1
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "locate binary: %v\n", err)
		return 1
	}
	args := []string{"start", "--foreground"}
	if port > 0 {
		args = append(args, "--port", strconv.Itoa(port))
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start daemon: %v\n", err)
		return 1
	}
	if err := writePID(home, cmd.Process.Pid); err != nil {
		fmt.Fprintf(os.Stderr, "write pidfile: %v\n", err)
	}
	// The child must not become a zombie if we exit first.
	go func() { _ = cmd.Wait() }()

	if !waitHealthy(home, port, healthWaitBudget) {
		fmt.Fprintln(os.Stderr, "gateway did not become healthy in time")
		return 1
	}
	fmt.Printf("gateway started (pid %d)\n", cmd.Process.Pid)
	return 0
}

// waitHealthy polls /healthz until it responds or the budget runs out.
func waitHealthy(home string, portOverride int, budget time.Duration) bool {
	url := healthURL(home, portOverride)
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// healthURL derives the local health endpoint from the config document,
// honoring the same launch-time port overrides the server applies.
func healthURL(home string, portOverride int) string {
	host, port := "127.0.0.1", config.DefaultPort
	cs := config.NewStore(config.FilePath(home), nil)
	if err := cs.Load(); err == nil {
		cfg := cs.Get()
		host, port = cfg.Listen.Host, cfg.Listen.Port
	}
	if portOverride > 0 {
		port = portOverride
	}
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/healthz", host, port)
}

func runStop() int {
	home := config.Home()
	pid := readPID(home)
	if !pidAlive(pid) {
		fmt.Fprintln(os.Stderr, "gateway is not running")
		return 1
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find process %d: %v\n", pid, err)
		return 1
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "signal process %d: %v\n", pid, err)
		return 1
	}

	deadline := time.Now().Add(stopWaitBudget)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if pidAlive(pid) {
		fmt.Fprintf(os.Stderr, "gateway (pid %d) did not stop in time\n", pid)
		return 1
	}

	os.Remove(config.PIDPath(home))
	fmt.Println("gateway stopped")
	return 0
}

func runStatus() int {
	home := config.Home()
	pid := readPID(home)
	if !pidAlive(pid) {
		fmt.Println("not running")
		return 1
	}

	fmt.Printf("running (pid %d)\n", pid)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL(home, 0))
	if err != nil {
		fmt.Printf("health: unreachable (%v)\n", err)
		return 0
	}
	defer resp.Body.Close()
	fmt.Printf("health: %s\n", resp.Status)
	return 0
}
