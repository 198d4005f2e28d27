package preclear

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
)

// run executes every wipe pass, an optional ReadCheck, and an optional
// post-success format, updating the job's phase as it goes.
func (m *Manager) run(ctx context.Context, devicePath string, opts Options) {
	m.setPhase(devicePath, dto.PhaseWriting, 0)

	for pass := 1; pass <= opts.PassCount; pass++ {
		pattern := opts.Algorithm.PassPattern(pass)
		m.notify.Info("Preclear", fmt.Sprintf("Pass %d/%d (%s) starting on %s", pass, opts.PassCount, pattern, baseName(devicePath)))

		res, err := runWipePass(ctx, devicePath, pattern)
		if err != nil || !lib.DdNoSpaceLeft(res) {
			if ctxCancelled(ctx) {
				m.finish(devicePath, dto.PhaseCancelled, nil)
				return
			}
			m.finish(devicePath, dto.PhaseFailed, fmt.Errorf("wipe pass %d (%s) failed: exit=%d stderr=%s", pass, pattern, res.Exit, res.Stderr))
			return
		}
		m.notify.Info("Preclear", fmt.Sprintf("Pass %d/%d (%s) complete on %s", pass, opts.PassCount, pattern, baseName(devicePath)))
		m.setPhase(devicePath, dto.PhaseWriting, float64(pass)/float64(opts.PassCount))
	}

	if opts.ReadCheck {
		m.notify.Info("Preclear", fmt.Sprintf("ReadCheck starting on %s", baseName(devicePath)))
		m.setPhase(devicePath, dto.PhaseReadCheck, 0)

		badCount, logErr := m.runReadCheck(ctx, devicePath, opts.Log)
		if ctxCancelled(ctx) {
			m.finish(devicePath, dto.PhaseCancelled, nil)
			return
		}
		if logErr != nil {
			m.finish(devicePath, dto.PhaseFailed, fmt.Errorf("readCheck: %w", logErr))
			return
		}
		if badCount > 0 {
			m.finish(devicePath, dto.PhaseFailed, fmt.Errorf("readCheck failed on %s: %d bad sector(s)", baseName(devicePath), badCount))
			return
		}
		m.notify.Info("Preclear", fmt.Sprintf("ReadCheck passed on %s", baseName(devicePath)))
	}

	if opts.FormatSpec != nil {
		if err := m.runFormat(ctx, devicePath, *opts.FormatSpec); err != nil {
			m.finish(devicePath, dto.PhaseFailed, fmt.Errorf("post-clear format: %w", err))
			return
		}
	}

	m.finish(devicePath, dto.PhaseComplete, nil)
}

func ctxCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// runWipePass runs the dd/tr invocation for one pass pattern, bounded by
// ctx, with graceful SIGTERM-then-SIGKILL cancellation.
func runWipePass(ctx context.Context, devicePath string, pattern dto.PreclearAlgorithm) (lib.CommandResult, error) {
	switch pattern {
	case dto.AlgorithmZero:
		return runGraceful(ctx, constants.DdBin, "if=/dev/zero", "of="+devicePath, "bs=1M", "status=none")
	case dto.AlgorithmRandom:
		return runGraceful(ctx, constants.DdBin, "if=/dev/urandom", "of="+devicePath, "bs=1M", "status=none")
	case dto.AlgorithmFF:
		shellCmd := fmt.Sprintf("tr '\\0' '\\377' < /dev/zero | %s of=%s bs=1M status=none", constants.DdBin, devicePath)
		return runGraceful(ctx, "sh", "-c", shellCmd)
	default:
		return lib.CommandResult{}, fmt.Errorf("unknown wipe pattern %q", pattern)
	}
}

// runGraceful runs command under ctx, sending SIGTERM on cancellation and
// escalating to SIGKILL after cancelGrace if the child has not exited
// (4.I "Cancel: marks the job aborted, sends SIGTERM...; after 2s, SIGKILL").
func runGraceful(ctx context.Context, command string, args ...string) (lib.CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = cancelGrace

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := lib.CommandResult{Command: command, Args: args}
	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.Exit = exitErr.ExitCode()
			return res, nil
		}
		res.Err = err
		res.Exit = -1
		return res, nil
	}
	res.Exit = 0
	return res, nil
}

// runReadCheck runs `cmp -l <dev> /dev/zero | head -n CmpHeadLines` and, if
// logging was requested, writes the first differing offsets to
// /var/log/preclear/<dev>.log up to LogCap bytes, appending a truncation
// sentinel if the cap was reached (4.I).
func (m *Manager) runReadCheck(ctx context.Context, devicePath string, writeLog bool) (int, error) {
	shellCmd := fmt.Sprintf("%s -l %s /dev/zero | head -n %d", constants.CmpBin, devicePath, CmpHeadLines)
	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = cancelGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if startErr := cmd.Start(); startErr != nil {
		return 0, startErr
	}

	var logFile *os.File
	var written int
	truncated := false
	if writeLog {
		if mkErr := os.MkdirAll(LogDir, 0o755); mkErr != nil {
			return 0, mkErr
		}
		logFile, err = os.Create(logPathFor(devicePath))
		if err != nil {
			return 0, err
		}
		defer logFile.Close()
	}

	badCount := 0
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		badCount++
		if writeLog && !truncated {
			entry := line + "\n"
			if written+len(entry) > LogCap {
				logFile.WriteString("... truncated\n")
				truncated = true
				continue
			}
			n, _ := logFile.WriteString(entry)
			written += n
		}
	}

	waitErr := cmd.Wait()
	if ctxCancelled(ctx) {
		return badCount, nil
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return badCount, waitErr
		}
	}
	return badCount, nil
}

func logPathFor(devicePath string) string {
	return filepath.Join(LogDir, baseName(devicePath)+".log")
}

// runFormat runs the post-success format handoff: wipefs, an optional
// partition step with a retry/backoff wait for the node to appear, then
// mkfs.<fs> (4.I).
func (m *Manager) runFormat(ctx context.Context, devicePath string, spec FormatSpec) error {
	if res, _ := runGraceful(ctx, constants.WipefsBin, "-a", devicePath); res.Exit != 0 {
		return fmt.Errorf("wipefs failed: %s", res.Stderr)
	}

	target := devicePath
	if spec.Partition {
		if res, _ := runGraceful(ctx, constants.PartedBin, "-s", devicePath, "mklabel", "gpt"); res.Exit != 0 {
			return fmt.Errorf("parted mklabel failed: %s", res.Stderr)
		}
		if res, _ := runGraceful(ctx, constants.PartedBin, "-s", devicePath, "mkpart", "primary", "1MiB", "100%"); res.Exit != 0 {
			return fmt.Errorf("parted mkpart failed: %s", res.Stderr)
		}
		if res, _ := runGraceful(ctx, constants.PartprobeBin, devicePath); res.Exit != 0 {
			return fmt.Errorf("partprobe failed: %s", res.Stderr)
		}

		base := baseName(devicePath)
		partName := lib.PartitionName(base, 1)
		target = filepath.Join(filepath.Dir(devicePath), partName)
		if !waitForNode(ctx, target, 5*time.Second) {
			return fmt.Errorf("partition %s did not appear after partprobe", target)
		}
	}

	mkfsBin, force, err := mkfsFor(spec.FSType)
	if err != nil {
		return err
	}
	if res, _ := runGraceful(ctx, mkfsBin, force, target); res.Exit != 0 {
		return fmt.Errorf("%s failed: %s", mkfsBin, res.Stderr)
	}
	return nil
}

func mkfsFor(fsType dto.FSType) (bin, force string, err error) {
	switch fsType {
	case dto.FSExt4:
		return constants.MkfsExt4Bin, "-F", nil
	case dto.FSXFS:
		return constants.MkfsXFSBin, "-f", nil
	case dto.FSBtrfs:
		return constants.MkfsBtrfsBin, "-f", nil
	default:
		return "", "", fmt.Errorf("unsupported format filesystem %q", fsType)
	}
}

func waitForNode(ctx context.Context, path string, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	backoff := 250 * time.Millisecond
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
