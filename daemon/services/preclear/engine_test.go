package preclear

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cskr/pubsub"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/domain"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/services/notify"
)

// writeFakeDevice creates a regular file to stand in for a block device.
func writeFakeDevice(t *testing.T, sizeBytes int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakedisk.img")
	if err := os.WriteFile(path, make([]byte, sizeBytes), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// installBoundedFakeDD replaces `dd` on PATH with a script that copies at
// most the destination file's existing size from its input (file or
// stdin), then exits 0. A real block device naturally bounds dd's write
// at its own size; a plain regular file used as a test double does not,
// so this keeps wipe-pass tests from writing an unbounded stream from
// /dev/zero or /dev/urandom into an ordinary file.
func installBoundedFakeDD(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := `#!/bin/sh
inp=""
of=""
for arg in "$@"; do
  case "$arg" in
    if=*) inp="${arg#if=}" ;;
    of=*) of="${arg#of=}" ;;
  esac
done
[ -z "$of" ] && exit 0
size=$(wc -c < "$of" 2>/dev/null || echo 0)
if [ -n "$inp" ]; then
  head -c "$size" "$inp" > "$of"
else
  head -c "$size" > "$of"
fi
exit 0
`
	path := filepath.Join(dir, "dd")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// installSleepingFakeDD replaces `dd` with a script that ignores its
// arguments and sleeps, so a cancellation test has something to interrupt
// without writing anything anywhere.
func installSleepingFakeDD(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\nsleep 30\n"
	path := filepath.Join(dir, "dd")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// waitForTerminal reads progress events until device's job reports a
// terminal phase. finish removes a job from the running map as it turns
// terminal, so the final snapshot is only seen on the progress topic.
func waitForTerminal(t *testing.T, events <-chan dto.PreclearJob, device string, timeout time.Duration) dto.PreclearJob {
	t.Helper()
	deadline := time.After(timeout)
	var lastPhase dto.PreclearPhase
	for {
		select {
		case job, ok := <-events:
			if !ok {
				t.Fatalf("progress events for %s ended before a terminal phase", device)
			}
			if job.DevicePath != device {
				continue
			}
			if job.IsTerminal() {
				return job
			}
			lastPhase = job.Phase
		case <-deadline:
			t.Fatalf("timed out waiting for %s to reach a terminal phase, last phase=%s", device, lastPhase)
		}
	}
}

func TestStart_RefusesSystemDisk(t *testing.T) {
	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	_, err := m.Start("/dev/sda", true, Options{Algorithm: dto.AlgorithmZero, PassCount: 1})
	if err == nil {
		t.Fatal("expected an error for a system disk")
	}
}

func TestStart_RefusesDuplicateJob(t *testing.T) {
	installBoundedFakeDD(t)
	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	events := domain.Subscribe(m.hub, constants.TopicPreclearProgress)
	dev := writeFakeDevice(t, 64*1024)

	if _, err := m.Start(dev, false, Options{Algorithm: dto.AlgorithmZero, PassCount: 1}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer waitForTerminal(t, events, dev, 10*time.Second)

	_, err := m.Start(dev, false, Options{Algorithm: dto.AlgorithmZero, PassCount: 1})
	if err == nil {
		t.Fatal("expected an error starting a second job for the same device")
	}
}

func TestStart_RejectsOddPassCountForOneZero(t *testing.T) {
	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	_, err := m.Start("/dev/sdz", false, Options{Algorithm: dto.AlgorithmOneZero, PassCount: 3})
	if err == nil {
		t.Fatal("expected an error: one-zero requires an even pass count")
	}
}

func TestPreclear_ZeroWipeCompletes(t *testing.T) {
	installBoundedFakeDD(t)
	dev := writeFakeDevice(t, 64*1024)
	// Pre-contaminate without changing the file's size, so the wipe has
	// something to overwrite.
	f, openErr := os.OpenFile(dev, os.O_WRONLY, 0o644)
	if openErr != nil {
		t.Fatal(openErr)
	}
	if _, err := f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0); err != nil {
		t.Fatal(err)
	}
	f.Close()

	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	events := domain.Subscribe(m.hub, constants.TopicPreclearProgress)
	_, err := m.Start(dev, false, Options{Algorithm: dto.AlgorithmZero, PassCount: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForTerminal(t, events, dev, 15*time.Second)
	if job.Phase != dto.PhaseComplete {
		t.Fatalf("expected complete, got %s (err=%s)", job.Phase, job.Error)
	}

	data, readErr := os.ReadFile(dev)
	if readErr != nil {
		t.Fatal(readErr)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}

// TestPreclear_ReadCheckFindsContamination encodes seed scenario S3: after
// a zero wipe, two bytes are left non-zero (simulating a bad sector), and
// ReadCheck must report both offsets and fail the job. cmp -l against a
// small regular file is naturally bounded by that file's length, so this
// exercises the real cmp/head pipeline directly without a fake dd.
func TestPreclear_ReadCheckFindsContamination(t *testing.T) {
	dev := writeFakeDevice(t, 2048)
	ctx := context.Background()

	f, openErr := os.OpenFile(dev, os.O_WRONLY, 0o644)
	if openErr != nil {
		t.Fatal(openErr)
	}
	if _, err := f.WriteAt([]byte{0x01}, 512); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0x02}, 1024); err != nil {
		t.Fatal(err)
	}
	f.Close()

	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	LogDir = t.TempDir()

	badCount, checkErr := m.runReadCheck(ctx, dev, true)
	if checkErr != nil {
		t.Fatalf("runReadCheck: %v", checkErr)
	}
	if badCount != 2 {
		t.Fatalf("expected 2 bad sectors, got %d", badCount)
	}

	logData, readErr := os.ReadFile(logPathFor(dev))
	if readErr != nil {
		t.Fatalf("reading readcheck log: %v", readErr)
	}
	// cmp -l reports 1-based byte numbers, so offsets 512/1024 surface as 513/1025.
	if !strings.Contains(string(logData), "513") || !strings.Contains(string(logData), "1025") {
		t.Errorf("expected log to mention both 1-based offsets, got:\n%s", logData)
	}
}

func TestPassPattern_OneZeroEndsInZero(t *testing.T) {
	algo := dto.AlgorithmOneZero
	if !algo.EndsInZero() {
		t.Fatal("one-zero should end in zero")
	}
	for pass := 1; pass <= 6; pass++ {
		got := algo.PassPattern(pass)
		want := dto.AlgorithmFF
		if pass%2 == 0 {
			want = dto.AlgorithmZero
		}
		if got != want {
			t.Errorf("pass %d: got %s, want %s", pass, got, want)
		}
	}
}

func TestCancel_TransitionsToAborted(t *testing.T) {
	installSleepingFakeDD(t)
	dev := writeFakeDevice(t, 1024)
	m := New(lib.NewInvoker(), notify.New(filepath.Join(t.TempDir(), "missing.sock")), pubsub.New(1))
	events := domain.Subscribe(m.hub, constants.TopicPreclearProgress)

	_, err := m.Start(dev, false, Options{Algorithm: dto.AlgorithmRandom, PassCount: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := m.Cancel(dev); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case job, ok := <-events:
			if !ok {
				t.Fatal("progress events ended before a terminal phase was observed")
			}
			if job.DevicePath != dev || !job.IsTerminal() {
				continue
			}
			if job.Phase != dto.PhaseCancelled {
				t.Fatalf("expected cancelled, got %s", job.Phase)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for cancellation to take effect")
		}
	}
}

func init() {
	// Guard against the test binary's ambient PATH lacking tools every test
	// in this file relies on, which would otherwise fail confusingly.
	for _, bin := range []string{"dd", "cmp", "sh", "tr", "head", "wc"} {
		if !lib.CommandExists(bin) {
			panic(fmt.Sprintf("preclear tests require %q on PATH", bin))
		}
	}
}
