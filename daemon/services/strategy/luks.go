package strategy

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ruaan-deysel/storage-control-plane/daemon/constants"
	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
	"github.com/ruaan-deysel/storage-control-plane/daemon/lib"
	"github.com/ruaan-deysel/storage-control-plane/daemon/logger"
)

// KeyfileDir is where LUKS keyfiles are written, one per pool (6).
var KeyfileDir = "/boot/config/system/luks"

// KeyfileBytes is the random key material size written to a keyfile (6).
const KeyfileBytes = 32

// LuksDeps are the external collaborators a Luks strategy needs.
type LuksDeps struct {
	Invoker *lib.Invoker
}

// Luks is the LUKS device strategy: formats (if needed) and opens each
// device into a slot-named mapper before filesystem operations run, and
// rolls back every mapper it opened on any failure (4.G).
type Luks struct {
	deps LuksDeps
}

// NewLuks builds a Luks strategy.
func NewLuks(deps LuksDeps) *Luks {
	return &Luks{deps: deps}
}

// Prepare formats (when required) and opens each device, in order. On
// error it closes every mapper already opened, in reverse order, before
// returning (testable property 6).
func (l *Luks) Prepare(ctx context.Context, devices []string, opts PrepareOptions) ([]dto.DeviceInfo, error) {
	startSlot := opts.StartSlot
	if startSlot == 0 {
		startSlot = 1
	}

	var opened []dto.DeviceInfo
	var keyfilePath string
	if opts.CreateKeyfile {
		var err error
		keyfilePath, err = ensureKeyfile(opts.PoolName)
		if err != nil {
			return nil, fmt.Errorf("preparing keyfile: %w", err)
		}
	}

	for i, dev := range devices {
		slot := startSlot + i
		isParity := i < opts.ParityCount
		mapperName := mapperNameFor(opts.PoolName, slot, isParity)

		if err := l.prepareOne(ctx, dev, mapperName, i == 0, keyfilePath, opts); err != nil {
			l.rollback(ctx, opened)
			return nil, fmt.Errorf("preparing device %d (%s): %w", i+1, dev, err)
		}

		opened = append(opened, dto.DeviceInfo{
			Path:       dev,
			Slot:       slot,
			MapperName: mapperName,
		})
	}

	return opened, nil
}

func (l *Luks) prepareOne(ctx context.Context, dev, mapperName string, isFirst bool, keyfilePath string, opts PrepareOptions) error {
	alreadyLuks := l.isLuks(ctx, dev)

	shouldFormat := (opts.Encrypted && opts.Format) || (alreadyLuks && opts.Format)
	if !alreadyLuks && !opts.Format {
		return fmt.Errorf("device %s is not a LUKS container and format was not requested", dev)
	}

	if shouldFormat {
		if err := l.format(ctx, dev, keyfilePath, opts.Passphrase, isFirst); err != nil {
			return fmt.Errorf("luksFormat: %w", err)
		}
		if keyfilePath != "" && !isFirst {
			if err := l.addKey(ctx, dev, keyfilePath, opts.Passphrase); err != nil {
				return fmt.Errorf("luksAddKey: %w", err)
			}
		}
	}

	if err := l.open(ctx, dev, mapperName, keyfilePath, opts.Passphrase); err != nil {
		return fmt.Errorf("luksOpen: %w", err)
	}
	return nil
}

func (l *Luks) isLuks(ctx context.Context, dev string) bool {
	res := l.deps.Invoker.Run(ctx, constants.CryptsetupBin, "isLuks", dev)
	return res.Exit == 0
}

// format luksFormats dev. Only the pool's first device gets the random
// key material written directly into its sole slot; every subsequent
// device is formatted with the passphrase instead, so addKey can later
// unlock that passphrase slot to add the keyfile as a second slot (4.G).
func (l *Luks) format(ctx context.Context, dev, keyfilePath, passphrase string, isFirst bool) error {
	args := []string{"luksFormat", "--type", "luks2", "-q", dev}
	if keyfilePath != "" && isFirst {
		args = append(args, "--key-file", keyfilePath)
		res := l.deps.Invoker.Run(ctx, constants.CryptsetupBin, args...)
		return resultToError(res)
	}
	res := l.deps.Invoker.RunStdin(ctx, passphrase+"\n", constants.CryptsetupBin, args...)
	return resultToError(res)
}

func (l *Luks) addKey(ctx context.Context, dev, keyfilePath, passphrase string) error {
	args := []string{"luksAddKey", dev, keyfilePath}
	res := l.deps.Invoker.RunStdin(ctx, passphrase+"\n", constants.CryptsetupBin, args...)
	return resultToError(res)
}

func (l *Luks) open(ctx context.Context, dev, mapperName, keyfilePath, passphrase string) error {
	if keyfilePath != "" {
		res := l.deps.Invoker.Run(ctx, constants.CryptsetupBin, "luksOpen", dev, mapperName, "--key-file", keyfilePath)
		return resultToError(res)
	}
	res := l.deps.Invoker.RunStdin(ctx, passphrase+"\n", constants.CryptsetupBin, "luksOpen", dev, mapperName)
	return resultToError(res)
}

func resultToError(res lib.CommandResult) error {
	if res.Exit != 0 || res.TimedOut {
		return fmt.Errorf("exit=%d timedOut=%v stderr=%s", res.Exit, res.TimedOut, res.Stderr)
	}
	return nil
}

// Cleanup closes mappers: data partitions first, then the main mapper;
// falls back to dmsetup remove if luksClose fails (4.G).
func (l *Luks) Cleanup(ctx context.Context, infos []dto.DeviceInfo) error {
	l.rollback(ctx, infos)
	return nil
}

// rollback closes mappers in reverse order, logging (but not propagating)
// any individual close failure (7. "undo errors are logged but never
// masked over the original error").
func (l *Luks) rollback(ctx context.Context, infos []dto.DeviceInfo) {
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		if info.MapperName == "" {
			continue
		}
		res := l.deps.Invoker.Run(ctx, constants.CryptsetupBin, "luksClose", info.MapperName)
		if res.Exit != 0 {
			logger.Warning("strategy: luksClose %s failed (%s), falling back to dmsetup remove", info.MapperName, res.Stderr)
			fallback := l.deps.Invoker.Run(ctx, constants.DmsetupBin, "remove", info.MapperName)
			if fallback.Exit != 0 {
				logger.Error("strategy: dmsetup remove %s also failed: %s", info.MapperName, fallback.Stderr)
			}
		}
	}
}

// GetPhysicalDevicePath returns the original block device path.
func (l *Luks) GetPhysicalDevicePath(info dto.DeviceInfo) string {
	return info.Path
}

// GetOperationalDevicePath returns the mapper path filesystem operations
// should target.
func (l *Luks) GetOperationalDevicePath(info dto.DeviceInfo) string {
	return filepath.Join(constants.DevMapperDir, info.MapperName)
}

func mapperNameFor(pool string, slot int, isParity bool) string {
	if isParity {
		return fmt.Sprintf("parity_%s_%d", pool, slot)
	}
	return fmt.Sprintf("%s_%d", pool, slot)
}

// ensureKeyfile returns the path to pool's keyfile, creating it with 32
// random bytes base64-encoded at mode 0600 if it does not already exist,
// reusing it otherwise (4.G).
func ensureKeyfile(pool string) (string, error) {
	if err := os.MkdirAll(KeyfileDir, 0o700); err != nil {
		return "", fmt.Errorf("creating keyfile dir: %w", err)
	}
	path := filepath.Join(KeyfileDir, pool+".key")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	raw := make([]byte, KeyfileBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return "", fmt.Errorf("writing keyfile: %w", err)
	}
	return path, nil
}
