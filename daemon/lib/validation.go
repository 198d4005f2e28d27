package lib

import (
	"fmt"
	"regexp"
)

// poolNamePattern enforces the pool name grammar (spec.md 3).
var poolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// ReservedPoolNames cannot be used as a pool name (spec.md 3/6).
var ReservedPoolNames = map[string]bool{
	"remotes": true,
}

// ReservedMountPrefixes may never be used as a pool's mount point (spec.md 6).
var ReservedMountPrefixes = []string{
	"/mnt/system",
	"/mnt/remotes",
}

// ValidatePoolName checks the pool-name grammar and reserved-name set.
func ValidatePoolName(name string) error {
	if !poolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid pool name %q: must match [A-Za-z0-9_-]{1,255}", name)
	}
	if ReservedPoolNames[name] {
		return fmt.Errorf("pool name %q is reserved", name)
	}
	return nil
}

// ValidateMountPoint rejects mount points under a reserved prefix.
func ValidateMountPoint(path string) error {
	for _, prefix := range ReservedMountPrefixes {
		if path == prefix || len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/" {
			return fmt.Errorf("mount point %q uses reserved prefix %q", path, prefix)
		}
	}
	return nil
}

// MinPassphraseLen is the minimum accepted LUKS passphrase length (spec.md 3).
const MinPassphraseLen = 8

// ValidateEncryption checks the encrypted/create_keyfile/passphrase invariant.
func ValidateEncryption(encrypted, createKeyfile bool, passphrase string) error {
	if !encrypted {
		return nil
	}
	if createKeyfile {
		return nil
	}
	if len(passphrase) < MinPassphraseLen {
		return fmt.Errorf("passphrase must be at least %d characters when create_keyfile is not set", MinPassphraseLen)
	}
	return nil
}

// RaidMinDevices returns the minimum data-device count a RAID profile needs,
// or 0 if the profile has no minimum (spec.md 3).
func RaidMinDevices(profile string) int {
	switch profile {
	case "raid1":
		return 2
	case "raid10":
		return 4
	default:
		return 0
	}
}

// ValidateRaidProfile checks a RAID profile has enough data devices.
func ValidateRaidProfile(profile string, deviceCount int) error {
	if min := RaidMinDevices(profile); min > 0 && deviceCount < min {
		return fmt.Errorf("raid profile %q requires at least %d data devices, got %d", profile, min, deviceCount)
	}
	return nil
}
