package common

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

const LogDirName = "_delta_log"

// LogPath returns the delta log directory of a table.
func LogPath(tablePath string) string {
	return path.Join(tablePath, LogDirName)
}

// DeltaFile returns the commit file path for a version, zero padded to 20
// digits.
func DeltaFile(logPath string, version int64) string {
	return path.Join(logPath, fmt.Sprintf("%020d.json", version))
}

// ChecksumFile returns the checksum file path for a version.
func ChecksumFile(logPath string, version int64) string {
	return path.Join(logPath, fmt.Sprintf("%020d.crc", version))
}

// LogCompactionFile returns the compacted commit file path covering
// [startVersion, endVersion].
func LogCompactionFile(logPath string, startVersion, endVersion int64) string {
	return path.Join(logPath, fmt.Sprintf("%020d.%020d.compacted.json", startVersion, endVersion))
}

func IsCommitFile(p string) bool {
	name := path.Base(p)
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	stem := strings.TrimSuffix(name, ".json")
	if len(stem) != 20 {
		return false
	}
	_, err := strconv.ParseInt(stem, 10, 64)
	return err == nil
}

func IsChecksumFile(p string) bool {
	name := path.Base(p)
	if !strings.HasSuffix(name, ".crc") {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSuffix(name, ".crc"), 10, 64)
	return err == nil
}

// DeltaVersion parses the version out of a commit file path. It panics on a
// non-commit file, callers must filter with IsCommitFile first.
func DeltaVersion(p string) int64 {
	stem := strings.TrimSuffix(path.Base(p), ".json")
	v, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("not a commit file: %s", p))
	}
	return v
}
