package vmsession

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ownerFile records the pid of the process that allocated a storage
// directory.
const ownerFile = ".kolbeh-owner"

// orphanMinAge protects a directory whose owner has not been written yet.
const orphanMinAge = time.Minute

func writeOwner(dir string) error {
	return os.WriteFile(filepath.Join(dir, ownerFile), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// owned reports whether dir belongs to a process that is still running.
// Directories without a readable owner count as owned while they are young.
func owned(dir string, info os.FileInfo, now time.Time) bool {
	raw, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil {
		return now.Sub(info.ModTime()) < orphanMinAge
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return false
	}
	return processAlive(pid)
}
