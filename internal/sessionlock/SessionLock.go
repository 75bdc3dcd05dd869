// Package sessionlock prevents two local processes from using the same MQTT client ID.
// A broker disconnects the older session when a client ID connects twice, which results in
// both processes reconnecting in turn.
package sessionlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/fslock"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/pkg/codec"
)

// ErrInUse is returned when another process holds the lock of the client ID
var ErrInUse = errors.New("sessionlock: client ID is in use by another process")

// SessionLock is a lock file for a client ID
type SessionLock struct {
	lock     *fslock.Lock
	lockFile string
}

// LockFile returns the path of the lock file
func (sl *SessionLock) LockFile() string {
	return sl.lockFile
}

// Release the lock. The lock file itself remains.
func (sl *SessionLock) Release() {
	logrus.Debugf("SessionLock.Release: %s", sl.lockFile)
	_ = sl.lock.Unlock()
}

// LockFilePath returns the lock file of a client ID in the folder
func LockFilePath(folder string, clientID string) string {
	return filepath.Join(folder, "mqtttransport-"+codec.Encode(clientID)+".lock")
}

// Acquire the lock of the client ID, waiting up to timeout for another process to release it.
// Use a timeout of 0 to fail immediately when locked.
func Acquire(folder string, clientID string, timeout time.Duration) (*SessionLock, error) {
	if clientID == "" {
		return nil, fmt.Errorf("sessionlock: client ID is required")
	}
	if folder == "" {
		folder = os.TempDir()
	}
	lockFile := LockFilePath(folder, clientID)
	lock := fslock.New(lockFile)
	var err error
	if timeout > 0 {
		err = lock.LockWithTimeout(timeout)
	} else {
		err = lock.TryLock()
	}
	if errors.Is(err, fslock.ErrLocked) || errors.Is(err, fslock.ErrTimeout) {
		logrus.Warningf("Acquire: client ID '%s' is locked by %s", clientID, lockFile)
		return nil, fmt.Errorf("%w: %s", ErrInUse, clientID)
	} else if err != nil {
		return nil, fmt.Errorf("sessionlock: %s: %w", lockFile, err)
	}
	logrus.Debugf("Acquire: locked client ID '%s' with %s", clientID, lockFile)
	return &SessionLock{lock: lock, lockFile: lockFile}, nil
}
