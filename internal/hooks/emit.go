package hooks

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"
)

// Emit sends ev to the listener at socketPath. A missing socket means
// nothing is listening and is not an error.
func Emit(socketPath string, ev Event, timeout time.Duration) error {
	if _, err := os.Stat(socketPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode hook event: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("dial hook socket: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write hook event: %w", err)
	}
	return nil
}
