// Package systemd reports service state to systemd via sd_notify.
// Every call is a no-op when the process is not run by a Type=notify unit.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready reports READY=1. It returns false when NOTIFY_SOCKET is unset.
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func Status(s string) (bool, error) { return notify(false, "STATUS="+s) }
