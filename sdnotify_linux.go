//go:build linux

package main

import "github.com/coreos/go-systemd/v22/daemon"

// sdNotifyReady tells systemd the listener is up. It returns false without
// an error when the daemon doesn't run under a notify-type unit.
func sdNotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}
