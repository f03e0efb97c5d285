package ui

import (
	"appshell/internal/bridge"
	"appshell/internal/update"
)

type versionsLoadedMsg struct {
	versions bridge.Versions
	err      error
}

type pingReplyMsg struct {
	reply string
	err   error
}

type updateStatusMsg update.Status

// statusClosedMsg means the privileged side stopped publishing status.
type statusClosedMsg struct{}

type copiedMsg struct {
	err error
}

type checkRequestedMsg struct {
	err error
}
