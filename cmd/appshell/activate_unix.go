//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// watchActivation reopens the main window when the process receives
// SIGUSR1, the way a dock click re-activates a resident app.
func watchActivation(ctx context.Context, activate func() error, onErr func(error)) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if err := activate(); err != nil {
					onErr(err)
				}
			}
		}
	}()
}
