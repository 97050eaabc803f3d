/*
Testbed entry point: builds the demo compute graph and runs a short
headless frame loop against it.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/vixen/testbed"
)

func main() {
	app, err := testbed.New("engine.toml")
	if err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		app.Shutdown()
		os.Exit(0)
	}()

	if err := app.RunFrames(600); err != nil {
		panic(err)
	}
	app.Shutdown()
}
