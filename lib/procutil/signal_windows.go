package procutil

import (
	"os"
	"os/signal"
)

// WaitForSigterm waits for Interrupt signal on Windows.
//
// Returns the caught signal.
func WaitForSigterm() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return <-ch
}
