package scheduler

import (
	"fmt"
	"io"
	"strings"
)

// Progress is a snapshot of scheduler state handed to an Observer.
type Progress struct {
	Tick       int
	Pending    int
	InProgress int
	Finished   int
	BusyShards int
}

// Observer receives progress between polls. It runs on the scheduler's
// goroutine and must not block.
type Observer func(Progress)

var spinner = []string{"-", `\`, "|", "/"}

// ProgressPrinter returns an Observer that keeps a single spinner line on w
// while copies are running, rewriting it in place with carriage returns.
func ProgressPrinter(w io.Writer) Observer {
	last := 0
	return func(p Progress) {
		if p.InProgress == 0 || p.BusyShards == 0 {
			return
		}
		line := fmt.Sprintf("%s Copies in progress: %d", spinner[p.Tick%len(spinner)], p.BusyShards)
		if last > 0 {
			fmt.Fprint(w, "\r"+strings.Repeat(" ", last)+"\r")
		}
		fmt.Fprint(w, line)
		last = len(line)
	}
}
