package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	var interval time.Duration
	var lines int
	flag.DurationVar(&interval, "interval", 50*time.Millisecond, "Delay between lines")
	flag.IntVar(&lines, "lines", 50, "Number of lines to emit before sleeping forever")
	flag.Parse()

	levels := []string{"INFO", "DEBUG", "WARN"}
	for i := 0; i < lines; i++ {
		ts := time.Now().Format(time.RFC3339)
		_, _ = fmt.Fprintf(os.Stdout, "%s %s request handled path=/items id=%d\n", ts, levels[i%len(levels)], i)
		_, _ = fmt.Fprintf(os.Stderr, "%s ERROR something noisy id=%d\n", ts, i)
		time.Sleep(interval)
	}
	select {}
}
