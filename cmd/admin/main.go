// Command admin performs operator tasks against the RoboLearn database.
package main

import (
	"errors"
	"fmt"
	"os"

	"robolearn/internal/config"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cli := &commandLine{cfg: cfg, out: os.Stdout}
	if err := cli.run(os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
