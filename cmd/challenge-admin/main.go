package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stridetally/server/pkg/bootstrap"
)

const usage = `usage: challenge-admin <command> [flags]

commands:
  sync           sync a date range          (-competition -start -end [-period -categories -ids])
  clear          reset synced days          (-competition -dates [-period -ids -dry-run])
  standings      print a leaderboard        (-competition -period [-category -as-of])
  roster-import  import a registration CSV  (-file | -object)
  roster-export  export placeholders as CSV (-file | -object)
  set-status     set status on every athlete (-status pending|confirmed)
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx, "challenge-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, svc, os.Args[1], os.Args[2:], os.Stdout)
	_ = svc.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		stop()
		os.Exit(1)
	}
}
