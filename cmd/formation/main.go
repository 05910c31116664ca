package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runSingle(args)
	case "batch":
		err = runBatch(args)
	case "serve":
		err = runServe(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'formation --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`formation - formation flying negotiation simulator

USAGE:
    formation [COMMAND] [FLAGS]

COMMANDS:
    run         Run one simulation (default)
    batch       Run iterations over a sweep of flight counts
    serve       Serve stored results and, with --live, stream a running simulation

RUN FLAGS:
    --config PATH      Config file (default: ./formation.yaml)
    --method NAME      greedy, cnp, english, vickrey, japanese or 0-4
    --seed N           Random seed
    --ticks N          Tick limit
    --db PATH          Store the run in this SQLite database
    --geojson PATH     Write airports, tracks and formation points as GeoJSON

BATCH FLAGS:
    --iterations N     Runs per swept value
    --ranges LIST      Comma separated flight counts, e.g. 50,100,200
    --parallel N       Concurrent runs

SERVE FLAGS:
    --addr HOST:PORT   Listen address (default: :8095)
    --live             Run a simulation in-process and stream its events on /ws
    --tick-delay DUR   Pace the live simulation, e.g. 50ms

CONFIGURATION:
    Environment: FORMATION_* variables override the config file`)
}
