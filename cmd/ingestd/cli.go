// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"flag"
	"os"
	"strconv"
)

// cliFlags is the command-line surface of one ingestd process. rank and
// nprocs default to -1/0 so a missing flag falls through to the
// INGESTD_RANK/INGESTD_NPROCS environment pair, the way a launcher
// (mpirun, slurm, a k8s StatefulSet ordinal) would set them.
type cliFlags struct {
	configFile string
	rank       int
	nprocs     int
	logLevel   string
	logDate    bool
	dryRun     bool
	gops       bool
	envFile    string
	user       string
	group      string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configFile, "config", "./parset.json", "Path to the ingest `parset` for this process")
	flag.IntVar(&f.rank, "rank", -1, "This process's rank; defaults to $INGESTD_RANK")
	flag.IntVar(&f.nprocs, "nprocs", 0, "Total process count; defaults to $INGESTD_NPROCS")
	flag.StringVar(&f.logLevel, "loglevel", "info", "Minimum log level: debug, info, notice, warn, err, crit")
	flag.BoolVar(&f.logDate, "logdate", false, "Prefix log lines with a timestamp")
	flag.BoolVar(&f.dryRun, "dry-run", false, "Build the pipeline and exit without running the tick loop")
	flag.BoolVar(&f.gops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&f.envFile, "env", "./.env", "Optional dotenv file merged into the process environment before startup")
	flag.StringVar(&f.user, "user", "", "Drop privileges to this user after binding the status port")
	flag.StringVar(&f.group, "group", "", "Drop privileges to this group after binding the status port")
	flag.Parse()

	if f.rank < 0 {
		if v := os.Getenv("INGESTD_RANK"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				f.rank = n
			}
		}
	}
	if f.nprocs == 0 {
		if v := os.Getenv("INGESTD_NPROCS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				f.nprocs = n
			}
		}
	}
	return f
}
