// seqFlow: a pipeline driver for RNA-seq quantification and analysis.
// Copyright (c) 2024-2026 the seqFlow contributors.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/seqflow/seqflow/blob/master/LICENSE.txt>.

package cmd

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/seqflow/seqflow/internal"
	"github.com/seqflow/seqflow/rnaseq"
	"github.com/seqflow/seqflow/utils"
	"golang.org/x/sys/unix"
)

// ProgramMessage is the first line printed when the seqflow binary is
// called.
var ProgramMessage string

func init() {
	ProgramMessage = fmt.Sprint(
		"\n", utils.ProgramName, " version ", utils.ProgramVersion,
		" compiled with ", runtime.Version(),
		" - see ", utils.ProgramURL, " for more information.\n",
	)
}

// HelpMessage is printed to show the --help flag
const HelpMessage = "Print command details:\n" +
	"[--help]\n"

func getFilename(s, help string) string {
	switch s {
	case "-h", "--h", "-help", "--help":
		fmt.Fprint(os.Stderr, help)
		os.Exit(0)
	default:
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "--") {
			log.Println("Filename(s) in command line missing.")
			fmt.Fprint(os.Stderr, help)
			os.Exit(1)
		}
	}
	return s
}

func parseFlags(flags flag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(io.Discard)
	if err := flags.Parse(os.Args[requiredArgs:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			x = 1
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
	if flags.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
}

func logCheckFile(parameter, format string, v ...interface{}) {
	if parameter != "" {
		log.Printf(format+" for command line parameter %v.\n", append(v, parameter)...)
	} else {
		log.Printf(format+".\n", v...)
	}
}

func checkExist(parameter, filename string) bool {
	if len(filename) == 0 {
		logCheckFile(parameter, "Error: Missing filename")
		return false
	}
	if filename[0] == '-' {
		logCheckFile(parameter, "Error: Missing filename before %v", filename)
		return false
	}
	if _, err := os.Stat(filename); err == nil {
		return true
	} else if os.IsNotExist(err) {
		logCheckFile(parameter, "Error: File %v does not exist", filename)
		return false
	} else if os.IsPermission(err) {
		logCheckFile(parameter, "Error: No permission to read file %v", filename)
		return false
	} else {
		logCheckFile(parameter, "Error %v when trying to access file %v", err, filename)
		return false
	}
}

// pipelineOptions are the command line options shared by the run,
// quantify, and analyze commands. Options that name stage inputs
// override the corresponding configuration file settings.
type pipelineOptions struct {
	readsDir, indexDir, alignmentsDir string
	countMatrix, metadata, outputDir  string
	nrOfThreads                       int
	maxMemory                         string
	dryRun, timed                     bool
	profile, logPath                  string
}

// pipelineOptionsHelp is the shared tail of the per-command help strings.
const pipelineOptionsHelp = "[--reads-dir dir]\n" +
	"[--index-dir dir]\n" +
	"[--alignments-dir dir]\n" +
	"[--count-matrix file]\n" +
	"[--metadata file]\n" +
	"[--output-dir dir]\n" +
	"[--nr-of-threads nr]\n" +
	"[--max-memory size]\n" +
	"[--dry-run]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

func (opts *pipelineOptions) addFlags(flags *flag.FlagSet) {
	flags.StringVar(&opts.readsDir, "reads-dir", "", "bypass read retrieval with the read files in this directory")
	flags.StringVar(&opts.indexDir, "index-dir", "", "bypass index construction with a prebuilt index")
	flags.StringVar(&opts.alignmentsDir, "alignments-dir", "", "bypass mapping with precomputed alignments")
	flags.StringVar(&opts.countMatrix, "count-matrix", "", "bypass quantification with a precomputed count matrix")
	flags.StringVar(&opts.metadata, "metadata", "", "sample metadata table for the analysis")
	flags.StringVar(&opts.outputDir, "output-dir", "", "write pipeline outputs to the specified directory")
	flags.IntVar(&opts.nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.StringVar(&opts.maxMemory, "max-memory", "", "memory ceiling for concurrently running stages")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the resolved execution plan without running anything")
	flags.BoolVar(&opts.timed, "timed", false, "measure the runtime")
	flags.StringVar(&opts.profile, "profile", "", "write a profile to the specified file")
	flags.StringVar(&opts.logPath, "log-path", "", "write log files to the specified directory")
}

// loadWorkflow parses the configuration file named on the command line,
// applies the flag overrides, and constructs the workflow.
func loadWorkflow(opts *pipelineOptions, help string) (*rnaseq.Workflow, error) {
	configFile := getFilename(os.Args[2], help)

	setLogOutput(opts.logPath)

	if !checkExist("", configFile) {
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	if opts.nrOfThreads < 0 {
		log.Println("Error: Invalid nr-of-threads: ", opts.nrOfThreads)
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}

	cfg, err := rnaseq.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if opts.readsDir != "" {
		cfg.ReadsDir = opts.readsDir
	}
	if opts.indexDir != "" {
		cfg.IndexDir = opts.indexDir
	}
	if opts.alignmentsDir != "" {
		cfg.AlignmentsDir = opts.alignmentsDir
	}
	if opts.countMatrix != "" {
		cfg.CountMatrix = opts.countMatrix
	}
	if opts.metadata != "" {
		cfg.Metadata = opts.metadata
	}
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if opts.maxMemory != "" {
		cfg.MaxMemory = opts.maxMemory
	}
	if opts.nrOfThreads > 0 {
		runtime.GOMAXPROCS(opts.nrOfThreads)
		cfg.MaxCPUs = opts.nrOfThreads
	}

	w, err := rnaseq.NewWorkflow(cfg, rnaseq.ExecRunner{})
	if err != nil {
		return nil, err
	}
	log.Print(cfg.Summary())
	return w, nil
}

// printPlan logs the resolved execution plan of a dry run.
func printPlan(w *rnaseq.Workflow) {
	log.Println("Execution plan:")
	for _, line := range w.Plan() {
		log.Println(" ", line)
	}
}

func createLogFilename() string {
	t := time.Now()
	zone, _ := t.Zone()
	return fmt.Sprintf("logs/seqflow/seqflow-%d-%02d-%02d-%02d-%02d-%02d-%09d-%v.log", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

func setLogOutput(path string) {
	logPath := createLogFilename()
	var fullPath string
	if path == "" {
		fullPath = filepath.Join(os.Getenv("HOME"), logPath)
	} else {
		fullPath = filepath.Join(path, logPath)
	}
	internal.MkdirAll(filepath.Dir(fullPath), 0700)
	f := internal.FileCreate(fullPath)
	fmt.Fprintln(f, ProgramMessage)

	orgStderr, err := unix.Dup(2)
	if err != nil {
		log.Panic(err)
	}
	ferr := os.NewFile(uintptr(orgStderr), "/dev/stderr")
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		log.Panic(err)
	}

	multi := io.MultiWriter(f, ferr)

	log.SetOutput(multi)
	log.Println("Created log file at", fullPath)
	log.Println("Command line:", os.Args)
}

func timedRun(timed bool, profile, msg string, phase int64, f func() error) error {
	if profile != "" {
		filename := profile + strconv.FormatInt(phase, 10) + ".prof"
		file := internal.FileCreate(filename)
		defer internal.Close(file)
		if err := pprof.StartCPUProfile(file); err != nil {
			log.Panic(err)
		}
		defer pprof.StopCPUProfile()
	}
	if timed {
		log.Println(msg)
		start := time.Now()
		defer func() {
			end := time.Now()
			log.Println("Elapsed time: ", end.Sub(start))
		}()
	}
	return f()
}
