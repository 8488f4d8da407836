// Copyright 2024 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/zbdba/innodb-forensic/forensic/config"
	"github.com/zbdba/innodb-forensic/forensic/ibdata"
	"github.com/zbdba/innodb-forensic/forensic/logs"
	"github.com/zbdba/innodb-forensic/forensic/redo"
)

const (
	cliName        = "innodb-forensic"
	cliDescription = "Inspect and rewrite MariaDB InnoDB tablespace and redo log files."
)

// Exit codes of the utility.
const (
	ExitOK        = 0
	ExitArgument  = 2
	ExitFormat    = 3
	ExitIO        = 4
	ExitInvariant = 5
)

var (
	FilePath    string
	UndoLogDir  string
	LogFilePath string
	Size        int64
	Lsn         uint64

	DefaultsFile string
	Output       string

	// set log info.
	LogPath  string
	LogLevel string
)

func NewRootCommand(use, short string) *cobra.Command {
	rc := &cobra.Command{
		Use:           use,
		Short:         short,
		SuggestFor:    []string{use},
		SilenceErrors: false,
	}
	rc.PersistentFlags().StringVar(&LogPath, "LogPath", "", "set the log file path; stderr when empty.")
	rc.PersistentFlags().StringVar(&LogLevel, "LogLevel", "INFO", "set the log level.")
	rc.PersistentFlags().StringVar(&Output, "output", "dump", "output format: dump or json.")
	rc.PersistentFlags().StringVar(&DefaultsFile, "defaults-file", "", "my.cnf supplying default file locations.")
	rc.AddCommand(NewReadTablespaceCommand())
	rc.AddCommand(NewReadRedoCommand())
	rc.AddCommand(NewWriteRedoCommand())
	rc.AddCommand(NewVersionCommand())
	return rc
}

func NewReadTablespaceCommand() *cobra.Command {
	jc := &cobra.Command{
		Use:   "read-tablespace [option]",
		Short: "decode the system tablespace: FSP header, TRX_SYS, rollback segments",
		Run:   ReadTablespace,
	}
	jc.Flags().StringVar(&FilePath, "file-path", "", "The path of the system tablespace data file.")
	jc.Flags().StringVar(&UndoLogDir, "undo-log-dir", "", "The directory holding undo tablespaces (undo001...).")
	return jc
}

func ReadTablespace(cmd *cobra.Command, args []string) {
	initLogs()
	defer logs.FlushLogs()

	cfg := loadDefaults()
	if FilePath == "" && cfg != nil {
		FilePath = cfg.SystemDataFile()
	}
	if UndoLogDir == "" && cfg != nil {
		UndoLogDir = cfg.UndoDir()
	}
	if FilePath == "" {
		fmt.Fprintln(os.Stderr, "read-tablespace: --file-path is required")
		os.Exit(ExitArgument)
	}

	report, err := ibdata.NewParse().ParseTablespaceFile(FilePath, UndoLogDir)
	if err != nil {
		fail(err)
	}
	printResult(report)
}

func NewReadRedoCommand() *cobra.Command {
	jc := &cobra.Command{
		Use:   "read-redo [option]",
		Short: "decode a redo log: header, checkpoint coordinate, MTR chains",
		Run:   ReadRedo,
	}
	jc.Flags().StringVar(&LogFilePath, "log-file-path", "", "The path of the redo log file (ib_logfile0).")
	return jc
}

func ReadRedo(cmd *cobra.Command, args []string) {
	initLogs()
	defer logs.FlushLogs()

	cfg := loadDefaults()
	if LogFilePath == "" && cfg != nil {
		LogFilePath = cfg.RedoLogFile()
	}
	if LogFilePath == "" {
		fmt.Fprintln(os.Stderr, "read-redo: --log-file-path is required")
		os.Exit(ExitArgument)
	}

	p, err := redo.NewParseFromFile(LogFilePath)
	if err != nil {
		fail(err)
	}
	report, err := p.Scan()
	if err != nil {
		fail(err)
	}
	printResult(report)
}

func NewWriteRedoCommand() *cobra.Command {
	jc := &cobra.Command{
		Use:   "write-redo [option]",
		Short: "forge a file checkpoint at a chosen LSN into a sibling .new file",
		Run:   WriteRedo,
	}
	jc.Flags().StringVar(&LogFilePath, "log-file-path", "", "The path of the redo log file.")
	_ = jc.MarkFlagRequired("log-file-path")

	jc.Flags().Int64Var(&Size, "size", 0, "The log file size; taken from the file when it exists.")
	_ = jc.MarkFlagRequired("size")

	jc.Flags().Uint64Var(&Lsn, "lsn", 0, "The checkpoint LSN to forge.")
	_ = jc.MarkFlagRequired("lsn")

	return jc
}

func WriteRedo(cmd *cobra.Command, args []string) {
	initLogs()
	defer logs.FlushLogs()

	newPath, err := redo.WriteCheckpoint(LogFilePath, Size, Lsn)
	if err != nil {
		fail(err)
	}
	fmt.Println(newPath)
}

func NewVersionCommand() *cobra.Command {
	vc := &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run:   versionCommandFunc,
	}
	return vc
}

func versionCommandFunc(cmd *cobra.Command, args []string) {
	fmt.Println(PrintLogo())
	fmt.Printf("Project Name:%s\n", ProjectName)
	fmt.Printf("Version %d.%d.%d\n", Major, Minor, Patch)
	fmt.Printf("Git SHA: %s\n", GitSHA)
	fmt.Printf("Build Time:%s\n", BuildTime)
	fmt.Printf("Go Version:%s\n", runtime.Version())
	fmt.Printf("Go OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func initLogs() {
	flag.Parse()
	var err error
	if LogPath == "" {
		err = logs.InitLogsToStderr(LogLevel)
	} else {
		err = logs.InitLogs(LogPath, LogLevel)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
	}
}

func loadDefaults() *config.Cfg {
	if DefaultsFile == "" {
		return nil
	}
	cfg, err := config.LoadDefaultsFile(DefaultsFile)
	if err != nil {
		fail(err)
	}
	return cfg
}

// printResult writes the decoded structures to stdout, either as a
// spew dump or as pretty JSON.
func printResult(v interface{}) {
	if Output == "json" {
		data, err := json.Marshal(v)
		if err != nil {
			fail(err)
		}
		os.Stdout.Write(pretty.Pretty(data))
		return
	}

	conf := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true}
	conf.Fdump(os.Stdout, v)
}

// fail prints the error chain to stderr and exits with the code of
// its kind.
func fail(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	logs.Error(err.Error())
	logs.FlushLogs()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, redo.ErrLsnOutsideCapacity),
		errors.Is(err, redo.ErrPostWriteInvariant):
		return ExitInvariant
	case isIOError(err):
		return ExitIO
	}
	return ExitFormat
}

func isIOError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
