//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/common/test"
	"github.com/daos-stack/gdr/config"
	"github.com/daos-stack/gdr/logging"
)

// runCmd parses and runs the command line in args. setup may be used to
// inject dependencies into the commands before they run.
func runCmd(t *testing.T, log *logging.LeveledLogger, args []string, setup func(*cliOptions)) (string, error) {
	t.Helper()

	var opts cliOptions
	if setup != nil {
		setup(&opts)
	}

	var out bytes.Buffer
	err := parseOpts(args, &opts, &out, log)
	return out.String(), err
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	cfgPath := filepath.Join(dir, "gdr.yml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestGdrProbe_BadCommands(t *testing.T) {
	tmpDir := test.CreateTestDir(t)

	for name, tc := range map[string]struct {
		args    []string
		cfg     string
		wantErr error
	}{
		"no command": {
			wantErr: errors.New("Please specify one command"),
		},
		"unknown command": {
			args:    []string{"bogus"},
			wantErr: errors.New("Unknown command"),
		},
		"unknown flag": {
			args:    []string{"--bogus", "version"},
			wantErr: errors.New("unknown flag"),
		},
		"missing config file": {
			args:    []string{"--config-path", filepath.Join(tmpDir, "missing.yml"), "version"},
			wantErr: errors.New("reading config file"),
		},
		"unknown config field": {
			args:    []string{"version"},
			cfg:     "bogus: 1\n",
			wantErr: errors.New("parsing config file"),
		},
		"invalid config": {
			args:    []string{"version"},
			cfg:     "num_sends: 0\n",
			wantErr: config.FaultBadSlots("send", 0),
		},
	} {
		t.Run(name, func(t *testing.T) {
			log, buf := logging.NewTestLogger(t.Name())
			defer test.ShowBufferOnFailure(t, buf)

			args := tc.args
			if tc.cfg != "" {
				args = append([]string{"-o", writeConfig(t, t.TempDir(), tc.cfg)}, args...)
			}

			_, gotErr := runCmd(t, log, args, nil)
			test.CmpErr(t, tc.wantErr, gotErr)
		})
	}
}

func TestGdrProbe_LogLevel(t *testing.T) {
	for name, tc := range map[string]struct {
		cfg       string
		debug     bool
		wantLevel logging.LogLevel
	}{
		"default": {
			cfg:       "num_sends: 2\n",
			wantLevel: logging.LogLevelInfo,
		},
		"from config": {
			cfg:       "log_level: error\n",
			wantLevel: logging.LogLevelError,
		},
		"debug flag overrides config": {
			cfg:       "log_level: error\n",
			debug:     true,
			wantLevel: logging.LogLevelDebug,
		},
	} {
		t.Run(name, func(t *testing.T) {
			log, buf := logging.NewTestLogger(t.Name())
			defer test.ShowBufferOnFailure(t, buf)

			args := []string{"-o", writeConfig(t, t.TempDir(), tc.cfg)}
			if tc.debug {
				args = append(args, "--debug")
			}
			args = append(args, "version")

			if _, err := runCmd(t, log, args, setupVersion(nil)); err != nil {
				t.Fatal(err)
			}

			if log.Level() != tc.wantLevel {
				t.Fatalf("want log level %s, got %s", tc.wantLevel, log.Level())
			}
		})
	}
}

func TestGdrProbe_LogFile(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "probe.log")
	cfgPath := writeConfig(t, tmpDir, "log_file: "+logPath+"\n")

	if _, err := runCmd(t, log, []string{"-o", cfgPath, "topology"}, setupTopology(testVerbs("lo_0"), testCUDA())); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "opened lo_0") {
		t.Fatalf("log file missing adapter message:\n%s", string(data))
	}
}

func TestGdrProbe_LogFileUnwritable(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	tmpDir := t.TempDir()
	cfgPath := writeConfig(t, tmpDir, "log_file: "+filepath.Join(tmpDir, "missing", "probe.log")+"\n")

	_, err := runCmd(t, log, []string{"-o", cfgPath, "version"}, setupVersion(nil))
	test.CmpErr(t, errors.New("failed to open log file"), err)
}
