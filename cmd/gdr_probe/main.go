//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"encoding/json"
	"io"
	"os"
	"path"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/build"
	"github.com/daos-stack/gdr/config"
	"github.com/daos-stack/gdr/fault"
	"github.com/daos-stack/gdr/logging"
)

type (
	jsonOutputter interface {
		enableJsonOutput(bool)
		jsonOutputEnabled() bool
		outputJSON(io.Writer, interface{}) error
	}

	jsonOutputCmd struct {
		shouldEmitJSON bool
	}

	cmdLogger interface {
		setLog(*logging.LeveledLogger)
	}

	logCmd struct {
		log *logging.LeveledLogger
	}

	// cmdConfigSetter is implemented by commands that need the engine
	// configuration.
	cmdConfigSetter interface {
		setConfig(*config.Config)
	}

	cfgCmd struct {
		cfg *config.Config
	}

	outputSetter interface {
		setOutput(io.Writer)
	}

	outputCmd struct {
		out io.Writer
	}
)

func (cmd *jsonOutputCmd) enableJsonOutput(emitJson bool) {
	cmd.shouldEmitJSON = emitJson
}

func (cmd *jsonOutputCmd) jsonOutputEnabled() bool {
	return cmd.shouldEmitJSON
}

func (cmd *jsonOutputCmd) outputJSON(out io.Writer, in interface{}) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}

	_, err = out.Write(append(data, []byte("\n")...))
	return err
}

func (c *logCmd) setLog(log *logging.LeveledLogger) {
	c.log = log
}

func (c *cfgCmd) setConfig(cfg *config.Config) {
	c.cfg = cfg
}

func (c *outputCmd) setOutput(out io.Writer) {
	c.out = out
}

type cliOptions struct {
	Debug      bool        `short:"d" long:"debug" description:"Enable debug output"`
	JSON       bool        `short:"j" long:"json" description:"Enable JSON output"`
	ConfigPath string      `short:"o" long:"config-path" description:"Engine config file path"`
	Version    versionCmd  `command:"version" description:"Print gdr_probe version and RDMA/CUDA library details"`
	Topology   topologyCmd `command:"topology" alias:"topo" description:"Show the RDMA adapters and the GPU to adapter mapping"`
	SelfTest   selfTestCmd `command:"selftest" alias:"st" description:"Run send/receive pairs through the engine over the loopback binding"`
}

func exitWithError(log logging.Logger, err error) {
	cmdName := path.Base(os.Args[0])
	log.Errorf("%s: %v", cmdName, err)
	if fault.HasResolution(err) {
		log.Errorf("%s: %s", cmdName, fault.ShowResolutionFor(err))
	}
	os.Exit(1)
}

// loadConfig loads the config file at cfgPath or, if no path is given,
// the default config file from the config directories. Defaults are used
// if there is no default config file.
func loadConfig(log logging.Logger, cfgPath string) (*config.Config, error) {
	if cfgPath == "" {
		found, err := build.FindConfigFilePath(build.DefaultConfigFile)
		if err != nil {
			if !build.IsDefaultConfigNotFound(err) {
				return nil, err
			}
			log.Debug("no config file found, using defaults")
			return config.DefaultConfig(), nil
		}
		cfgPath = found
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to load engine configuration")
	}
	log.Debugf("engine config loaded from %s", cfgPath)
	return cfg, nil
}

// addLogFile copies every message of log into the file at logPath.
func addLogFile(log *logging.LeveledLogger, logPath string) (func(), error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", logPath)
	}

	fileLog := logging.NewCombinedLogger(build.ProbeName+" ", f).WithLogLevel(logging.LogLevelTrace)
	log.AddTraceLogger(fileLog)
	log.AddDebugLogger(fileLog)
	log.AddInfoLogger(fileLog)
	log.AddNoticeLogger(fileLog)
	log.AddErrorLogger(fileLog)

	return func() { f.Close() }, nil
}

func parseOpts(args []string, opts *cliOptions, out io.Writer, log *logging.LeveledLogger) error {
	p := flags.NewParser(opts, flags.Default)
	p.Options ^= flags.PrintErrors // Don't allow the library to print errors
	p.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}

		cfg, err := loadConfig(log, opts.ConfigPath)
		if err != nil {
			return err
		}
		log.SetLevel(cfg.LogLevel)
		if opts.Debug {
			log.SetLevel(logging.LogLevelDebug)
			log.Debug("debug output enabled")
		}
		if cfg.LogFile != "" {
			closeLog, err := addLogFile(log, cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()
		}

		if jsonCmd, ok := cmd.(jsonOutputter); ok {
			jsonCmd.enableJsonOutput(opts.JSON)
		}
		if logCmd, ok := cmd.(cmdLogger); ok {
			logCmd.setLog(log)
		}
		if cfgCmd, ok := cmd.(cmdConfigSetter); ok {
			cfgCmd.setConfig(cfg)
		}
		if outCmd, ok := cmd.(outputSetter); ok {
			outCmd.setOutput(out)
		}

		return cmd.Execute(args)
	}

	_, err := p.ParseArgs(args)
	return err
}

func main() {
	var opts cliOptions
	log := logging.NewCommandLineLogger()

	if err := parseOpts(os.Args[1:], &opts, os.Stdout, log); err != nil {
		exitWithError(log, err)
	}
}
