//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging_test

import (
	"context"
	"strings"
	"testing"

	"github.com/daos-stack/gdr/logging"
)

func logAll(log logging.Logger) {
	log.Trace("trace msg")
	log.Debug("debug msg")
	log.Info("info msg")
	log.Notice("notice msg")
	log.Error("error msg")
}

func TestLogging_LeveledLogger(t *testing.T) {
	all := []string{"trace msg", "debug msg", "info msg", "notice msg", "error msg"}

	for name, tc := range map[string]struct {
		level    logging.LogLevel
		expCount int
	}{
		"disabled": {level: logging.LogLevelDisabled},
		"error":    {level: logging.LogLevelError, expCount: 1},
		"notice":   {level: logging.LogLevelNotice, expCount: 2},
		"info":     {level: logging.LogLevelInfo, expCount: 3},
		"debug":    {level: logging.LogLevelDebug, expCount: 4},
		"trace":    {level: logging.LogLevelTrace, expCount: 5},
	} {
		t.Run(name, func(t *testing.T) {
			var buf logging.LogBuffer
			log := logging.NewCombinedLogger("test ", &buf).WithLogLevel(tc.level)

			logAll(log)

			out := buf.String()
			for i, msg := range all {
				// messages are ordered from most to least verbose
				want := i >= len(all)-tc.expCount
				if strings.Contains(out, msg) != want {
					t.Fatalf("%q present: %t, expected %t\n%s", msg, !want, want, out)
				}
			}
			if tc.expCount > 0 && !strings.Contains(out, "test ") {
				t.Fatalf("missing prefix in %q", out)
			}
		})
	}
}

func TestLogging_ExtraDestinations(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())

	var extraBuf logging.LogBuffer
	extra := logging.NewCombinedLogger("extra ", &extraBuf).WithLogLevel(logging.LogLevelTrace)
	log.AddInfoLogger(extra)
	log.AddErrorLogger(extra)
	log.ClearLevel(logging.LogLevelDebug)

	logAll(log)

	if strings.Contains(buf.String(), "debug msg") {
		t.Fatal("debug destinations should have been cleared")
	}
	for _, msg := range []string{"info msg", "error msg"} {
		if !strings.Contains(extraBuf.String(), msg) {
			t.Fatalf("extra destination missing %q", msg)
		}
	}
	if strings.Contains(extraBuf.String(), "notice msg") {
		t.Fatal("notice should not reach the extra destination")
	}

	buf.Reset()
	if buf.String() != "" {
		t.Fatal("expected empty buffer after reset")
	}
}

func TestLogging_DisabledLogger(t *testing.T) {
	log := logging.NewDisabledLogger()
	if log.EnabledFor(logging.LogLevelError) {
		t.Fatal("disabled logger should not be enabled for errors")
	}
	logAll(log)
}

func TestLogging_Context(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())

	var nilCtx context.Context
	if _, err := logging.ToContext(nilCtx, log); err == nil {
		t.Fatal("expected error for nil context")
	}
	if _, err := logging.ToContext(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil logger")
	}

	ctx, err := logging.ToContext(context.Background(), log)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := logging.ToContext(ctx, log); err == nil {
		t.Fatal("expected error for duplicate logger")
	}

	logging.FromContext(ctx).Info("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatal("message not logged through context logger")
	}

	if logging.FromContext(context.Background()).EnabledFor(logging.LogLevelError) {
		t.Fatal("expected disabled logger without context logger")
	}
}
