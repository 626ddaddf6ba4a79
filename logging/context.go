//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"context"

	"github.com/pkg/errors"
)

type loggerKey struct{}

// FromContext returns the logger carried by ctx. Without one, messages are
// discarded.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return NewDisabledLogger()
	}
	if log, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return log
	}
	return NewDisabledLogger()
}

// ToContext returns a copy of ctx carrying log. A context may carry only
// one logger.
func ToContext(ctx context.Context, log Logger) (context.Context, error) {
	switch {
	case ctx == nil:
		return nil, errors.New("nil context")
	case log == nil:
		return nil, errors.New("nil logger")
	case ctx.Value(loggerKey{}) != nil:
		return nil, errors.New("logger already present in context")
	}

	return context.WithValue(ctx, loggerKey{}, log), nil
}
