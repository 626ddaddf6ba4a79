//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package fault provides the error envelope shared by every component;
// failures are reported as *Fault regardless of where they originated.
package fault

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/fault/code"
)

const (
	// ResolutionEmpty means no resolution was recorded.
	ResolutionEmpty = ""
	// ResolutionUnknown is reported when a fault carries no resolution.
	ResolutionUnknown = "no known resolution"
	// ResolutionNone marks a fault that the operator cannot fix.
	ResolutionNone = "none"

	// UnknownDomainStr stands in for a missing domain.
	UnknownDomainStr = "unknown"
	// UnknownDescriptionStr stands in for a missing description.
	UnknownDescriptionStr = "unknown fault"
)

// UnknownFault is returned when nothing more specific is known.
var UnknownFault = &Fault{
	Code:       code.Unknown,
	Resolution: ResolutionUnknown,
}

// Fault is an error with a stable numeric code, the domain that raised it
// and, where one exists, a hint for the operator. Faults may be wrapped;
// the helpers in this package look through the wrapping.
type Fault struct {
	Domain      string    `json:"domain"`
	Code        code.Code `json:"code"`
	Description string    `json:"description"`
	Reasons     []string  `json:"reasons,omitempty"`
	Resolution  string    `json:"resolution"`
}

// asFault returns the innermost Fault in err's cause chain.
func asFault(err error) (*Fault, bool) {
	f, ok := errors.Cause(err).(*Fault)
	return f, ok && f != nil
}

// domain returns the domain with colons and whitespace collapsed into
// underscores, so that it greps as one token.
func (f *Fault) domain() string {
	if f.Domain == "" {
		return UnknownDomainStr
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(f.Domain, ":", " ")), "_")
}

func (f *Fault) description() string {
	if f.Description == "" {
		return UnknownDescriptionStr
	}
	return f.Description
}

func (f *Fault) resolution() string {
	if f.Resolution == ResolutionEmpty {
		return ResolutionUnknown
	}
	return f.Resolution
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: code = %d description = %q", f.domain(), f.Code, f.description())
}

// Equals reports whether raw resolves to a fault with the same code.
func (f *Fault) Equals(raw error) bool {
	other, ok := asFault(raw)
	return ok && other.Code == f.Code
}

// Is lets errors.Is match faults by code.
func (f *Fault) Is(target error) bool {
	return f.Equals(target)
}

// WithReason returns a copy of the fault with reason recorded and appended
// to the description. The receiver is not modified.
func (f *Fault) WithReason(reason string) *Fault {
	if f == nil {
		return nil
	}

	out := *f
	out.Reasons = make([]string, 0, len(f.Reasons)+1)
	out.Reasons = append(append(out.Reasons, f.Reasons...), reason)
	out.Description = f.Description + ": " + reason
	return &out
}

// IsFault reports whether err resolves to a Fault.
func IsFault(err error) bool {
	_, ok := asFault(err)
	return ok
}

// HasCode reports whether err resolves to a Fault with code c.
func HasCode(err error, c code.Code) bool {
	f, ok := asFault(err)
	return ok && f.Code == c
}

// ShowResolutionFor formats the resolution hint for raw. Errors that are
// not faults, and faults without a hint, report ResolutionUnknown.
func ShowResolutionFor(raw error) string {
	f, ok := asFault(raw)
	if !ok {
		f = UnknownFault
	}
	return fmt.Sprintf("%s: code = %d resolution = %q", f.domain(), f.Code, f.resolution())
}

// HasResolution reports whether raw is a fault with a resolution hint.
func HasResolution(raw error) bool {
	f, ok := asFault(raw)
	return ok && f.Resolution != ResolutionEmpty
}
