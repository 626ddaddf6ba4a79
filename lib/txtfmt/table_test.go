//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package txtfmt

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTxtfmt_TableFormatter(t *testing.T) {
	for name, tc := range map[string]struct {
		titles    []string
		rows      []TableRow
		expOutput string
	}{
		"no titles": {
			rows: []TableRow{{"GPU": "0"}},
		},
		"no rows": {
			titles: []string{"GPU", "Adapter"},
			expOutput: `
GPU Adapter
--- -------
`,
		},
		"rows": {
			titles: []string{"GPU", "Bus ID", "Adapter"},
			rows: []TableRow{
				{"GPU": "0", "Bus ID": "0000:3b:00.0", "Adapter": "mlx5_0"},
				{"GPU": "1", "Bus ID": "0000:86:00.0", "Adapter": "mlx5_1"},
			},
			expOutput: `
GPU Bus ID       Adapter
--- ------       -------
0   0000:3b:00.0 mlx5_0
1   0000:86:00.0 mlx5_1
`,
		},
		"missing and extra values": {
			titles: []string{"GPU", "Hint"},
			rows: []TableRow{
				{"GPU": "0", "Unused": "x"},
				{"GPU": "1", "Hint": ""},
				{"GPU": "2", "Hint": "mlx5_2"},
			},
			expOutput: `
GPU Hint
--- ----
0   -
1   -
2   mlx5_2
`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := NewTableFormatter(tc.titles...)

			if diff := cmp.Diff(strings.TrimLeft(tc.expOutput, "\n"), f.Format(tc.rows)); diff != "" {
				t.Fatalf("unexpected output (-want, +got):\n%s\n", diff)
			}
		})
	}
}

func TestTxtfmt_FormatEntity(t *testing.T) {
	for name, tc := range map[string]struct {
		title     string
		attrs     []Attr
		expOutput string
	}{
		"empty": {},
		"title only": {
			title: "selftest",
			expOutput: `
selftest
--------
`,
		},
		"attributes keep their order": {
			title: "selftest",
			attrs: []Attr{
				{Name: "Operations", Value: "32"},
				{Name: "Bytes", Value: "32 MiB"},
				{Name: "Failed", Value: ""},
			},
			expOutput: `
selftest
--------
  Operations: 32
  Bytes:      32 MiB
  Failed:     -
`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			got := FormatEntity(tc.title, tc.attrs)

			if diff := cmp.Diff(strings.TrimLeft(tc.expOutput, "\n"), got); diff != "" {
				t.Fatalf("unexpected output (-want, +got):\n%s\n", diff)
			}
		})
	}
}
