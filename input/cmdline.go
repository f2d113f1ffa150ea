// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package input

import (
	"strings"

	"github.com/aclements/go-binlayout/layout"
)

// ParseCommandLine splits a compiler command line or DWARF producer
// string into the tool name, its version, and its flags.
//
// Words before the first flag name the tool, except that the first
// word starting with a digit is the version. Words between the version
// and the first flag are dropped. Flags start with '-' or '/'.
func ParseCommandLine(s string) layout.CommandLine {
	var cl layout.CommandLine
	words := strings.Fields(s)
	var tool []string
	i := 0
	for ; i < len(words); i++ {
		w := words[i]
		if isFlag(w) {
			break
		}
		if cl.FrontEndVersion == "" && w[0] >= '0' && w[0] <= '9' {
			cl.FrontEndVersion = w
			cl.BackEndVersion = w
			continue
		}
		if cl.FrontEndVersion == "" {
			tool = append(tool, w)
		}
	}
	cl.Tool = strings.Join(tool, " ")
	if i < len(words) {
		cl.Flags = words[i:]
	}
	return cl
}

func isFlag(w string) bool {
	return w[0] == '-' || w[0] == '/'
}
