// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memfuncs parses the special-case list of user-defined
// allocation wrappers.
//
// The list is line-oriented text. Each record names a section, a kind,
// and a symbol:
//
//	fuzzalloc,fun,my_alloc
//	fuzzalloc,gv,alloc_hook
//
// Only the fuzzalloc section is consumed here; foreign sections are
// ignored so the file can be shared with other tooling. Lines starting
// with '#' are comments.
package memfuncs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Environment variables naming the list file. EnvPath is preferred;
// EnvPathLegacy is the older spelling still accepted.
const (
	EnvPath       = "FUZZALLOC_MEM_FUNCS"
	EnvPathLegacy = "FUZZALLOC_WHITELIST"
)

// Section is the list section this package consumes.
const Section = "fuzzalloc"

// List is the parsed special-case list.
type List struct {
	// Funcs are user wrapper functions to treat as allocator entry
	// points.
	Funcs []string
	// Globals are globals known to hold allocator function pointers.
	Globals []string
}

// HasFunc reports whether name is a listed wrapper function.
func (l *List) HasFunc(name string) bool {
	for _, f := range l.Funcs {
		if f == name {
			return true
		}
	}
	return false
}

// HasGlobal reports whether name is a listed global.
func (l *List) HasGlobal(name string) bool {
	for _, g := range l.Globals {
		if g == name {
			return true
		}
	}
	return false
}

// Parse reads the list from r.
func Parse(r io.Reader) (*List, error) {
	var l List
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("memfuncs: line %d: want section,kind,name: %q", lineno, line)
		}
		if fields[0] != Section {
			continue
		}
		switch fields[1] {
		case "fun":
			l.Funcs = append(l.Funcs, fields[2])
		case "gv":
			l.Globals = append(l.Globals, fields[2])
		default:
			return nil, fmt.Errorf("memfuncs: line %d: unknown kind %q", lineno, fields[1])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("memfuncs: read: %w", err)
	}
	return &l, nil
}

// Load reads the list file at path. A missing file is an error: a build
// that names a list it cannot read must fail loudly.
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memfuncs: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// FromEnv loads the list named by the environment, trying EnvPath then
// EnvPathLegacy. With neither set it returns an empty list.
func FromEnv() (*List, error) {
	for _, key := range []string{EnvPath, EnvPathLegacy} {
		if path := os.Getenv(key); path != "" {
			return Load(path)
		}
	}
	return &List{}, nil
}
