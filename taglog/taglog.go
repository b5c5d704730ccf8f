// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taglog reads and appends the tag-site log, the build artifact
// the collection pass writes and the tagging pass consumes.
//
// The log is line-oriented UTF-8 text, one record per line, fields
// separated by commas. Lines starting with '#' are comments; the
// collection pass writes one comment per run so that appends from
// successive translation units stay distinguishable.
//
//	fun,<function-name>
//	gv,<global-name>
//	ga,<alias-name>
//	struct,<type-name>,<element-index>,<function-name>
package taglog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPath names the environment variable carrying the log path.
const EnvPath = "FUZZALLOC_TAG_LOG"

const separator = ","

// Kind discriminates the record forms.
type Kind int

const (
	// KindFunc records an allocator entry point or wrapper function.
	KindFunc Kind = iota
	// KindGlobal records a global variable holding an allocator
	// function pointer.
	KindGlobal
	// KindAlias records a global alias of an allocator function.
	KindAlias
	// KindStruct records a struct field holding an allocator function
	// pointer, identified by type name and element index.
	KindStruct
)

var kindPrefix = map[Kind]string{
	KindFunc:   "fun",
	KindGlobal: "gv",
	KindAlias:  "ga",
	KindStruct: "struct",
}

func (k Kind) String() string { return kindPrefix[k] }

// Record is one tag-site log line.
type Record struct {
	Kind Kind
	// Name is the function, global, or alias name; for KindStruct it is
	// the struct type name.
	Name string
	// Elem is the struct element index (KindStruct only).
	Elem int
	// Func is the function containing the field store (KindStruct only).
	Func string
}

// String renders the record in log-line form.
func (r Record) String() string {
	if r.Kind == KindStruct {
		return strings.Join([]string{"struct", r.Name, strconv.Itoa(r.Elem), r.Func}, separator)
	}
	return r.Kind.String() + separator + r.Name
}

// ParseRecord parses one non-comment log line.
func ParseRecord(line string) (Record, error) {
	fields := strings.Split(line, separator)
	switch fields[0] {
	case "fun", "gv", "ga":
		if len(fields) != 2 || fields[1] == "" {
			return Record{}, fmt.Errorf("taglog: malformed %q record: %q", fields[0], line)
		}
		kind := KindFunc
		switch fields[0] {
		case "gv":
			kind = KindGlobal
		case "ga":
			kind = KindAlias
		}
		return Record{Kind: kind, Name: fields[1]}, nil
	case "struct":
		if len(fields) != 4 || fields[1] == "" {
			return Record{}, fmt.Errorf("taglog: malformed struct record: %q", line)
		}
		elem, err := strconv.Atoi(fields[2])
		if err != nil || elem < 0 {
			return Record{}, fmt.Errorf("taglog: bad element index in %q", line)
		}
		return Record{Kind: KindStruct, Name: fields[1], Elem: elem, Func: fields[3]}, nil
	default:
		return Record{}, fmt.Errorf("taglog: unknown record prefix in %q", line)
	}
}

// Parse reads every record from r, skipping comments and blank lines.
func Parse(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("taglog: read: %w", err)
	}
	return out, nil
}

// ReadFile loads all records from the log at path. A missing file yields
// an empty set: translation units before the first collection run see no
// log.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taglog: open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Append writes a comment line followed by the records to the log at
// path, creating the file when absent. The log is append-only across
// translation units; write failures are returned for the caller to treat
// as fatal.
func Append(path, comment string, records []Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("taglog: open for append: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if comment != "" {
		if _, err := fmt.Fprintf(w, "# %s\n", comment); err != nil {
			return fmt.Errorf("taglog: write: %w", err)
		}
	}
	for _, rec := range records {
		if _, err := fmt.Fprintln(w, rec.String()); err != nil {
			return fmt.Errorf("taglog: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("taglog: flush: %w", err)
	}
	return nil
}

// Dedup drops repeated records, preserving first-seen order. Successive
// collection runs over the same translation unit re-append their set;
// consumers are tolerant of the duplicates.
func Dedup(records []Record) []Record {
	seen := make(map[Record]struct{}, len(records))
	out := records[:0:0]
	for _, rec := range records {
		if _, ok := seen[rec]; ok {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out
}
