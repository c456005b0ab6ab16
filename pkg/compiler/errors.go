package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a compile error.
type ErrorKind string

const (
	KindLexical       ErrorKind = "lexical"
	KindSyntax        ErrorKind = "syntax"
	KindUnresolved    ErrorKind = "unresolved"
	KindType          ErrorKind = "type"
	KindArity         ErrorKind = "arity"
	KindUninitialized ErrorKind = "uninitialized"
	KindSemantic      ErrorKind = "semantic"
)

// CompileError is one diagnostic with its source location.
type CompileError struct {
	Kind ErrorKind

	// Program is the name the source was compiled under.
	Program string

	Message string

	// Line and Column are 1-indexed.
	Line   int
	Column int

	// Context holds the source lines around the error with a pointer (^)
	// under the error column.
	Context string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	var b strings.Builder
	if e.Program != "" {
		b.WriteString(e.Program)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s error at line %d, column %d: %s", e.Kind, e.Line, e.Column, e.Message)
	if e.Context != "" {
		b.WriteString("\n")
		b.WriteString(e.Context)
	}
	return b.String()
}

// ErrorList is every error found in one compilation, in source order of
// discovery. Compile returns it as a single aggregate error.
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// Kinds returns the kind of every error in order.
func (l ErrorList) Kinds() []ErrorKind {
	kinds := make([]ErrorKind, len(l))
	for i, e := range l {
		kinds[i] = e.Kind
	}
	return kinds
}

// Has reports whether any error is of kind k.
func (l ErrorList) Has(k ErrorKind) bool {
	for _, e := range l {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// AsErrorList extracts the ErrorList from an error returned by Compile.
func AsErrorList(err error) (ErrorList, bool) {
	var list ErrorList
	if errors.As(err, &list) {
		return list, true
	}
	return nil, false
}

// GenerateErrorContext renders the lines around an error: 2 lines before and
// 2 lines after, with line numbers and a pointer (^) under the error column.
//
// Example output:
//
//	  2 | public int x;
//	  3 | event e(init) {
//	> 4 |   x = ;
//	    |       ^
//	  5 | }
func GenerateErrorContext(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}

	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	start := line - 3
	if start < 0 {
		start = 0
	}
	end := line + 2
	if end > len(lines) {
		end = len(lines)
	}

	var buf strings.Builder
	lineNumWidth := len(fmt.Sprintf("%d", end))

	for i := start; i < end; i++ {
		lineNum := i + 1
		lineContent := strings.TrimRight(lines[i], "\r")

		if lineNum != line {
			buf.WriteString(fmt.Sprintf("  %*d | %s\n", lineNumWidth, lineNum, lineContent))
			continue
		}

		buf.WriteString(fmt.Sprintf("> %*d | %s\n", lineNumWidth, lineNum, lineContent))
		pad := ""
		if column > 1 {
			pad = pointerPadding(lineContent, column-1)
		}
		buf.WriteString(fmt.Sprintf("  %*s | %s^\n", lineNumWidth, "", pad))
	}

	return buf.String()
}

// pointerPadding keeps tabs so the pointer lines up under tab-indented code.
func pointerPadding(line string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i < len(line) && line[i] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
