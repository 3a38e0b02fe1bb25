// Package targets parses and watches the list of records the application
// subscribes to. A target is written as collection/record, or collection/*
// for every record in a collection.
package targets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

var ErrInvalidTarget = errors.New("invalid target")

type Target struct {
	Collection string
	RecordID   string
}

func (t Target) String() string { return t.Collection + "/" + t.RecordID }

// ParseTarget accepts "collection", "collection/*" and "collection/record".
func ParseTarget(raw string) (Target, error) {
	value := strings.TrimSpace(raw)
	collection, record, _ := strings.Cut(value, "/")
	collection = strings.TrimSpace(collection)
	record = strings.TrimSpace(record)
	if collection == "" || strings.Contains(record, "/") {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	if record == "" {
		record = "*"
	}
	return Target{Collection: collection, RecordID: record}, nil
}

// ParseAll parses every value and drops duplicates, keeping first-seen order.
func ParseAll(values []string) ([]Target, error) {
	out := make([]Target, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		target, err := ParseTarget(value)
		if err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return dedupe(out), nil
}

// Load reads one target per line. Blank lines and text after # are ignored.
func Load(path string) ([]Target, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []Target
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line, _, _ := strings.Cut(scanner.Text(), "#")
		if strings.TrimSpace(line) == "" {
			continue
		}
		target, err := ParseTarget(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		out = append(out, target)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return dedupe(out), nil
}

// Merge joins target lists, dropping duplicates.
func Merge(lists ...[]Target) []Target {
	var out []Target
	for _, list := range lists {
		out = append(out, list...)
	}
	return dedupe(out)
}

// Diff reports the targets present only in next (added) and only in prev
// (removed).
func Diff(prev, next []Target) (added, removed []Target) {
	for _, target := range next {
		if !slices.Contains(prev, target) {
			added = append(added, target)
		}
	}
	for _, target := range prev {
		if !slices.Contains(next, target) {
			removed = append(removed, target)
		}
	}
	return added, removed
}

func Equal(a, b []Target) bool {
	added, removed := Diff(a, b)
	return len(added) == 0 && len(removed) == 0
}

func dedupe(in []Target) []Target {
	out := make([]Target, 0, len(in))
	for _, target := range in {
		if !slices.Contains(out, target) {
			out = append(out, target)
		}
	}
	return out
}
