package main

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/pthm-cable/cellspace/material"
)

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, material.Default(), math.NaN()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != material.Default().Len()+1 {
		t.Fatalf("got %d lines, want header + %d materials", len(lines), material.Default().Len())
	}
	if !strings.HasPrefix(lines[0], "NAME") || strings.Contains(lines[0], "AT ") {
		t.Errorf("header = %q", lines[0])
	}

	var water string
	for _, l := range lines {
		if strings.HasPrefix(l, "water ") {
			water = l
		}
	}
	if !strings.Contains(water, "< 0 → ice") || !strings.Contains(water, "> 100 → steam") {
		t.Errorf("water row = %q", water)
	}
}

func TestWriteTableAt(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, material.Default(), 150); err != nil {
		t.Fatal(err)
	}
	for _, l := range strings.Split(buf.String(), "\n") {
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "water", "steam":
			if got := fields[len(fields)-1]; got != "steam" {
				t.Errorf("%s at 150°C becomes %s, want steam", fields[0], got)
			}
		case "ice":
			if got := fields[len(fields)-1]; got != "water" {
				t.Errorf("ice at 150°C becomes %s, want water (one step)", got)
			}
		}
	}
}
