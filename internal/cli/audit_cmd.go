// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// audit_cmd.go - Audit log review.
//
// Command: audit [show] [--lines N] [--type TYPE]
//
// Examples:
//   trisecure audit                       Last 50 events
//   trisecure audit show --lines 200
//   trisecure audit show --type AUTH_LOCKED_OUT
//   trisecure audit show --json
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/trisecure/internal/security"
)

// DefaultAuditLines is the number of events shown without --lines.
const DefaultAuditLines = 50

// HandleAudit handles the audit command.
func HandleAudit(args Args) error {
	p := NewArgParser(args.Raw)
	sub := p.Subcommand()
	if sub != "" && sub != "show" {
		return NewCommandError("audit", sub, "unknown subcommand", nil)
	}

	lines, err := p.FlagIntOrDefault("lines", DefaultAuditLines)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	path := cfg.Audit.Path
	if path == "" {
		path = security.DefaultAuditPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if !args.JSON {
			fmt.Fprintln(stdout, DimStyle.Render("No audit events yet."))
			return nil
		}
		data = nil
	} else if err != nil {
		return NewCommandError("audit", "show", "failed to read "+path, err)
	}

	events, err := security.ReadEvents(data)
	if err != nil {
		return NewCommandError("audit", "show", "failed to parse "+path, err)
	}
	events = filterEvents(events, p.Flag("type"), lines)

	if args.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if events == nil {
			events = []security.AuditEvent{}
		}
		return enc.Encode(events)
	}
	for _, ev := range events {
		fmt.Fprintln(stdout, formatEvent(ev))
	}
	return nil
}

// filterEvents keeps events of eventType (all when empty), then the last n.
func filterEvents(events []security.AuditEvent, eventType string, n int) []security.AuditEvent {
	if eventType != "" {
		kept := events[:0:0]
		for _, ev := range events {
			if strings.EqualFold(ev.EventType, eventType) {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

func formatEvent(ev security.AuditEvent) string {
	status := SuccessStyle.Render("ok  ")
	if !ev.Success {
		status = ErrorStyle.Render("fail")
	}
	line := fmt.Sprintf("%s %s %-18s", DimStyle.Render(ev.Timestamp.Format("2006-01-02 15:04:05")), status, ev.EventType)
	if ev.Stage != "" {
		line += " stage=" + ev.Stage
	}
	if ev.Subject != "" {
		line += " subject=" + ev.Subject
	}
	if ev.Error != "" {
		line += " " + WarningStyle.Render(ev.Error)
	}
	return line
}
