// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/trisecure/internal/pipeline"
)

// HandleLogin runs one authentication session on the console.
// Anything other than Granted is returned as an error.
func HandleLogin(args Args) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, args)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Pipeline.Typing {
		if err := RequiresTTY("measure typing rhythm"); err != nil {
			return err
		}
	}

	if !args.Quiet {
		fmt.Fprintln(stdout, TitleStyle.Render("trisecure login"))
	}
	res := a.pipeline(NewConsole()).Run(ctx)
	return reportLogin(stdout, res, args.JSON)
}

// loginResultJSON is the --json shape of a login result.
type loginResultJSON struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
	Stage     string `json:"stage"`
	Username  string `json:"username,omitempty"`
	TypingWPM int    `json:"typing_wpm,omitempty"`
	Setup     bool   `json:"passkey_setup,omitempty"`
	Error     string `json:"error,omitempty"`
}

// reportLogin prints the outcome and converts a non-granted result into an
// error that still matches the stage's sentinel.
func reportLogin(w io.Writer, res pipeline.Result, jsonMode bool) error {
	if jsonMode {
		out := loginResultJSON{
			SessionID: res.SessionID,
			Decision:  res.Decision.String(),
			Stage:     string(res.Stage),
			Setup:     res.PasskeySetup != nil,
		}
		if res.Identity != nil {
			out.Username = res.Identity.Username
		}
		if res.Typing != nil {
			out.TypingWPM = res.Typing.WPM
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w)
		switch res.Decision {
		case pipeline.Granted:
			fmt.Fprintln(w, SuccessStyle.Render("Access granted."))
			fmt.Fprintln(w, RenderKeyValue("Welcome", res.Identity.DisplayName()))
			fmt.Fprintln(w, RenderKeyValue("Account ID", res.Identity.ID))
			if res.PasskeySetup != nil {
				fmt.Fprintln(w, DimStyle.Render("Passkey created. You will need your cards and passkey next time."))
			}
		case pipeline.LockedOut:
			fmt.Fprintln(w, WarningStyle.Render("Locked out. Too many failed card challenges."))
		case pipeline.Aborted:
			fmt.Fprintln(w, WarningStyle.Render("Login cancelled."))
		default:
			fmt.Fprintln(w, ErrorStyle.Render("Access denied."))
		}
		fmt.Fprintln(w, RenderKeyValue("Session", res.SessionID))
	}

	if res.Decision == pipeline.Granted {
		return nil
	}
	return NewCommandError("login", "", fmt.Sprintf("%s at stage %s", res.Decision, res.Stage), res.Err)
}
