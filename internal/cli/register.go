// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// HandleRegister collects a new account on the console.
func HandleRegister(args Args) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, args)
	if err != nil {
		return err
	}
	defer a.Close()

	if !args.Quiet && !args.JSON {
		fmt.Fprintln(stdout, TitleStyle.Render("trisecure registration"))
	}
	id, err := a.registrar().Register(ctx, NewConsole())
	if err != nil {
		return NewCommandError("register", "", "registration failed", err)
	}

	if args.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"id": id.ID, "username": id.Username})
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, SuccessStyle.Render("Registration complete."))
	fmt.Fprintln(stdout, RenderKeyValue("Name", id.DisplayName()))
	fmt.Fprintln(stdout, RenderKeyValue("Account ID", id.ID))
	fmt.Fprintln(stdout, DimStyle.Render("Log in to record your typing profile and create your passkey."))
	return nil
}
