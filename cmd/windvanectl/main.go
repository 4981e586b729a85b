// Copyright (C) 2026 Windvane AI (eng@windvane.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command windvanectl is the operator CLI for a running Windvane server.
//
// Usage:
//
//	windvanectl query "analyze terrain at 35.067482, -101.395466"
//	windvanectl diagnose
//	windvanectl diagnose --quick
//	windvanectl decode <envelope-file-or-literal>
//
// The server address comes from --server or WINDVANE_SERVER
// (default http://localhost:8600).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/windvane-ai/windvane/services/orchestrator/artifact"
)

var (
	serverAddr string
	quickMode  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "windvanectl",
		Short: "Operator CLI for the Windvane query-orchestration server",
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(),
		"Windvane server base URL")

	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one free-text query through the server pipeline",
		Args:  cobra.MinimumNArgs(1),
		Run:   runQueryCommand,
	}

	diagnoseCmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run server diagnostics and print the report",
		Run:   runDiagnoseCommand,
	}
	diagnoseCmd.Flags().BoolVar(&quickMode, "quick", false,
		"Skip checks that touch external systems")

	decodeCmd := &cobra.Command{
		Use:   "decode <envelope>",
		Short: "Decode a stored artifact envelope (file path or literal string)",
		Args:  cobra.ExactArgs(1),
		Run:   runDecodeCommand,
	}

	rootCmd.AddCommand(queryCmd, diagnoseCmd, decodeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultServer() string {
	if s := os.Getenv("WINDVANE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8600"
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func runQueryCommand(_ *cobra.Command, args []string) {
	text := strings.Join(args, " ")
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	resp, err := httpClient().Post(serverAddr+"/v1/windvane/query", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSONBody(resp.Body)
}

func runDiagnoseCommand(_ *cobra.Command, _ []string) {
	mode := "full"
	if quickMode {
		mode = "quick"
	}
	resp, err := httpClient().Get(serverAddr + "/v1/windvane/diagnostics?mode=" + mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSONBody(resp.Body)
}

func runDecodeCommand(_ *cobra.Command, args []string) {
	envelope := args[0]
	// An argument naming a readable file is read; anything else is treated
	// as a literal envelope.
	if data, err := os.ReadFile(envelope); err == nil {
		envelope = strings.TrimSpace(string(data))
	}

	codec := artifact.NewCodec(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	a := codec.Decode(context.Background(), artifact.SerializedArtifact{Envelope: envelope, Size: len(envelope)})

	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	if a.IsPlaceholder() {
		os.Exit(1)
	}
}

func printJSONBody(r io.Reader) {
	raw, err := io.ReadAll(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}
