// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command omnilytics runs the buyer analytics service: a sales upload
// endpoint, identity clusters, and the report API, all backed by an
// embedded BadgerDB.
//
// # Usage
//
//	omnilytics serve          start the HTTP server
//	omnilytics cache flush    drop every cached report result
//	omnilytics version        print the version
//
// Configuration lives at ~/.omnilytics/omnilytics.yaml and is created
// with defaults on first run. OMNILYTICS_* environment variables
// override file values.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/omnilytics/omnilytics/services/analytics/config"
	"github.com/omnilytics/omnilytics/services/analytics/handlers"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "omnilytics",
	Short: "Buyer identity resolution and sales analytics service",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(handlers.ServiceVersion)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load()
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		cfg = loaded
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

// fatal prints the error and exits without the log prefix. Used for
// user-facing command failures.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
