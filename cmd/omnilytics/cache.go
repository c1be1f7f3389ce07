// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omnilytics/omnilytics/services/analytics/cache"
	"github.com/omnilytics/omnilytics/services/analytics/storage"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the report result cache",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached report result",
	Run: func(cmd *cobra.Command, args []string) {
		if err := flushCache(); err != nil {
			fatal(err)
		}
		fmt.Println("Report result cache flushed.")
	},
}

func init() {
	cacheCmd.AddCommand(cacheFlushCmd)
}

// flushCache opens the database exclusively, so the server must not
// be running.
func flushCache() error {
	db, err := storage.Open(storage.Config{Path: cfg.Data.Dir, SyncWrites: true})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := storage.NewSalesStore(db)
	coordinator := cache.NewCoordinator(db, store, nil)
	return coordinator.Flush()
}
