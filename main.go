// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command search-gateway runs the conversational product-search gateway.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/ta-da/search-gateway/services/gateway"
	"github.com/ta-da/search-gateway/services/gateway/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	svc, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}
	if err := svc.Run(); err != nil {
		slog.Error("Server exited", "error", err)
		svc.Close()
		os.Exit(1)
	}
	svc.Close()
}
