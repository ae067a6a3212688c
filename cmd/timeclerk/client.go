// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"timeclerk/internal/admin"
	"timeclerk/pkg/ux"
)

const defaultAdminAddr = "127.0.0.1:7171"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// getAdminBaseURL returns the daemon's admin API address from the
// configuration, falling back to the default bind address.
func getAdminBaseURL() string {
	cfg, err := loadConfig()
	if err != nil || cfg.Admin.Listen == "" {
		return "http://" + defaultAdminAddr
	}
	return "http://" + cfg.Admin.Listen
}

// apiGet issues a GET against the admin API and returns the body and
// status code.
func apiGet(path string) ([]byte, int, error) {
	resp, err := httpClient.Get(getAdminBaseURL() + path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// apiPost issues a POST against the admin API. A nil payload sends an
// empty body.
func apiPost(path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(data)
	}

	resp, err := httpClient.Post(getAdminBaseURL()+path, "application/json", reqBody)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// daemonUnreachable reports a failed connection to the admin API and
// exits.
func daemonUnreachable(err error) {
	ux.Error(fmt.Sprintf("Cannot reach the timeclerk daemon: %v", err))
	ux.Hint("Start it with 'timeclerk daemon'.")
	os.Exit(1)
}

// apiFail reports a non-2xx admin API response and exits.
func apiFail(body []byte, status int) {
	var apiErr admin.ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		ux.Error(fmt.Sprintf("Daemon refused the request (%s): %s", apiErr.Code, apiErr.Error))
	} else {
		ux.Error(fmt.Sprintf("Daemon refused the request: HTTP %d", status))
	}
	os.Exit(1)
}
