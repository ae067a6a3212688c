// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncer

import "errors"

// Sentinel errors returned by the sync service.
var (
	// ErrNetworkUnavailable means the reachability probe vetoed the
	// attempt. The request stays pending and is retried by the sweep.
	ErrNetworkUnavailable = errors.New("network location unreachable")

	// ErrQueueFull means the bounded dispatch queue rejected the
	// request. The request stays pending and is retried by the sweep.
	ErrQueueFull = errors.New("sync queue is full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("sync service is closed")
)

// Direction classifies what a sync attempt did or would do.
type Direction string

const (
	// LocalToNetwork copies the local document over the network copy.
	LocalToNetwork Direction = "LOCAL_TO_NETWORK"

	// NetworkToLocal copies the network document over the local copy.
	NetworkToLocal Direction = "NETWORK_TO_LOCAL"

	// DirectionNone means both copies are absent or already identical.
	DirectionNone Direction = "NONE"

	// DirectionError means the attempt failed before a copy completed.
	DirectionError Direction = "ERROR"
)

// Outcome is the immutable result of one sync attempt.
type Outcome struct {
	Direction Direction
	Err       error
}

// request is one unit of work on the dispatch queue.
//
// retry marks requests re-enqueued by the sweep; only those increment
// the retry counter when they fail again. reply, when non-nil, is a
// buffered channel that receives the outcome.
type request struct {
	localPath   string
	networkPath string
	retry       bool
	reply       chan<- Outcome
}
