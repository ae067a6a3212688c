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

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const compareBufferSize = 64 * 1024

// detectDirection decides which side, if either, needs copying.
//
// # Description
//
// Existence and modification time drive the decision:
//   - Neither file exists: nothing to do.
//   - One side exists: copy toward the missing side.
//   - Both exist with identical content: nothing to do.
//   - Both exist, content differs: the newer mtime wins. On an exact
//     mtime tie the local copy wins, because local is where writes
//     land first.
func detectDirection(localPath, networkPath string) (Direction, error) {
	localInfo, localErr := os.Stat(localPath)
	networkInfo, networkErr := os.Stat(networkPath)

	localMissing := errors.Is(localErr, fs.ErrNotExist)
	networkMissing := errors.Is(networkErr, fs.ErrNotExist)

	switch {
	case localErr != nil && !localMissing:
		return DirectionError, fmt.Errorf("stat local %s: %w", localPath, localErr)
	case networkErr != nil && !networkMissing:
		return DirectionError, fmt.Errorf("stat network %s: %w", networkPath, networkErr)
	case localMissing && networkMissing:
		return DirectionNone, nil
	case networkMissing:
		return LocalToNetwork, nil
	case localMissing:
		return NetworkToLocal, nil
	}

	// Both exist. Equal size and content means nothing to do; stat
	// alone cannot tell, so compare bytes before trusting mtimes.
	if localInfo.Size() == networkInfo.Size() {
		same, err := contentEqual(localPath, networkPath)
		if err != nil {
			return DirectionError, err
		}
		if same {
			return DirectionNone, nil
		}
	}

	if networkInfo.ModTime().After(localInfo.ModTime()) {
		return NetworkToLocal, nil
	}
	return LocalToNetwork, nil
}

// contentEqual compares two files chunk by chunk.
func contentEqual(pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", pathA, err)
	}
	defer fa.Close()

	fb, err := os.Open(pathB)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", pathB, err)
	}
	defer fb.Close()

	bufA := make([]byte, compareBufferSize)
	bufB := make([]byte, compareBufferSize)

	for {
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)

		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}

		endA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		endB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		switch {
		case endA && endB:
			return true, nil
		case endA != endB:
			return false, nil
		case errA != nil:
			return false, fmt.Errorf("read %s: %w", pathA, errA)
		case errB != nil:
			return false, fmt.Errorf("read %s: %w", pathB, errB)
		}
	}
}

// copyPreservingMtime copies src over dst through a temp file in the
// destination directory, carrying the source's mode and modification
// time. The rename keeps readers from ever seeing a half-written
// destination, and the preserved mtime keeps later direction checks
// honest.
func copyPreservingMtime(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, 0750); err != nil {
		return fmt.Errorf("create destination directory %s: %w", dstDir, err)
	}

	tmp, err := os.CreateTemp(dstDir, filepath.Base(dst)+".sync.*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dstDir, err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy to %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Chtimes(tmpName, time.Now(), info.ModTime()); err != nil {
		return fmt.Errorf("set mtime on %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, dst, err)
	}

	success = true
	return nil
}
