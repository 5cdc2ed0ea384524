// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memwriter

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/format"
)

// A StreamFunc appends one stream to the buffer and returns its directory
// entry. An error aborts the dump; failures the stream can live with should
// be recorded elsewhere and not returned.
type StreamFunc func(b *Buffer) (format.Directory, error)

const initialCapacity = 64 << 10

// Compose lays out a minidump: header, directory, then each stream in order.
// The header is patched last, once the stream count and directory are final.
// dst may be nil, in which case the dump only exists in the returned slice.
func Compose(dst io.WriteSeeker, timestamp time.Time, streams []StreamFunc) ([]byte, error) {
	b := NewBuffer(initialCapacity)
	header, err := Alloc[format.Header](b)
	if err != nil {
		return nil, errors.Wrap(err, "reserving header")
	}
	dir, err := NewDirSection(b, len(streams), dst)
	if err != nil {
		return nil, err
	}
	if err := dir.Flush(b); err != nil {
		return nil, err
	}
	for _, w := range streams {
		entry, err := w(b)
		if err != nil {
			return nil, err
		}
		if err := dir.Write(b, entry); err != nil {
			return nil, err
		}
	}
	err = header.Set(b, format.Header{
		Signature:          format.Signature,
		Version:            format.Version,
		StreamCount:        uint32(dir.Count()),
		StreamDirectoryRVA: dir.Location().RVA,
		TimeDateStamp:      uint32(timestamp.Unix()),
	})
	if err != nil {
		return nil, errors.Wrap(err, "patching header")
	}
	if err := dir.Flush(b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
