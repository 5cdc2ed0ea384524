// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apple

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/bahamoth/minidump-writer/internal/softerr"
)

// Load commands debug/macho has no names for.
const (
	loadCmdIDDylib = 0xd
	loadCmdUUID    = 0x1b
)

// machHeader64Size is the size of mach_header_64, which is the debug/macho
// FileHeader plus a reserved word.
const machHeader64Size = 32

// maxLoadCommandsSize bounds sizeofcmds so a corrupt header cannot make us
// read megabytes of task memory.
const maxLoadCommandsSize = 1 << 20

// ImageDetails is what a loaded Mach-O image says about itself.
type ImageDetails struct {
	UUID [16]byte
	// VMAddr and VMSize describe the __TEXT segment as linked.
	VMAddr, VMSize uint64
	// Slide is how far the image was moved from VMAddr when loaded.
	Slide int64
	// Version is the LC_ID_DYLIB current version, or 0 if unknown.
	Version      uint32
	FilePath     string
	IsExecutable bool
}

// BaseAddress returns the load address of the __TEXT segment.
func (d *ImageDetails) BaseAddress() uint64 { return d.VMAddr + uint64(d.Slide) }

// readImageDetails walks the load commands of the image at img.LoadAddress
// until __TEXT, LC_UUID and LC_ID_DYLIB are all found. An unreadable path
// is recorded in errs and leaves FilePath empty.
func readImageDetails(t Task, img ImageInfo, errs *softerr.List) (*ImageDetails, error) {
	raw, err := t.ReadMemory(img.LoadAddress, machHeader64Size)
	if err != nil {
		return nil, errors.Wrapf(err, "reading mach header at %#x", img.LoadAddress)
	}
	var hdr macho.FileHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(ErrInvalidMachHeader, err.Error())
	}
	if hdr.Magic != macho.Magic64 {
		return nil, errors.Wrapf(ErrInvalidMachHeader, "magic %#x at %#x", hdr.Magic, img.LoadAddress)
	}
	if hdr.Cmdsz > maxLoadCommandsSize {
		return nil, errors.Wrapf(ErrInvalidMachHeader, "load commands size %d", hdr.Cmdsz)
	}
	cmds, err := t.ReadMemory(img.LoadAddress+machHeader64Size, int(hdr.Cmdsz))
	if err != nil {
		return nil, errors.Wrapf(err, "reading load commands at %#x", img.LoadAddress)
	}

	d := &ImageDetails{IsExecutable: hdr.Type == macho.TypeExec}
	var haveText, haveUUID, haveVersion bool
	for i := uint32(0); i < hdr.Ncmd && len(cmds) >= 8; i++ {
		cmd := binary.LittleEndian.Uint32(cmds)
		size := binary.LittleEndian.Uint32(cmds[4:])
		if size < 8 || int(size) > len(cmds) {
			return nil, errors.Wrapf(ErrInvalidMachHeader, "load command %d has size %d", i, size)
		}
		body := cmds[:size]
		cmds = cmds[size:]

		switch cmd {
		case uint32(macho.LoadCmdSegment64):
			var seg macho.Segment64
			if binary.Read(bytes.NewReader(body), binary.LittleEndian, &seg) != nil {
				continue
			}
			if string(bytes.TrimRight(seg.Name[:], "\x00")) == "__TEXT" {
				d.VMAddr, d.VMSize = seg.Addr, seg.Memsz
				d.Slide = int64(img.LoadAddress - seg.Addr)
				haveText = true
			}
		case loadCmdUUID:
			if len(body) >= 24 {
				copy(d.UUID[:], body[8:24])
				haveUUID = true
			}
		case loadCmdIDDylib:
			var dylib macho.DylibCmd
			if binary.Read(bytes.NewReader(body), binary.LittleEndian, &dylib) == nil {
				d.Version = dylib.CurrentVersion
				haveVersion = true
			}
		}
		if haveText && haveUUID && haveVersion {
			break
		}
	}
	if !haveText {
		return nil, errors.Wrapf(ErrMissingLoadCommand, "no __TEXT segment in image at %#x", img.LoadAddress)
	}
	if !haveUUID {
		return nil, errors.Wrapf(ErrMissingLoadCommand, "no LC_UUID in image at %#x", img.LoadAddress)
	}
	if img.FilePath != 0 {
		path, err := ReadString(t, img.FilePath, 0)
		if err != nil {
			// The image is still listed, without a name.
			errs.Push(errors.Wrapf(err, "reading path of image at %#x", img.LoadAddress))
		}
		d.FilePath = path
	}
	return d, nil
}

// sortImages orders images by load address and drops duplicates.
func sortImages(images []ImageInfo) []ImageInfo {
	sort.Slice(images, func(i, j int) bool { return images[i].LoadAddress < images[j].LoadAddress })
	out := images[:0]
	for _, img := range images {
		if len(out) > 0 && out[len(out)-1].LoadAddress == img.LoadAddress {
			continue
		}
		out = append(out, img)
	}
	return out
}

// Modules describes the loaded images in load address order. Images that
// cannot be described are reported to errs and left out.
func Modules(t Task, errs *softerr.List) []*ImageDetails {
	images, err := t.Images()
	if err != nil {
		errs.Push(errors.Wrap(err, "reading images"))
	}
	var mods []*ImageDetails
	for _, img := range sortImages(images) {
		d, err := readImageDetails(t, img, errs)
		if err != nil {
			errs.Push(errors.Wrapf(err, "image at %#x", img.LoadAddress))
			continue
		}
		mods = append(mods, d)
	}
	return mods
}

// MainExecutable returns the image of type MH_EXECUTE.
func MainExecutable(t Task) (*ImageDetails, error) {
	images, err := t.Images()
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		d, err := readImageDetails(t, img, nil)
		if err != nil {
			continue
		}
		if d.IsExecutable {
			return d, nil
		}
	}
	return nil, ErrNoExecutableImage
}
