// Package image implements the core loader interface (§6): it consumes
// a core image file, copies each of its directory entries into a freshly
// reserved memregion.Region, and hands back the initial callable the
// runtime is to invoke. Regions are not mapped at the addresses the
// directory records: wherever memregion.Reserve places them is where the
// data lands, and the initial callable is tagged from its entry's
// recorded address, not from the address its region was mapped at. This is the only package that knows the on-disk image layout;
// everything downstream deals in memregion.Region values and tagged
// words.
package image

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/mod/semver"

	"heapcore/internal/memregion"
	"heapcore/internal/rtctx"
	"heapcore/internal/tagword"
)

// magic identifies a file as a core image before any other byte is
// trusted.
const magic = "HEAPCORE"

// PageSize is the unit directory entries size their data in. It matches
// the host's usual page size; images built on one host remain loadable
// on another as long as PageSize agrees, since page_count is carried
// explicitly rather than assumed.
const PageSize = 4096

// FormatVersion is the format this loader writes and the newest one it
// understands. It is a semver string so Load can reject an image from a
// future, incompatible major version while still accepting an older
// image whose directory layout has not changed incompatibly.
const FormatVersion = "v1.0.0"

// DirEntry describes one fixed-address region a core image maps (§6
// "directory entries (identifier, nwords, data_page, address,
// page_count)"). Identifier is a short human name used only in
// diagnostics; Kind says which logical address range (read-only, static,
// dynamic, or a per-thread stack kind) the entry populates.
type DirEntry struct {
	Identifier      string
	Kind            memregion.Kind
	Address         tagword.Address
	NWords          uint64
	PageCount       uint32
	DataPage        uint32 // index of this entry's first page in the image's data section
	InitialCallable bool   // true for exactly one entry: its Address is the initial callable
}

// Image is the result of a successful Load: one memregion.Region per
// directory entry, keyed by the entry's Kind, plus the tagged initial
// callable the caller is to invoke next.
type Image struct {
	BuildID         string
	FormatVersion   string
	Regions         map[memregion.Kind]*memregion.Region
	InitialCallable tagword.Word
}

// Release unmaps every region Load reserved. Callers that fail to start
// up after a successful Load must call this to avoid leaking the
// mappings.
func (img *Image) Release() {
	for _, r := range img.Regions {
		r.Release()
	}
}

// header is the fixed-size prefix of a core image file, immediately
// followed by len(entries) fixed-size directory records and then the
// page data itself. Directory records are read with encoding/binary
// rather than a serialization library because the format is a flat,
// fixed-width record list of the same kind debug/elf's own section
// header table is — there is no third-party core-image format in play
// to defer to.
type header struct {
	EntryCount uint32
}

// dirRecord is the fixed-width, on-disk shape of one DirEntry. Identifier
// is stored separately (see writeString/readString) since it is
// variable-length.
type dirRecord struct {
	IdentifierLen   uint32
	Kind            uint32
	Address         uint64
	NWords          uint64
	PageCount       uint32
	DataPage        uint32
	InitialCallable uint32
}

// ComputeBuildID derives the opaque build-id digest (§6 "a header
// identifying the build id ... that must exactly match the one compiled
// into the runtime") from the runtime's own compiled-in identifier and
// the directory's contents, so that editing an entry's identifier, kind,
// address, word count, page count or data page out-of-band also changes
// the id the runtime checks against. An entry's InitialCallable flag is
// not part of the digest.
func ComputeBuildID(runtimeIdentifier string, entries []DirEntry) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, and nil never
		// is one.
		panic(err)
	}
	io.WriteString(h, runtimeIdentifier)
	for _, e := range entries {
		fmt.Fprintf(h, "\x00%s\x00%d\x00%d\x00%d\x00%d\x00%d",
			e.Identifier, e.Kind, e.Address, e.NWords, e.PageCount, e.DataPage)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Load reads the core image at path, validates its build id against
// runtimeIdentifier and its format version against FormatVersion, maps
// one memregion.Region per directory entry, and returns the assembled
// Image. Any validation failure is fatal (§7: missing core file and
// build-id mismatch are both in the lose() list) and is reported through
// ctx.Lose, which terminates the process; so is every I/O or reservation
// failure while reading the directory and page data. Load has no error
// result.
func Load(ctx *rtctx.Context, path string, runtimeIdentifier string) *Image {
	f, err := os.Open(path)
	if err != nil {
		ctx.Lose(rtctx.MissingCore, "open %s: %v", path, err)
		return nil // unreachable: Lose exits the process
	}
	defer f.Close()

	br := bufio.NewReader(f)

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(br, magicBuf); err != nil || string(magicBuf) != magic {
		ctx.Lose(rtctx.MissingCore, "%s: not a core image (bad magic)", path)
		return nil
	}

	formatVersion, err := readString(br)
	if err != nil {
		ctx.Lose(rtctx.MissingCore, "%s: truncated format version: %v", path, err)
		return nil
	}
	if !semver.IsValid(formatVersion) {
		ctx.Lose(rtctx.MissingCore, "%s: invalid format version %q", path, formatVersion)
		return nil
	}
	if semver.Major(formatVersion) != semver.Major(FormatVersion) {
		ctx.Lose(rtctx.MissingCore, "%s: format version %s is incompatible with %s", path, formatVersion, FormatVersion)
		return nil
	}

	storedBuildID, err := readString(br)
	if err != nil {
		ctx.Lose(rtctx.MissingCore, "%s: truncated build id: %v", path, err)
		return nil
	}

	var hd header
	if err := binary.Read(br, binary.LittleEndian, &hd); err != nil {
		ctx.Lose(rtctx.MissingCore, "%s: truncated header: %v", path, err)
		return nil
	}

	entries := make([]DirEntry, hd.EntryCount)
	for i := range entries {
		e, err := readDirEntry(br)
		if err != nil {
			ctx.Lose(rtctx.MissingCore, "%s: truncated directory entry %d: %v", path, i, err)
			return nil
		}
		entries[i] = e
	}

	if got := ComputeBuildID(runtimeIdentifier, entries); got != storedBuildID {
		ctx.Lose(rtctx.BuildIDMismatch, "%s: build id %s does not match runtime's %s", path, storedBuildID, got)
		return nil
	}

	img := &Image{
		BuildID:       storedBuildID,
		FormatVersion: formatVersion,
		Regions:       make(map[memregion.Kind]*memregion.Region, len(entries)),
	}
	for _, e := range entries {
		region, err := memregion.Reserve(e.Kind, int(e.PageCount)*PageSize)
		if err != nil {
			img.Release()
			ctx.Lose(rtctx.InitFailure, "%s: reserve %s region: %v", path, e.Kind, err)
			return nil
		}
		n := int(e.NWords) * tagword.WordSize
		if n > len(region.Data) {
			img.Release()
			ctx.Lose(rtctx.MissingCore, "%s: entry %s claims %d words, region only holds %d bytes", path, e.Identifier, e.NWords, len(region.Data))
			return nil
		}
		pageBytes := int(e.PageCount) * PageSize
		if _, err := io.ReadFull(br, region.Data[:n]); err != nil {
			img.Release()
			ctx.Lose(rtctx.MissingCore, "%s: entry %s: short read: %v", path, e.Identifier, err)
			return nil
		}
		// Build pads each entry's payload out to a whole number of pages;
		// the remainder never lands in the region (it is already
		// zero-filled by Reserve) but must still be consumed from the
		// stream so the next entry's data starts on its own boundary.
		if pad := pageBytes - n; pad > 0 {
			if _, err := io.CopyN(io.Discard, br, int64(pad)); err != nil {
				img.Release()
				ctx.Lose(rtctx.MissingCore, "%s: entry %s: short read (padding): %v", path, e.Identifier, err)
				return nil
			}
		}
		img.Regions[e.Kind] = region
		if e.InitialCallable {
			img.InitialCallable = tagword.Retag(e.Address, tagword.LowtagFunctionPointer)
		}
	}
	return img
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readDirEntry(r io.Reader) (DirEntry, error) {
	var rec dirRecord
	if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
		return DirEntry{}, err
	}
	idBuf := make([]byte, rec.IdentifierLen)
	if _, err := io.ReadFull(r, idBuf); err != nil {
		return DirEntry{}, err
	}
	return DirEntry{
		Identifier:      string(idBuf),
		Kind:            memregion.Kind(rec.Kind),
		Address:         tagword.Address(rec.Address),
		NWords:          rec.NWords,
		PageCount:       rec.PageCount,
		DataPage:        rec.DataPage,
		InitialCallable: rec.InitialCallable != 0,
	}, nil
}
