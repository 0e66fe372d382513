package image

import (
	"encoding/binary"
	"io"

	"heapcore/internal/memregion"
	"heapcore/internal/tagword"
)

// Source describes one region to bake into a core image before its
// build id, page counts and DataPage offsets are known: Build computes
// those from the raw payload you hand it. Payload must already be a
// whole number of words long; Build does not pad it to word boundaries,
// only to whole pages.
type Source struct {
	Identifier      string
	Kind            memregion.Kind
	Address         tagword.Address
	Payload         []byte // rounded up to a whole page by Build
	InitialCallable bool
}

// Build writes a well-formed core image to w from sources, computing
// each entry's page count, data-page offset and the image-wide build id
// the way a real core-saving tool would. It exists for tests and for any
// future tool that assembles a core image from freshly-compiled
// components; the runtime itself never calls this, only Load.
func Build(w io.Writer, runtimeIdentifier, formatVersion string, sources []Source) error {
	entries := make([]DirEntry, len(sources))
	page := uint32(0)
	for i, s := range sources {
		pages := (len(s.Payload) + PageSize - 1) / PageSize
		if pages == 0 {
			pages = 1
		}
		entries[i] = DirEntry{
			Identifier:      s.Identifier,
			Kind:            s.Kind,
			Address:         s.Address,
			NWords:          uint64(len(s.Payload) / tagword.WordSize),
			PageCount:       uint32(pages),
			DataPage:        page,
			InitialCallable: s.InitialCallable,
		}
		page += uint32(pages)
	}

	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := writeString(w, formatVersion); err != nil {
		return err
	}
	buildID := ComputeBuildID(runtimeIdentifier, entries)
	if err := writeString(w, buildID); err != nil {
		return err
	}
	hd := header{EntryCount: uint32(len(entries))}
	if err := binary.Write(w, binary.LittleEndian, hd); err != nil {
		return err
	}
	for _, e := range entries {
		rec := dirRecord{
			IdentifierLen: uint32(len(e.Identifier)),
			Kind:          uint32(e.Kind),
			Address:       uint64(e.Address),
			NWords:        e.NWords,
			PageCount:     e.PageCount,
			DataPage:      e.DataPage,
		}
		if e.InitialCallable {
			rec.InitialCallable = 1
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return err
		}
		if _, err := io.WriteString(w, e.Identifier); err != nil {
			return err
		}
	}
	for i, s := range sources {
		pages := int(entries[i].PageCount)
		padded := make([]byte, pages*PageSize)
		copy(padded, s.Payload)
		if _, err := w.Write(padded); err != nil {
			return err
		}
	}
	return nil
}
