// This file manages the low-level, on-disk compound-file (CFB/OLE2)
// structures: the fixed header, the DIFAT/FAT/MiniFAT allocation tables, and
// sector-chain resolution.

package msg

import (
	"bytes"
	"fmt"
	"reflect"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	headerSize         = 512
	directoryEntrySize = 128

	// The header can describe at most this many FAT sectors inline. Larger
	// files continue the list in dedicated DIFAT sectors.
	inlineDifatEntryCount = 109
)

const (
	// Sentinel sector ids used by the FAT, MiniFAT, and DIFAT.
	maxRegularSector = uint32(0xfffffffa)
	difatSector      = uint32(0xfffffffc)
	fatSector        = uint32(0xfffffffd)
	endOfChain       = uint32(0xfffffffe)
	freeSector       = uint32(0xffffffff)

	// Sentinel stream id used by directory entries.
	noStream = uint32(0xffffffff)
)

var (
	requiredSignature = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
	requiredByteOrder = uint16(0xfffe)

	defaultEncoding = binary.LittleEndian
)

// Header describes the fixed 512-byte structure at the front of every
// compound file.
type Header struct {
	// Signature identifies the compound-file format. The valid value is
	// D0 CF 11 E0 A1 B1 1A E1.
	Signature [8]byte

	// Clsid is a reserved class id and is zero in practice.
	Clsid [16]byte

	// MinorVersion is the version number for nonbreaking changes.
	MinorVersion uint16

	// MajorVersion is either 3 (512-byte sectors) or 4 (4096-byte sectors).
	MajorVersion uint16

	// ByteOrder is a byte-order mark and is always 0xFFFE (little-endian).
	ByteOrder uint16

	// SectorShift expresses the sector size as a power of two: 9 for major
	// version 3 and 12 for major version 4.
	SectorShift uint16

	// MiniSectorShift expresses the mini-sector size as a power of two and
	// is always 6 (64-byte mini-sectors).
	MiniSectorShift uint16

	Reserved [6]byte

	// DirectorySectorCount is the number of directory sectors, or zero for
	// major version 3.
	DirectorySectorCount uint32

	// FatSectorCount is the number of FAT sectors in the file.
	FatSectorCount uint32

	// FirstDirectorySector is the starting sector of the directory stream.
	FirstDirectorySector uint32

	TransactionSignature uint32

	// MiniStreamCutoff is the maximum size of a stream allocated from the
	// mini stream (4096). Streams at or above this size use ordinary
	// sectors.
	MiniStreamCutoff uint32

	// FirstMiniFatSector is the starting sector of the MiniFAT chain.
	FirstMiniFatSector uint32

	// MiniFatSectorCount is the number of MiniFAT sectors.
	MiniFatSectorCount uint32

	// FirstDifatSector is the starting sector of the DIFAT chain, consulted
	// only when the FAT spans more sectors than the inline table holds.
	FirstDifatSector uint32

	// DifatSectorCount is the number of DIFAT sectors.
	DifatSectorCount uint32

	// Difat is the inline table of the first 109 FAT sector locations.
	Difat [109]uint32
}

// SectorSize returns the effective sector size.
func (h Header) SectorSize() uint32 {
	return uint32(1) << h.SectorShift
}

// MiniSectorSize returns the effective mini-sector size.
func (h Header) MiniSectorSize() uint32 {
	return uint32(1) << h.MiniSectorShift
}

// String returns a description of the header.
func (h Header) String() string {
	return fmt.Sprintf("Header<VERSION=(%d.%d) SECTOR-SIZE=(%d) FAT-SECTORS=(%d)>", h.MajorVersion, h.MinorVersion, h.SectorSize(), h.FatSectorCount)
}

// Dump prints the header parameters along with the common calculated ones.
func (h Header) Dump() {
	fmt.Printf("Compound File Header\n")
	fmt.Printf("====================\n")
	fmt.Printf("\n")

	fmt.Printf("MajorVersion: (%d)\n", h.MajorVersion)
	fmt.Printf("MinorVersion: (%d)\n", h.MinorVersion)
	fmt.Printf("SectorShift: (%d)\n", h.SectorShift)
	fmt.Printf("-> Sector-size: 2^(%d) -> %d\n", h.SectorShift, h.SectorSize())
	fmt.Printf("MiniSectorShift: (%d)\n", h.MiniSectorShift)
	fmt.Printf("-> Mini-sector-size: 2^(%d) -> %d\n", h.MiniSectorShift, h.MiniSectorSize())
	fmt.Printf("FatSectorCount: (%d)\n", h.FatSectorCount)
	fmt.Printf("FirstDirectorySector: (%d)\n", h.FirstDirectorySector)
	fmt.Printf("MiniStreamCutoff: (%d)\n", h.MiniStreamCutoff)
	fmt.Printf("FirstMiniFatSector: (0x%08x)\n", h.FirstMiniFatSector)
	fmt.Printf("MiniFatSectorCount: (%d)\n", h.MiniFatSectorCount)
	fmt.Printf("FirstDifatSector: (0x%08x)\n", h.FirstDifatSector)
	fmt.Printf("DifatSectorCount: (%d)\n", h.DifatSectorCount)
	fmt.Printf("\n")
}

// CompoundReader knows where to find the statically-located structures of a
// compound file, how to parse them, and how to resolve chains of sectors and
// mini-sectors. The input buffer is never modified.
type CompoundReader struct {
	data []byte

	header Header

	fat     []uint32
	miniFat []uint32

	// The mini stream lives as an ordinary sector chain addressed by the
	// root directory entry. It is materialized once the directory has been
	// parsed.
	miniStream       []byte
	miniStreamLoaded bool
}

// NewCompoundReader returns a new CompoundReader instance over the given raw
// file contents.
func NewCompoundReader(data []byte) *CompoundReader {
	return &CompoundReader{
		data: data,
	}
}

// Header returns the parsed header.
func (cr *CompoundReader) Header() Header {
	return cr.header
}

func (cr *CompoundReader) parseHeader() {
	if len(cr.data) < headerSize {
		log.Panic(ErrNotCompoundFile)
	}

	err := restruct.Unpack(cr.data[:headerSize], defaultEncoding, &cr.header)
	log.PanicIf(err)

	h := cr.header

	if bytes.Equal(h.Signature[:], requiredSignature) != true {
		log.Panic(ErrNotCompoundFile)
	} else if h.ByteOrder != requiredByteOrder {
		log.Panic(ErrNotCompoundFile)
	} else if h.SectorShift != 9 && h.SectorShift != 12 {
		log.Panic(ErrNotCompoundFile)
	} else if h.MajorVersion == 3 && h.SectorShift != 9 {
		log.Panic(ErrNotCompoundFile)
	} else if h.MajorVersion == 4 && h.SectorShift != 12 {
		log.Panic(ErrNotCompoundFile)
	} else if h.MiniSectorShift != 6 {
		log.Panic(ErrNotCompoundFile)
	}
}

// sectorCount returns the number of sectors the buffer can actually hold,
// rounding up so that a short trailing sector is still addressable.
func (cr *CompoundReader) sectorCount() uint32 {
	sectorSize := uint64(cr.header.SectorSize())
	payload := uint64(len(cr.data)) - headerSize

	return uint32((payload + sectorSize - 1) / sectorSize)
}

// readSector returns the payload of the given sector. A reference past the
// end of the buffer means the allocation tables disagree with the data we
// were actually given.
func (cr *CompoundReader) readSector(sid uint32) []byte {
	if sid >= cr.sectorCount() {
		log.Panic(ErrCorruptContainer)
	}

	sectorSize := uint64(cr.header.SectorSize())
	offset := headerSize + uint64(sid)*sectorSize

	end := offset + sectorSize
	if end > uint64(len(cr.data)) {
		end = uint64(len(cr.data))
	}

	return cr.data[offset:end]
}

func (cr *CompoundReader) loadFat() {
	cr.fat = make([]uint32, 0)

	appendFatSector := func(sid uint32) {
		raw := cr.readSector(sid)

		for i := 0; i+4 <= len(raw); i += 4 {
			cr.fat = append(cr.fat, defaultEncoding.Uint32(raw[i:i+4]))
		}
	}

	for i := 0; i < inlineDifatEntryCount; i++ {
		sid := cr.header.Difat[i]
		if sid > maxRegularSector {
			break
		}

		appendFatSector(sid)
	}

	// The DIFAT proper is only consulted when the FAT outgrew the inline
	// table.
	if cr.header.DifatSectorCount == 0 {
		return
	}

	entriesPerSector := int(cr.header.SectorSize() / 4)

	sid := cr.header.FirstDifatSector
	steps := uint32(0)

	for sid <= maxRegularSector {
		if steps >= cr.header.DifatSectorCount {
			// More DIFAT sectors than the header declared; the chain is
			// not trustworthy.
			log.Panic(ErrCorruptContainer)
		}

		raw := cr.readSector(sid)

		// A DIFAT sector must be whole; its last word is the chain link.
		if len(raw) < int(cr.header.SectorSize()) {
			log.Panic(ErrCorruptContainer)
		}

		// The last entry of a DIFAT sector chains to the next DIFAT
		// sector rather than naming a FAT sector.
		for i := 0; i < entriesPerSector-1; i++ {
			fatSid := defaultEncoding.Uint32(raw[i*4 : i*4+4])
			if fatSid > maxRegularSector {
				continue
			}

			appendFatSector(fatSid)
		}

		sid = defaultEncoding.Uint32(raw[(entriesPerSector-1)*4:])
		steps++
	}
}

func (cr *CompoundReader) loadMiniFat() {
	cr.miniFat = make([]uint32, 0)

	if cr.header.FirstMiniFatSector > maxRegularSector || cr.header.MiniFatSectorCount == 0 {
		return
	}

	raw := cr.resolveChain(cr.header.FirstMiniFatSector, -1)

	for i := 0; i+4 <= len(raw); i += 4 {
		cr.miniFat = append(cr.miniFat, defaultEncoding.Uint32(raw[i:i+4]))
	}
}

// resolveChain walks the FAT starting at the given sector and concatenates
// each sector's payload in chain order. A negative size means "the whole
// chain"; otherwise the result is truncated to exactly size bytes and a
// chain too short to provide them is an error.
//
// The step bound makes the worst case finite regardless of input shape: a
// self-referencing chain would otherwise loop forever.
func (cr *CompoundReader) resolveChain(startSector uint32, size int64) []byte {
	if startSector > maxRegularSector {
		if size > 0 {
			log.Panic(ErrCorruptContainer)
		}

		return make([]byte, 0)
	}

	maxSteps := len(cr.fat) + 1

	data := make([]byte, 0)
	sid := startSector
	steps := 0

	for {
		if steps >= maxSteps {
			log.Panic(ErrCorruptContainer)
		}

		data = append(data, cr.readSector(sid)...)
		steps++

		if size >= 0 && int64(len(data)) >= size {
			break
		}

		if sid >= uint32(len(cr.fat)) {
			log.Panic(ErrCorruptContainer)
		}

		next := cr.fat[sid]
		if next == endOfChain {
			break
		} else if next > maxRegularSector {
			// FREESECT/FATSECT/DIFSECT in the middle of a chain.
			log.Panic(ErrCorruptContainer)
		}

		sid = next
	}

	if size >= 0 {
		if int64(len(data)) < size {
			log.Panic(ErrCorruptContainer)
		}

		data = data[:size]
	}

	return data
}

// loadMiniStream materializes the mini stream from the root directory
// entry's ordinary sector chain. The directory parser calls this once it
// knows where the root entry points.
func (cr *CompoundReader) loadMiniStream(startSector uint32, size uint64) {
	cr.miniStream = cr.resolveChain(startSector, int64(size))
	cr.miniStreamLoaded = true
}

// resolveMiniChain walks the MiniFAT starting at the given mini-sector and
// concatenates each 64-byte slot of the mini stream in chain order.
func (cr *CompoundReader) resolveMiniChain(startSector uint32, size int64) []byte {
	if startSector > maxRegularSector {
		if size > 0 {
			log.Panic(ErrCorruptContainer)
		}

		return make([]byte, 0)
	}

	if cr.miniStreamLoaded != true {
		log.Panicf("mini stream has not been materialized yet")
	}

	miniSectorSize := int(cr.header.MiniSectorSize())
	maxSteps := len(cr.miniFat) + 1

	data := make([]byte, 0)
	sid := startSector
	steps := 0

	for {
		if steps >= maxSteps {
			log.Panic(ErrCorruptContainer)
		}

		offset := int(sid) * miniSectorSize
		end := offset + miniSectorSize

		if offset >= len(cr.miniStream) {
			log.Panic(ErrCorruptContainer)
		} else if end > len(cr.miniStream) {
			end = len(cr.miniStream)
		}

		data = append(data, cr.miniStream[offset:end]...)
		steps++

		if size >= 0 && int64(len(data)) >= size {
			break
		}

		if sid >= uint32(len(cr.miniFat)) {
			log.Panic(ErrCorruptContainer)
		}

		next := cr.miniFat[sid]
		if next == endOfChain {
			break
		} else if next > maxRegularSector {
			log.Panic(ErrCorruptContainer)
		}

		sid = next
	}

	if size >= 0 {
		if int64(len(data)) < size {
			log.Panic(ErrCorruptContainer)
		}

		data = data[:size]
	}

	return data
}

// Parse loads the header and the allocation tables. This is always a small
// read (does not scale with file size).
func (cr *CompoundReader) Parse() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	cr.parseHeader()
	cr.loadFat()
	cr.loadMiniFat()

	return nil
}
