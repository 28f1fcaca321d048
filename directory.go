// This file supports parsing the flat directory-entry array and indexing it
// into a navigable tree of storages and streams.

package msg

import (
	"fmt"
	"reflect"
	"strings"

	"unicode/utf16"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// ObjectType identifies what a directory entry describes.
type ObjectType uint8

const (
	ObjectTypeUnused  ObjectType = 0
	ObjectTypeStorage ObjectType = 1
	ObjectTypeStream  ObjectType = 2
	ObjectTypeRoot    ObjectType = 5
)

// String returns a description of the object-type.
func (ot ObjectType) String() string {
	switch ot {
	case ObjectTypeUnused:
		return "Unused"
	case ObjectTypeStorage:
		return "Storage"
	case ObjectTypeStream:
		return "Stream"
	case ObjectTypeRoot:
		return "Root"
	}

	return fmt.Sprintf("Unknown<(%d)>", uint8(ot))
}

// DirectoryEntry is one fixed 128-byte slot of the directory stream. The
// sibling ids encode a red-black tree per storage, which we only ever walk,
// never rebalance.
type DirectoryEntry struct {
	// Name is the entry name as UTF-16LE, including a terminating NUL.
	Name [64]byte

	// NameLength is the length of Name in bytes, including the terminator.
	NameLength uint16

	ObjectType ObjectType

	// Color is the red-black color of this node (0 red, 1 black). It does
	// not affect traversal.
	Color uint8

	LeftSiblingID  uint32
	RightSiblingID uint32
	ChildID        uint32

	Clsid     [16]byte
	StateBits uint32

	CreationTime uint64
	ModifiedTime uint64

	// StartSector is the first sector of the entry's chain. For the root
	// entry this addresses the mini stream.
	StartSector uint32

	// StreamSize is the stream size in bytes. For the root entry this is
	// the mini-stream size. Major version 3 writers may leave garbage in
	// the upper 32 bits, which the parser masks off.
	StreamSize uint64
}

// DecodedName returns the entry name as a string. The name compare the
// format prescribes is case-insensitive; callers fold as needed.
func (de DirectoryEntry) DecodedName() string {
	charCount := int(de.NameLength) / 2

	if charCount > len(de.Name)/2 {
		charCount = len(de.Name) / 2
	}

	units := make([]uint16, 0, charCount)
	for i := 0; i < charCount; i++ {
		unit := uint16(de.Name[i*2]) | uint16(de.Name[i*2+1])<<8
		if unit == 0 {
			break
		}

		units = append(units, unit)
	}

	return string(utf16.Decode(units))
}

// String returns a description of the entry.
func (de DirectoryEntry) String() string {
	return fmt.Sprintf("DirectoryEntry<NAME=[%s] TYPE=[%s] START=(0x%08x) SIZE=(%d)>", de.DecodedName(), de.ObjectType, de.StartSector, de.StreamSize)
}

// Tree is the parsed directory: an arena of entries addressed by integer id,
// with each storage's children indexed by case-insensitive name.
type Tree struct {
	cr *CompoundReader

	entries []DirectoryEntry

	// childIndex maps upper-cased child name to entry id, per storage.
	childIndex []map[string]uint32

	// childOrder preserves each storage's children in the canonical
	// comparator order produced by the in-order sibling walk.
	childOrder [][]uint32

	rootID uint32
}

// NewTree returns a new Tree instance.
func NewTree(cr *CompoundReader) *Tree {
	return &Tree{
		cr: cr,
	}
}

func (tree *Tree) parseEntries() {
	raw := tree.cr.resolveChain(tree.cr.header.FirstDirectorySector, -1)

	count := len(raw) / directoryEntrySize
	tree.entries = make([]DirectoryEntry, count)

	for i := 0; i < count; i++ {
		entryRaw := raw[i*directoryEntrySize : (i+1)*directoryEntrySize]

		err := restruct.Unpack(entryRaw, defaultEncoding, &tree.entries[i])
		log.PanicIf(err)

		if tree.cr.header.MajorVersion == 3 {
			tree.entries[i].StreamSize &= 0xffffffff
		}
	}
}

func (tree *Tree) findRoot() {
	found := false

	for i, entry := range tree.entries {
		if entry.ObjectType != ObjectTypeRoot {
			continue
		}

		if found == true {
			// The format allows exactly one root entry.
			log.Panic(ErrCorruptContainer)
		}

		tree.rootID = uint32(i)
		found = true
	}

	if found != true {
		log.Panic(ErrCorruptContainer)
	}
}

// collectChildren walks one storage's red-black sibling tree in-order. The
// visited set doubles as the cycle guard: an entry seen twice means the
// sibling pointers loop.
func (tree *Tree) collectChildren(startID uint32, visited map[uint32]bool) (index map[string]uint32, order []uint32) {
	index = make(map[string]uint32)
	order = make([]uint32, 0)

	stack := make([]uint32, 0)
	current := startID

	for current != noStream || len(stack) > 0 {
		for current != noStream {
			if current >= uint32(len(tree.entries)) {
				log.Panic(ErrCorruptContainer)
			} else if visited[current] == true {
				log.Panic(ErrCorruptContainer)
			}

			visited[current] = true

			stack = append(stack, current)
			current = tree.entries[current].LeftSiblingID
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entry := tree.entries[id]

		if entry.ObjectType == ObjectTypeStorage || entry.ObjectType == ObjectTypeStream {
			index[strings.ToUpper(entry.DecodedName())] = id
			order = append(order, id)
		}

		current = entry.RightSiblingID
	}

	return index, order
}

// Load parses the directory stream, indexes every storage's children, and
// materializes the mini stream addressed by the root entry.
func (tree *Tree) Load() (err error) {
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

	tree.parseEntries()
	tree.findRoot()

	tree.childIndex = make([]map[string]uint32, len(tree.entries))
	tree.childOrder = make([][]uint32, len(tree.entries))

	for i, entry := range tree.entries {
		if entry.ObjectType != ObjectTypeStorage && entry.ObjectType != ObjectTypeRoot {
			continue
		}

		// Each storage's sibling tree must be self-contained; sharing an
		// entry between two storages would make sizes and chains
		// ambiguous.
		visited := make(map[uint32]bool)

		index, order := tree.collectChildren(entry.ChildID, visited)

		tree.childIndex[i] = index
		tree.childOrder[i] = order
	}

	root := tree.entries[tree.rootID]
	tree.cr.loadMiniStream(root.StartSector, root.StreamSize)

	return nil
}

// RootID returns the entry id of the root storage.
func (tree *Tree) RootID() uint32 {
	return tree.rootID
}

// Entry returns the directory entry with the given id.
func (tree *Tree) Entry(id uint32) DirectoryEntry {
	return tree.entries[id]
}

// Children returns the ids of the given storage's children in canonical
// order.
func (tree *Tree) Children(id uint32) []uint32 {
	if id >= uint32(len(tree.childOrder)) || tree.childOrder[id] == nil {
		return nil
	}

	return tree.childOrder[id]
}

// Lookup descends the tree by name, case-insensitively, starting at the
// root. An empty path returns the root itself.
func (tree *Tree) Lookup(pathParts []string) (id uint32, found bool) {
	current := tree.rootID

	for _, part := range pathParts {
		index := tree.childIndex[current]
		if index == nil {
			return 0, false
		}

		childID, ok := index[strings.ToUpper(part)]
		if ok == false {
			return 0, false
		}

		current = childID
	}

	return current, true
}
