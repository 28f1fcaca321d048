// This file maps extended (named) property identifiers back to canonical
// numeric ids via the __nameid_version1.0 storage.

package msg

import (
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
)

const (
	// Property ids at or above this value are named properties, defined by
	// the mapping storage rather than the standard MAPI tag range.
	namedPropertyFirstID = uint16(0x8000)

	nameidGuidStreamName   = "__substg1.0_00020102"
	nameidEntryStreamName  = "__substg1.0_00030102"
	nameidStringStreamName = "__substg1.0_00040102"

	namedEntrySize = 8
)

// Well-known property-set GUIDs addressed by index rather than by content
// in the GUID stream.
const (
	psMapiGuid          = "00020328-0000-0000-c000-000000000046"
	psPublicStringsGuid = "00020329-0000-0000-c000-000000000046"
)

// NamedPropertyKind distinguishes how a named property is identified within
// its property set.
type NamedPropertyKind int

const (
	NamedPropertyNumeric NamedPropertyKind = 0
	NamedPropertyString  NamedPropertyKind = 1
)

// NamedProperty is the (kind, GUID, id-or-name) identity of one extended
// property.
type NamedProperty struct {
	Kind NamedPropertyKind

	// Guid is the property-set GUID in canonical textual form.
	Guid string

	// NumericID is meaningful for the numeric kind.
	NumericID uint32

	// Name is meaningful for the string kind.
	Name string
}

// String returns a description of the named property.
func (np NamedProperty) String() string {
	if np.Kind == NamedPropertyString {
		return fmt.Sprintf("NamedProperty<GUID=[%s] NAME=[%s]>", np.Guid, np.Name)
	}

	return fmt.Sprintf("NamedProperty<GUID=[%s] ID=(0x%08x)>", np.Guid, np.NumericID)
}

func (np NamedProperty) lookupKey() string {
	if np.Kind == NamedPropertyString {
		return fmt.Sprintf("s:%s:%s", np.Guid, np.Name)
	}

	return fmt.Sprintf("n:%s:%08x", np.Guid, np.NumericID)
}

// NamedPropertyMap is the per-file mapping between named-property
// identities and the synthesized ids (0x8000 + entry index) their streams
// are keyed by. It is built once per decode and never shared.
type NamedPropertyMap struct {
	byProperty map[uint16]NamedProperty
	byIdentity map[string]uint16
}

// PropertyFor returns the identity mapped to the given synthesized id.
func (npm *NamedPropertyMap) PropertyFor(id uint16) (np NamedProperty, found bool) {
	np, found = npm.byProperty[id]
	return np, found
}

// IDFor returns the synthesized property id for the given identity.
func (npm *NamedPropertyMap) IDFor(np NamedProperty) (id uint16, found bool) {
	id, found = npm.byIdentity[np.lookupKey()]
	return id, found
}

// Count returns the number of mapped properties.
func (npm *NamedPropertyMap) Count() int {
	return len(npm.byProperty)
}

// formatGuid renders the mixed-endian on-disk GUID layout canonically.
func formatGuid(raw []byte) string {
	return fmt.Sprintf(
		"%08x-%04x-%04x-%04x-%012x",
		defaultEncoding.Uint32(raw[0:4]),
		defaultEncoding.Uint16(raw[4:6]),
		defaultEncoding.Uint16(raw[6:8]),
		uint16(raw[8])<<8|uint16(raw[9]),
		raw[10:16])
}

// guidForIndex resolves the GUID index of an entry: 1 and 2 name
// well-known sets, 3 and up address the GUID stream.
func guidForIndex(guidRaw []byte, index uint32) (guid string, found bool) {
	switch index {
	case 1:
		return psMapiGuid, true
	case 2:
		return psPublicStringsGuid, true
	}

	if index < 3 {
		return "", false
	}

	offset := int(index-3) * 16
	if offset+16 > len(guidRaw) {
		return "", false
	}

	return formatGuid(guidRaw[offset : offset+16]), true
}

// stringNameAt reads a length-prefixed UTF-16 name out of the string-name
// stream.
func stringNameAt(stringRaw []byte, offset uint32) (name string, found bool) {
	if int(offset)+4 > len(stringRaw) {
		return "", false
	}

	length := defaultEncoding.Uint32(stringRaw[offset : offset+4])

	start := int(offset) + 4
	end := start + int(length)

	if end > len(stringRaw) {
		return "", false
	}

	return DecodeUTF16(stringRaw[start:end]), true
}

// LoadNamedProperties builds the named-property mapping from the
// __nameid_version1.0 storage. A file with no such storage simply has no
// extended properties, which is not an error.
func LoadNamedProperties(tree *Tree) (npm *NamedPropertyMap, err error) {
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

	npm = &NamedPropertyMap{
		byProperty: make(map[uint16]NamedProperty),
		byIdentity: make(map[string]uint16),
	}

	entryRaw, found := tree.getStreamIfExists([]string{namedPropertyStorage, nameidEntryStreamName})
	if found == false {
		return npm, nil
	}

	guidRaw, _ := tree.getStreamIfExists([]string{namedPropertyStorage, nameidGuidStreamName})
	stringRaw, _ := tree.getStreamIfExists([]string{namedPropertyStorage, nameidStringStreamName})

	for offset := 0; offset+namedEntrySize <= len(entryRaw); offset += namedEntrySize {
		idOrOffset := defaultEncoding.Uint32(entryRaw[offset : offset+4])
		info := defaultEncoding.Uint32(entryRaw[offset+4 : offset+8])

		// Low word: bit 0 is the kind and the rest the GUID index. High
		// word: the property index the synthesized id derives from.
		kindBit := info & 1
		guidIndex := (info >> 1) & 0x7fff
		propertyIndex := info >> 16

		guid, ok := guidForIndex(guidRaw, guidIndex)
		if ok == false {
			// An entry pointing outside the GUID stream is not usable;
			// skip it rather than lose the rest of the table.
			continue
		}

		np := NamedProperty{
			Guid: guid,
		}

		if kindBit == 0 {
			np.Kind = NamedPropertyNumeric
			np.NumericID = idOrOffset
		} else {
			name, ok := stringNameAt(stringRaw, idOrOffset)
			if ok == false {
				continue
			}

			np.Kind = NamedPropertyString
			np.Name = name
		}

		propertyID := namedPropertyFirstID + uint16(propertyIndex)

		npm.byProperty[propertyID] = np
		npm.byIdentity[np.lookupKey()] = propertyID
	}

	return npm, nil
}
