// This file interprets streams as typed MAPI properties: fixed-length
// records embedded in a single properties stream, with variable-length
// values split into companion streams keyed by tag.

package msg

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/dsoprea/go-logging"
)

const (
	// The properties stream carries a fixed header before the records: 32
	// bytes at the message level, 8 bytes inside recipient and attachment
	// storages.
	messagePropertyHeaderSize = 32
	storagePropertyHeaderSize = 8

	propertyRecordSize = 16

	propertiesStreamName   = "__properties_version1.0"
	propertyStreamPrefix   = "__substg1.0_"
	namedPropertyStorage   = "__nameid_version1.0"
	recipientStoragePrefix = "__recip_version1.0_#"
	attachStoragePrefix    = "__attach_version1.0_#"
)

// PropertyType is the 16-bit MAPI property-type code. It determines the
// decode width and shape.
type PropertyType uint16

const (
	TypeUnspecified PropertyType = 0x0000
	TypeInt16       PropertyType = 0x0002
	TypeInt32       PropertyType = 0x0003
	TypeFloat32     PropertyType = 0x0004
	TypeFloat64     PropertyType = 0x0005
	TypeCurrency    PropertyType = 0x0006
	TypeAppTime     PropertyType = 0x0007
	TypeBool        PropertyType = 0x000b
	TypeObject      PropertyType = 0x000d
	TypeInt64       PropertyType = 0x0014
	TypeString8     PropertyType = 0x001e
	TypeUnicode     PropertyType = 0x001f
	TypeFileTime    PropertyType = 0x0040
	TypeGuid        PropertyType = 0x0048
	TypeBinary      PropertyType = 0x0102

	// Bit set on a type code to make it multi-valued.
	typeMultiValueFlag PropertyType = 0x1000
)

// PropertyTag is the (id, type) pair identifying one property.
type PropertyTag struct {
	ID   uint16
	Type PropertyType
}

// String returns a description of the tag.
func (pt PropertyTag) String() string {
	return fmt.Sprintf("PropertyTag<ID=(0x%04x) TYPE=(0x%04x)>", pt.ID, uint16(pt.Type))
}

// StreamName returns the companion-stream name this tag maps to: the
// property id and type, each as four uppercase hex digits.
func (pt PropertyTag) StreamName() string {
	return fmt.Sprintf("%s%04X%04X", propertyStreamPrefix, pt.ID, uint16(pt.Type))
}

// PropertyKind discriminates the decoded-value union.
type PropertyKind int

const (
	KindUnknown PropertyKind = iota
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	KindFileTime
	KindString8
	KindStringUTF16
	KindBinary
)

// PropertyValue is one decoded property. Exactly one of the value fields is
// meaningful, selected by Kind. Values own their buffers; nothing aliases
// the input file.
type PropertyValue struct {
	Tag  PropertyTag
	Kind PropertyKind

	Int   int64
	Float float64
	Bool  bool
	Time  time.Time

	// Str holds a UTF-16 string decoded at parse time.
	Str string

	// Bytes holds Binary content, or the raw 8-bit bytes of a String8
	// value, which are decoded lazily once the set's code page is known.
	Bytes []byte

	// Named carries the resolved identity for extended (>= 0x8000)
	// property ids, when the file maps them.
	Named *NamedProperty
}

// PropertySet is the decoded contents of one properties stream plus its
// companion streams, scoped to one storage.
type PropertySet struct {
	values map[uint16]PropertyValue

	// codepage is the resolved code page for String8 values in this set.
	codepage uint32
}

// Codepage returns the code page 8-bit strings in this set decode under.
func (ps *PropertySet) Codepage() uint32 {
	return ps.codepage
}

// Get returns the raw decoded value for the given property id.
func (ps *PropertySet) Get(id uint16) (pv PropertyValue, found bool) {
	pv, found = ps.values[id]
	return pv, found
}

// GetString returns the given property as text. Both string type codes are
// supported: UTF-16 values were decoded at parse time and 8-bit values are
// decoded here under the set's code page.
func (ps *PropertySet) GetString(id uint16) (value string, found bool) {
	pv, ok := ps.values[id]
	if ok == false {
		return "", false
	}

	switch pv.Kind {
	case KindStringUTF16:
		return pv.Str, true
	case KindString8:
		return DecodeString8(pv.Bytes, ps.codepage), true
	}

	return "", false
}

// GetInt32 returns the given property as a 32-bit integer, widening a
// 16-bit value if that is what the file stored.
func (ps *PropertySet) GetInt32(id uint16) (value int32, found bool) {
	pv, ok := ps.values[id]
	if ok == false {
		return 0, false
	}

	switch pv.Kind {
	case KindInt16, KindInt32:
		return int32(pv.Int), true
	}

	return 0, false
}

// GetTime returns the given property as a timestamp.
func (ps *PropertySet) GetTime(id uint16) (value time.Time, found bool) {
	pv, ok := ps.values[id]
	if ok == false || pv.Kind != KindFileTime {
		return time.Time{}, false
	}

	return pv.Time, true
}

// GetBytes returns the given property's binary content.
func (ps *PropertySet) GetBytes(id uint16) (value []byte, found bool) {
	pv, ok := ps.values[id]
	if ok == false || pv.Kind != KindBinary {
		return nil, false
	}

	return pv.Bytes, true
}

// fileTimeEpochDelta is the span between the FILETIME epoch (1601-01-01)
// and the Unix epoch, in seconds.
const fileTimeEpochDelta = 11644473600

// fileTimeToTime converts a 64-bit count of 100ns ticks since 1601-01-01
// UTC. The seconds/remainder split avoids overflowing a nanosecond
// duration for ordinary dates.
func fileTimeToTime(ticks uint64) time.Time {
	seconds := int64(ticks / 10000000)
	remainder := int64(ticks % 10000000)

	return time.Unix(seconds-fileTimeEpochDelta, remainder*100).UTC()
}

// variableContentLength translates a fixed record's declared length into
// the number of content bytes the companion stream must provide. String
// declared lengths include their terminator, which is not stored.
func variableContentLength(ptype PropertyType, declared uint32) uint32 {
	switch ptype {
	case TypeString8:
		if declared >= 1 {
			return declared - 1
		}

		return 0
	case TypeUnicode:
		if declared >= 2 {
			return declared - 2
		}

		return 0
	}

	return declared
}

// decodeFixedValue decodes a fixed-width scalar from the 8-byte value slot
// of its record. One branch per type code; anything else is preserved as
// Unknown.
func decodeFixedValue(pv *PropertyValue, value []byte) {
	switch pv.Tag.Type {
	case TypeInt16:
		pv.Kind = KindInt16
		pv.Int = int64(int16(defaultEncoding.Uint16(value)))
	case TypeInt32:
		pv.Kind = KindInt32
		pv.Int = int64(int32(defaultEncoding.Uint32(value)))
	case TypeInt64, TypeCurrency:
		pv.Kind = KindInt64
		pv.Int = int64(defaultEncoding.Uint64(value))
	case TypeFloat32:
		pv.Kind = KindFloat32
		pv.Float = float64(math.Float32frombits(defaultEncoding.Uint32(value)))
	case TypeFloat64, TypeAppTime:
		pv.Kind = KindFloat64
		pv.Float = math.Float64frombits(defaultEncoding.Uint64(value))
	case TypeBool:
		pv.Kind = KindBool
		pv.Bool = value[0] != 0
	case TypeFileTime:
		pv.Kind = KindFileTime
		pv.Time = fileTimeToTime(defaultEncoding.Uint64(value))
	}
}

// decodeVariableValue resolves a variable-length property's companion
// stream. A missing companion with content still declared means the
// container promised bytes it does not have.
func decodeVariableValue(tree *Tree, storagePath []string, pv *PropertyValue, declared uint32) {
	streamPath := append(append([]string{}, storagePath...), pv.Tag.StreamName())

	content, found := tree.getStreamIfExists(streamPath)
	if found == false {
		if variableContentLength(pv.Tag.Type, declared) > 0 {
			log.Panic(ErrCorruptContainer)
		}

		content = make([]byte, 0)
	}

	switch pv.Tag.Type {
	case TypeString8:
		pv.Kind = KindString8
		pv.Bytes = content
	case TypeUnicode:
		pv.Kind = KindStringUTF16
		pv.Str = DecodeUTF16(content)
	case TypeBinary:
		pv.Kind = KindBinary
		pv.Bytes = content
	}
}

// decodePropertySet decodes the properties stream of the storage at the
// given path (nil for the message itself) plus the companion streams of its
// variable-length properties.
//
// A storage with no properties stream decodes to an empty set: the absence
// of optional data never fails the decode, while a broken companion stream
// still does.
func decodePropertySet(tree *Tree, storagePath []string, headerLength int, named *NamedPropertyMap, fallbackCodepage uint32) *PropertySet {
	ps := &PropertySet{
		values:   make(map[uint16]PropertyValue),
		codepage: fallbackCodepage,
	}

	streamPath := append(append([]string{}, storagePath...), propertiesStreamName)

	raw, found := tree.getStreamIfExists(streamPath)
	if found == false {
		return ps
	}

	for off := headerLength; off+propertyRecordSize <= len(raw); off += propertyRecordSize {
		record := raw[off : off+propertyRecordSize]

		tag := PropertyTag{
			Type: PropertyType(defaultEncoding.Uint16(record[0:2])),
			ID:   defaultEncoding.Uint16(record[2:4]),
		}

		// record[4:8] is a flags field we have no use for.
		value := record[8:16]

		pv := PropertyValue{
			Tag:  tag,
			Kind: KindUnknown,
		}

		if tag.ID >= namedPropertyFirstID && named != nil {
			if np, ok := named.PropertyFor(tag.ID); ok == true {
				pv.Named = &np
			}
		}

		if tag.Type&typeMultiValueFlag != 0 {
			// Multi-valued properties are preserved but not interpreted;
			// the output model consumes none of them.
			ps.values[tag.ID] = pv
			continue
		}

		switch tag.Type {
		case TypeString8, TypeUnicode, TypeBinary:
			declared := defaultEncoding.Uint32(value[0:4])
			decodeVariableValue(tree, storagePath, &pv, declared)
		default:
			decodeFixedValue(&pv, value)
		}

		ps.values[tag.ID] = pv
	}

	if codepage, found := resolveCodepage(ps); found == true {
		ps.codepage = codepage
	}

	return ps
}

// DecodeProperties decodes the property set of the storage at the given
// path. An empty path decodes the message-level properties.
func DecodeProperties(tree *Tree, storagePath []string, named *NamedPropertyMap) (ps *PropertySet, err error) {
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

	headerLength := messagePropertyHeaderSize
	if len(storagePath) > 0 {
		headerLength = storagePropertyHeaderSize
	}

	ps = decodePropertySet(tree, storagePath, headerLength, named, defaultCodepage)

	return ps, nil
}
