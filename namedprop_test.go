package msg

import (
	"testing"

	"github.com/dsoprea/go-logging"
)

func TestFormatGuid(t *testing.T) {
	raw := []byte{
		0x00, 0x01, 0x02, 0x03,
		0x04, 0x05,
		0x06, 0x07,
		0x08, 0x09,
		0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	}

	if formatGuid(raw) != "03020100-0504-0706-0809-0a0b0c0d0e0f" {
		t.Fatalf("GUID not formatted correctly: [%s]", formatGuid(raw))
	}
}

func TestLoadNamedProperties_Absent(t *testing.T) {
	data, _ := buildSimpleTestContainer()

	tree := parseTestContainer(data)

	npm, err := LoadNamedProperties(tree)
	log.PanicIf(err)

	if npm.Count() != 0 {
		t.Fatalf("Mapping not empty: (%d)", npm.Count())
	}
}

func buildNamedPropertyContainer() *testContainerBuilder {
	tcb := newTestContainerBuilder()

	// One custom GUID at index 3.
	guidRaw := []byte{
		0x00, 0x01, 0x02, 0x03,
		0x04, 0x05,
		0x06, 0x07,
		0x08, 0x09,
		0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	}

	// Entry 0: numeric id 0x800b under the custom GUID. Entry 1: the
	// string name at offset 0 under PS_PUBLIC_STRINGS.
	entryRaw := make([]byte, 2*namedEntrySize)

	defaultEncoding.PutUint32(entryRaw[0:4], 0x800b)
	defaultEncoding.PutUint32(entryRaw[4:8], 3<<1)

	defaultEncoding.PutUint32(entryRaw[8:12], 0)
	defaultEncoding.PutUint32(entryRaw[12:16], (2<<1)|1|(1<<16))

	name := utf16Content("Keywords")

	stringRaw := make([]byte, 4)
	defaultEncoding.PutUint32(stringRaw, uint32(len(name)))
	stringRaw = append(stringRaw, name...)

	tcb.AddStream([]string{namedPropertyStorage, nameidGuidStreamName}, guidRaw)
	tcb.AddStream([]string{namedPropertyStorage, nameidEntryStreamName}, entryRaw)
	tcb.AddStream([]string{namedPropertyStorage, nameidStringStreamName}, stringRaw)

	return tcb
}

func TestLoadNamedProperties(t *testing.T) {
	tcb := buildNamedPropertyContainer()

	tree := parseTestContainer(tcb.Build())

	npm, err := LoadNamedProperties(tree)
	log.PanicIf(err)

	if npm.Count() != 2 {
		t.Fatalf("Mapping count not correct: (%d)", npm.Count())
	}

	numeric, found := npm.PropertyFor(0x8000)
	if found != true {
		t.Fatalf("Numeric named property not mapped.")
	} else if numeric.Kind != NamedPropertyNumeric {
		t.Fatalf("Numeric named property kind not correct: (%d)", numeric.Kind)
	} else if numeric.NumericID != 0x800b {
		t.Fatalf("Numeric named property id not correct: (0x%08x)", numeric.NumericID)
	} else if numeric.Guid != "03020100-0504-0706-0809-0a0b0c0d0e0f" {
		t.Fatalf("Numeric named property GUID not correct: [%s]", numeric.Guid)
	}

	stringy, found := npm.PropertyFor(0x8001)
	if found != true {
		t.Fatalf("String named property not mapped.")
	} else if stringy.Kind != NamedPropertyString {
		t.Fatalf("String named property kind not correct: (%d)", stringy.Kind)
	} else if stringy.Name != "Keywords" {
		t.Fatalf("String named property name not correct: [%s]", stringy.Name)
	} else if stringy.Guid != psPublicStringsGuid {
		t.Fatalf("String named property GUID not correct: [%s]", stringy.Guid)
	}

	// Reverse lookup.
	id, found := npm.IDFor(stringy)
	if found != true || id != 0x8001 {
		t.Fatalf("Reverse lookup not correct: (0x%04x, %v)", id, found)
	}
}

func TestLoadNamedProperties_BadGuidIndexSkipped(t *testing.T) {
	tcb := newTestContainerBuilder()

	// The GUID index points past the end of the GUID stream.
	entryRaw := make([]byte, namedEntrySize)
	defaultEncoding.PutUint32(entryRaw[0:4], 0x1234)
	defaultEncoding.PutUint32(entryRaw[4:8], 9<<1)

	tcb.AddStream([]string{namedPropertyStorage, nameidEntryStreamName}, entryRaw)

	tree := parseTestContainer(tcb.Build())

	npm, err := LoadNamedProperties(tree)
	log.PanicIf(err)

	if npm.Count() != 0 {
		t.Fatalf("Unusable entry not skipped: (%d)", npm.Count())
	}
}

func TestDecodeProperties_NamedAnnotation(t *testing.T) {
	tcb := buildNamedPropertyContainer()

	records := [][]byte{
		fixedPropertyRecord(TypeInt32, 0x8000, 42),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	npm, err := LoadNamedProperties(tree)
	log.PanicIf(err)

	ps, err := DecodeProperties(tree, nil, npm)
	log.PanicIf(err)

	pv, found := ps.Get(0x8000)
	if found != true {
		t.Fatalf("Named property value not decoded.")
	} else if pv.Named == nil {
		t.Fatalf("Named property value not annotated.")
	} else if pv.Named.NumericID != 0x800b {
		t.Fatalf("Named property annotation not correct: [%s]", pv.Named)
	}

	if value, found := ps.GetInt32(0x8000); found != true || value != 42 {
		t.Fatalf("Named property value not correct: (%d)", value)
	}
}
