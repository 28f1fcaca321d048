package msg

import (
	"testing"
	"time"

	"github.com/dsoprea/go-logging"
)

// 2024-01-15T10:30:00Z expressed as 100ns ticks since 1601-01-01.
const testFileTimeTicks = uint64(133497882000000000)

func TestFileTimeToTime(t *testing.T) {
	actual := fileTimeToTime(testFileTimeTicks)
	expected := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	if actual.Equal(expected) != true {
		t.Fatalf("Timestamp not correct: [%s]", actual)
	}

	epoch := fileTimeToTime(0)
	if epoch.Equal(time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)) != true {
		t.Fatalf("Epoch timestamp not correct: [%s]", epoch)
	}
}

func TestPropertyTag_StreamName(t *testing.T) {
	tag := PropertyTag{ID: 0x3001, Type: TypeUnicode}

	if tag.StreamName() != "__substg1.0_3001001F" {
		t.Fatalf("Stream name not correct: [%s]", tag.StreamName())
	}

	tag = PropertyTag{ID: 0x0c1a, Type: TypeString8}

	if tag.StreamName() != "__substg1.0_0C1A001E" {
		t.Fatalf("Stream name not correct: [%s]", tag.StreamName())
	}
}

func TestDecodeProperties_Scalars(t *testing.T) {
	tcb := newTestContainerBuilder()

	records := [][]byte{
		fixedPropertyRecord(TypeInt32, 0x0026, 7),
		fixedPropertyRecord(TypeInt16, 0x0c15, 2),
		fixedPropertyRecord(TypeBool, 0x0e1b, 1),
		fixedPropertyRecord(TypeFileTime, propIDClientSubmitTime, testFileTimeTicks),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	if value, found := ps.GetInt32(0x0026); found != true || value != 7 {
		t.Fatalf("Int32 value not correct: (%d, %v)", value, found)
	}

	// GetInt32 widens a 16-bit value.
	if value, found := ps.GetInt32(0x0c15); found != true || value != 2 {
		t.Fatalf("Int16 value not correct: (%d, %v)", value, found)
	}

	pv, found := ps.Get(0x0e1b)
	if found != true || pv.Kind != KindBool || pv.Bool != true {
		t.Fatalf("Bool value not correct: %v", pv)
	}

	when, found := ps.GetTime(propIDClientSubmitTime)
	if found != true || when.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) != true {
		t.Fatalf("Timestamp value not correct: [%s]", when)
	}
}

func TestDecodeProperties_UnicodeString(t *testing.T) {
	tcb := newTestContainerBuilder()

	records := make([][]byte, 0)
	tcb.addUnicodeProperty(nil, &records, propIDSubject, "Hello, world")

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	if value, found := ps.GetString(propIDSubject); found != true || value != "Hello, world" {
		t.Fatalf("String value not correct: [%s]", value)
	}
}

func TestDecodeProperties_String8Codepage(t *testing.T) {
	tcb := newTestContainerBuilder()

	// "café" in Windows-1252.
	content := []byte{'c', 'a', 'f', 0xe9}

	tag := PropertyTag{ID: propIDSubject, Type: TypeString8}
	tcb.AddStream([]string{tag.StreamName()}, content)

	records := [][]byte{
		variablePropertyRecord(TypeString8, propIDSubject, uint32(len(content)+1)),
		fixedPropertyRecord(TypeInt32, propIDMessageCodepage, 1252),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	if ps.Codepage() != 1252 {
		t.Fatalf("Code page not resolved: (%d)", ps.Codepage())
	}

	if value, found := ps.GetString(propIDSubject); found != true || value != "café" {
		t.Fatalf("String value not correct: [%s]", value)
	}
}

func TestDecodeProperties_MissingCompanion(t *testing.T) {
	tcb := newTestContainerBuilder()

	// Ten bytes declared, but no companion stream present.
	records := [][]byte{
		variablePropertyRecord(TypeBinary, 0x3701, 10),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	_, err := DecodeProperties(tree, nil, nil)
	if err == nil {
		t.Fatalf("Expected a missing-companion failure.")
	} else if IsCorruptContainer(err) != true {
		t.Fatalf("Error not classified as corrupt: [%s]", err)
	}
}

func TestDecodeProperties_EmptyStringWithoutCompanion(t *testing.T) {
	tcb := newTestContainerBuilder()

	// The declared size of an empty string is just its terminator, so no
	// companion stream is owed.
	records := [][]byte{
		variablePropertyRecord(TypeUnicode, propIDSubject, 2),
		variablePropertyRecord(TypeString8, propIDSenderName, 1),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	if value, found := ps.GetString(propIDSubject); found != true || value != "" {
		t.Fatalf("Empty Unicode value not correct: [%s]", value)
	}

	if value, found := ps.GetString(propIDSenderName); found != true || value != "" {
		t.Fatalf("Empty String8 value not correct: [%s]", value)
	}
}

func TestDecodeProperties_MultiValuePreserved(t *testing.T) {
	tcb := newTestContainerBuilder()

	records := [][]byte{
		variablePropertyRecord(TypeString8|typeMultiValueFlag, 0x3a30, 40),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	pv, found := ps.Get(0x3a30)
	if found != true {
		t.Fatalf("Multi-valued property not preserved.")
	} else if pv.Kind != KindUnknown {
		t.Fatalf("Multi-valued property kind not correct: (%d)", pv.Kind)
	}

	if _, found := ps.GetString(0x3a30); found != false {
		t.Fatalf("Multi-valued property decoded as a string.")
	}
}

func TestDecodeProperties_UnknownTypePreserved(t *testing.T) {
	tcb := newTestContainerBuilder()

	records := [][]byte{
		fixedPropertyRecord(TypeGuid, 0x0040, 0),
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	pv, found := ps.Get(0x0040)
	if found != true || pv.Kind != KindUnknown {
		t.Fatalf("Unhandled type not preserved as unknown: %v", pv)
	}
}

func TestDecodeProperties_NoPropertiesStream(t *testing.T) {
	tcb := newTestContainerBuilder()
	tcb.AddStream([]string{"unrelated"}, []byte("x"))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, nil, nil)
	log.PanicIf(err)

	if _, found := ps.Get(propIDSubject); found != false {
		t.Fatalf("Empty set produced a value.")
	}

	if ps.Codepage() != defaultCodepage {
		t.Fatalf("Fallback code page not correct: (%d)", ps.Codepage())
	}
}

func TestDecodeProperties_StorageHeaderLength(t *testing.T) {
	tcb := newTestContainerBuilder()

	storage := storageName(recipientStoragePrefix, 0)

	records := make([][]byte, 0)
	tcb.addUnicodeProperty([]string{storage}, &records, propIDSMTPAddress, "a@b.com")

	tcb.AddStream(
		[]string{storage, propertiesStreamName},
		buildPropertiesStream(storagePropertyHeaderSize, records...))

	tree := parseTestContainer(tcb.Build())

	ps, err := DecodeProperties(tree, []string{storage}, nil)
	log.PanicIf(err)

	if value, found := ps.GetString(propIDSMTPAddress); found != true || value != "a@b.com" {
		t.Fatalf("Storage-scoped value not correct: [%s]", value)
	}
}
