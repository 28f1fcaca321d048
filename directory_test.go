package msg

import (
	"testing"

	"github.com/dsoprea/go-logging"
)

func TestTree_Load(t *testing.T) {
	data, _ := buildSimpleTestContainer()

	tree := parseTestContainer(data)

	root := tree.Entry(tree.RootID())
	if root.ObjectType != ObjectTypeRoot {
		t.Fatalf("Root entry type not correct: [%s]", root.ObjectType)
	} else if root.DecodedName() != "Root Entry" {
		t.Fatalf("Root entry name not correct: [%s]", root.DecodedName())
	}

	if len(tree.Children(tree.RootID())) == 0 {
		t.Fatalf("Root has no children.")
	}

	id, found := tree.Lookup([]string{propertiesStreamName})
	if found != true {
		t.Fatalf("Properties stream not found.")
	}

	entry := tree.Entry(id)
	if entry.ObjectType != ObjectTypeStream {
		t.Fatalf("Properties entry type not correct: [%s]", entry.ObjectType)
	}
}

func TestTree_Lookup_CaseInsensitive(t *testing.T) {
	data, _ := buildSimpleTestContainer()

	tree := parseTestContainer(data)

	_, found := tree.Lookup([]string{"__PROPERTIES_VERSION1.0"})
	if found != true {
		t.Fatalf("Upper-cased lookup failed.")
	}

	_, found = tree.Lookup([]string{"__properties_VERSION1.0"})
	if found != true {
		t.Fatalf("Mixed-case lookup failed.")
	}
}

func TestTree_Lookup_Missing(t *testing.T) {
	data, _ := buildSimpleTestContainer()

	tree := parseTestContainer(data)

	_, found := tree.Lookup([]string{"no such stream"})
	if found != false {
		t.Fatalf("Lookup of a missing name succeeded.")
	}

	_, found = tree.Lookup([]string{"no such storage", propertiesStreamName})
	if found != false {
		t.Fatalf("Lookup under a missing storage succeeded.")
	}
}

func TestTree_Load_SiblingCycle(t *testing.T) {
	data, tcb := buildSimpleTestContainer()

	// Make the properties entry its own right sibling. The sibling ids
	// start at offset 68 within the entry; right is the second.
	offset := tcb.entryOffset([]string{propertiesStreamName})
	id := tcb.entryIDs["__PROPERTIES_VERSION1.0"]

	defaultEncoding.PutUint32(data[offset+72:offset+76], id)

	cr := NewCompoundReader(data)

	err := cr.Parse()
	log.PanicIf(err)

	tree := NewTree(cr)

	err = tree.Load()
	if err == nil {
		t.Fatalf("Expected a sibling-cycle failure.")
	} else if IsCorruptContainer(err) != true {
		t.Fatalf("Error not classified as corrupt: [%s]", err)
	}
}

func TestTree_Load_NoRoot(t *testing.T) {
	data, tcb := buildSimpleTestContainer()

	// Turn the root entry into an unused one. The object type lives at
	// offset 66 within the entry.
	offset := tcb.entryOffset(nil)
	data[offset+66] = byte(ObjectTypeUnused)

	cr := NewCompoundReader(data)

	err := cr.Parse()
	log.PanicIf(err)

	tree := NewTree(cr)

	err = tree.Load()
	if err == nil {
		t.Fatalf("Expected a missing-root failure.")
	} else if IsCorruptContainer(err) != true {
		t.Fatalf("Error not classified as corrupt: [%s]", err)
	}
}

func TestDirectoryEntry_DecodedName(t *testing.T) {
	entry := DirectoryEntry{}
	entry.Name, entry.NameLength = encodeEntryName("__recip_version1.0_#00000000")

	if entry.DecodedName() != "__recip_version1.0_#00000000" {
		t.Fatalf("Name not decoded correctly: [%s]", entry.DecodedName())
	}
}
