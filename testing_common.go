// This file builds synthetic compound files in memory for the tests. The
// builder emits the simplest valid encoding: FAT sectors first, then the
// directory, MiniFAT, mini stream, and large streams, with every chain laid
// out sequentially and sibling lists leaning right.

package msg

import (
	"bytes"
	"strings"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
)

const (
	testSectorSize     = 512
	testMiniSectorSize = 64

	testFatEntriesPerSector = testSectorSize / 4
	testEntriesPerSector    = testSectorSize / directoryEntrySize
)

type testNode struct {
	name     string
	isStream bool
	data     []byte

	children []*testNode

	// Assigned while building.
	entryID     uint32
	startSector uint32
}

// testContainerBuilder accumulates a storage/stream hierarchy and serializes
// it as a compound file. The layout fields describe where everything landed,
// so corruption tests can patch specific bytes afterward.
type testContainerBuilder struct {
	root *testNode

	// fatSectorCount is the number of FAT sectors at the front of the file.
	fatSectorCount uint32

	// dirFirstSector is the first sector of the directory chain.
	dirFirstSector uint32

	entryIDs map[string]uint32
}

func newTestContainerBuilder() *testContainerBuilder {
	return &testContainerBuilder{
		root: &testNode{
			name: "Root Entry",
		},
		entryIDs: make(map[string]uint32),
	}
}

func (tcb *testContainerBuilder) findChild(parent *testNode, name string) *testNode {
	for _, child := range parent.children {
		if strings.EqualFold(child.name, name) == true {
			return child
		}
	}

	return nil
}

// AddStream registers a stream at the given path, creating intermediate
// storages as needed.
func (tcb *testContainerBuilder) AddStream(pathParts []string, data []byte) {
	current := tcb.root

	for _, part := range pathParts[:len(pathParts)-1] {
		child := tcb.findChild(current, part)
		if child == nil {
			child = &testNode{
				name: part,
			}

			current.children = append(current.children, child)
		}

		current = child
	}

	leafName := pathParts[len(pathParts)-1]
	if tcb.findChild(current, leafName) != nil {
		log.Panicf("stream [%s] added twice", leafName)
	}

	current.children = append(current.children, &testNode{
		name:     leafName,
		isStream: true,
		data:     data,
	})
}

// AddStorage registers an empty storage at the given path.
func (tcb *testContainerBuilder) AddStorage(pathParts []string) {
	current := tcb.root

	for _, part := range pathParts {
		child := tcb.findChild(current, part)
		if child == nil {
			child = &testNode{
				name: part,
			}

			current.children = append(current.children, child)
		}

		current = child
	}
}

// flatten assigns entry ids in depth-first order, root first, and returns
// the nodes in id order.
func (tcb *testContainerBuilder) flatten() []*testNode {
	nodes := make([]*testNode, 0)

	var visit func(node *testNode, path []string)
	visit = func(node *testNode, path []string) {
		node.entryID = uint32(len(nodes))
		nodes = append(nodes, node)

		tcb.entryIDs[strings.ToUpper(strings.Join(path, "/"))] = node.entryID

		for _, child := range node.children {
			visit(child, append(append([]string{}, path...), child.name))
		}
	}

	visit(tcb.root, nil)

	return nodes
}

func padTo(data []byte, multiple int) []byte {
	if len(data)%multiple == 0 {
		return data
	}

	padded := make([]byte, ((len(data)/multiple)+1)*multiple)
	copy(padded, data)

	return padded
}

func encodeEntryName(name string) (raw [64]byte, length uint16) {
	i := 0
	for _, r := range name {
		if i+2 > len(raw)-2 {
			break
		}

		raw[i] = byte(uint16(r))
		raw[i+1] = byte(uint16(r) >> 8)
		i += 2
	}

	// The length includes the NUL terminator.
	return raw, uint16(i + 2)
}

// Build serializes the accumulated hierarchy.
func (tcb *testContainerBuilder) Build() []byte {
	nodes := tcb.flatten()

	// Split streams between the mini stream and ordinary sectors, and lay
	// both out.
	miniStream := make([]byte, 0)
	miniFat := make([]uint32, 0)

	largeNodes := make([]*testNode, 0)

	for _, node := range nodes {
		if node.isStream == false || len(node.data) == 0 {
			node.startSector = endOfChain
			continue
		}

		if len(node.data) >= 4096 {
			largeNodes = append(largeNodes, node)
			continue
		}

		node.startSector = uint32(len(miniFat))

		padded := padTo(node.data, testMiniSectorSize)
		miniStream = append(miniStream, padded...)

		slots := len(padded) / testMiniSectorSize
		for i := 0; i < slots-1; i++ {
			miniFat = append(miniFat, uint32(len(miniFat))+1)
		}

		miniFat = append(miniFat, endOfChain)
	}

	miniStream = padTo(miniStream, testSectorSize)

	dirSectorCount := uint32((len(nodes) + testEntriesPerSector - 1) / testEntriesPerSector)

	miniFatRaw := make([]byte, 0)
	for _, entry := range miniFat {
		var word [4]byte
		defaultEncoding.PutUint32(word[:], entry)
		miniFatRaw = append(miniFatRaw, word[:]...)
	}

	miniFatRaw = padTo(miniFatRaw, testSectorSize)
	miniFatSectorCount := uint32(len(miniFatRaw) / testSectorSize)

	miniStreamSectorCount := uint32(len(miniStream) / testSectorSize)

	largeSectorCount := uint32(0)
	for _, node := range largeNodes {
		largeSectorCount += uint32(len(padTo(node.data, testSectorSize)) / testSectorSize)
	}

	// The FAT describes every sector including its own, so the FAT sector
	// count is a fixpoint.
	payloadSectorCount := dirSectorCount + miniFatSectorCount + miniStreamSectorCount + largeSectorCount

	fatSectorCount := uint32(1)
	for {
		total := fatSectorCount + payloadSectorCount
		needed := (total + testFatEntriesPerSector - 1) / testFatEntriesPerSector

		if needed <= fatSectorCount {
			break
		}

		fatSectorCount = needed
	}

	if fatSectorCount > inlineDifatEntryCount {
		log.Panicf("test container too large for the inline DIFAT")
	}

	tcb.fatSectorCount = fatSectorCount
	tcb.dirFirstSector = fatSectorCount

	miniFatFirstSector := tcb.dirFirstSector + dirSectorCount
	miniStreamFirstSector := miniFatFirstSector + miniFatSectorCount

	nextLargeSector := miniStreamFirstSector + miniStreamSectorCount
	for _, node := range largeNodes {
		node.startSector = nextLargeSector
		nextLargeSector += uint32(len(padTo(node.data, testSectorSize)) / testSectorSize)
	}

	totalSectorCount := fatSectorCount + payloadSectorCount

	// FAT contents.
	fat := make([]uint32, fatSectorCount*uint32(testFatEntriesPerSector))
	for i := range fat {
		fat[i] = freeSector
	}

	for sid := uint32(0); sid < fatSectorCount; sid++ {
		fat[sid] = fatSector
	}

	chain := func(first, count uint32) {
		for i := uint32(0); i < count; i++ {
			if i == count-1 {
				fat[first+i] = endOfChain
			} else {
				fat[first+i] = first + i + 1
			}
		}
	}

	chain(tcb.dirFirstSector, dirSectorCount)
	chain(miniFatFirstSector, miniFatSectorCount)
	chain(miniStreamFirstSector, miniStreamSectorCount)

	for _, node := range largeNodes {
		chain(node.startSector, uint32(len(padTo(node.data, testSectorSize))/testSectorSize))
	}

	// Directory entries. Sibling lists lean right: each storage's first
	// child is its ChildID and every child points right to the next.
	entries := make([]DirectoryEntry, len(nodes))

	for i, node := range nodes {
		entry := &entries[i]

		entry.Name, entry.NameLength = encodeEntryName(node.name)
		entry.LeftSiblingID = noStream
		entry.RightSiblingID = noStream
		entry.ChildID = noStream
		entry.Color = 1
		entry.StartSector = node.startSector

		switch {
		case node == tcb.root:
			entry.ObjectType = ObjectTypeRoot
			entry.StreamSize = uint64(len(miniStream))

			if miniStreamSectorCount > 0 {
				entry.StartSector = miniStreamFirstSector
			} else {
				entry.StartSector = endOfChain
			}
		case node.isStream == true:
			entry.ObjectType = ObjectTypeStream
			entry.StreamSize = uint64(len(node.data))
		default:
			entry.ObjectType = ObjectTypeStorage
			entry.StreamSize = 0
		}

		if len(node.children) > 0 {
			entry.ChildID = node.children[0].entryID
		}
	}

	// Wire the sibling links in a second pass: the initialization loop above
	// resets each entry's sibling ids, so wiring there would be clobbered by
	// the children's own later iterations.
	for _, node := range nodes {
		for j := 0; j < len(node.children)-1; j++ {
			entries[node.children[j].entryID].RightSiblingID = node.children[j+1].entryID
		}
	}

	// Header.
	header := Header{
		MinorVersion:     0x003e,
		MajorVersion:     3,
		ByteOrder:        requiredByteOrder,
		SectorShift:      9,
		MiniSectorShift:  6,
		FatSectorCount:   fatSectorCount,
		MiniStreamCutoff: 4096,
	}

	copy(header.Signature[:], requiredSignature)

	header.FirstDirectorySector = tcb.dirFirstSector
	header.FirstDifatSector = endOfChain

	if miniFatSectorCount > 0 {
		header.FirstMiniFatSector = miniFatFirstSector
		header.MiniFatSectorCount = miniFatSectorCount
	} else {
		header.FirstMiniFatSector = endOfChain
	}

	for i := range header.Difat {
		if uint32(i) < fatSectorCount {
			header.Difat[i] = uint32(i)
		} else {
			header.Difat[i] = freeSector
		}
	}

	// Serialize.
	b := new(bytes.Buffer)

	err := binary.Write(b, defaultEncoding, header)
	log.PanicIf(err)

	for _, entry := range fat {
		err := binary.Write(b, defaultEncoding, entry)
		log.PanicIf(err)
	}

	for i := range entries {
		err := binary.Write(b, defaultEncoding, entries[i])
		log.PanicIf(err)
	}

	for i := len(entries); i%testEntriesPerSector != 0; i++ {
		empty := DirectoryEntry{
			LeftSiblingID:  noStream,
			RightSiblingID: noStream,
			ChildID:        noStream,
		}

		err := binary.Write(b, defaultEncoding, empty)
		log.PanicIf(err)
	}

	b.Write(miniFatRaw)
	b.Write(miniStream)

	for _, node := range largeNodes {
		b.Write(padTo(node.data, testSectorSize))
	}

	data := b.Bytes()

	expectedSize := headerSize + int(totalSectorCount)*testSectorSize
	if len(data) != expectedSize {
		log.Panicf("test container serialized to (%d) bytes; expected (%d)", len(data), expectedSize)
	}

	return data
}

// fatEntryOffset returns the file offset of the FAT entry describing the
// given sector. Valid after Build.
func (tcb *testContainerBuilder) fatEntryOffset(sid uint32) int {
	return headerSize + int(sid/uint32(testFatEntriesPerSector))*testSectorSize + int(sid%uint32(testFatEntriesPerSector))*4
}

// entryOffset returns the file offset of the directory entry at the given
// path. Valid after Build.
func (tcb *testContainerBuilder) entryOffset(pathParts []string) int {
	id, ok := tcb.entryIDs[strings.ToUpper(strings.Join(pathParts, "/"))]
	if ok == false {
		log.Panicf("no such test entry: %v", pathParts)
	}

	return headerSize + int(tcb.dirFirstSector)*testSectorSize + int(id)*directoryEntrySize
}

// Property-stream encoding helpers.

func utf16Content(s string) []byte {
	raw := make([]byte, 0, len(s)*2)

	for _, r := range s {
		raw = append(raw, byte(uint16(r)), byte(uint16(r)>>8))
	}

	return raw
}

func fixedPropertyRecord(ptype PropertyType, id uint16, value uint64) []byte {
	record := make([]byte, propertyRecordSize)

	defaultEncoding.PutUint16(record[0:2], uint16(ptype))
	defaultEncoding.PutUint16(record[2:4], id)
	defaultEncoding.PutUint64(record[8:16], value)

	return record
}

func variablePropertyRecord(ptype PropertyType, id uint16, declared uint32) []byte {
	record := make([]byte, propertyRecordSize)

	defaultEncoding.PutUint16(record[0:2], uint16(ptype))
	defaultEncoding.PutUint16(record[2:4], id)
	defaultEncoding.PutUint32(record[8:12], declared)

	return record
}

func buildPropertiesStream(headerLength int, records ...[]byte) []byte {
	raw := make([]byte, headerLength)

	for _, record := range records {
		raw = append(raw, record...)
	}

	return raw
}

// addUnicodeProperty registers a UTF-16 string property: the record in the
// given record list and the companion stream under the given storage path.
func (tcb *testContainerBuilder) addUnicodeProperty(storagePath []string, records *[][]byte, id uint16, value string) {
	content := utf16Content(value)

	tag := PropertyTag{ID: id, Type: TypeUnicode}
	streamPath := append(append([]string{}, storagePath...), tag.StreamName())

	tcb.AddStream(streamPath, content)

	*records = append(*records, variablePropertyRecord(TypeUnicode, id, uint32(len(content)+2)))
}

// addBinaryProperty registers a binary property the same way.
func (tcb *testContainerBuilder) addBinaryProperty(storagePath []string, records *[][]byte, id uint16, content []byte) {
	tag := PropertyTag{ID: id, Type: TypeBinary}
	streamPath := append(append([]string{}, storagePath...), tag.StreamName())

	tcb.AddStream(streamPath, content)

	*records = append(*records, variablePropertyRecord(TypeBinary, id, uint32(len(content))))
}

// testRecipient is one recipient of a built test message.
type testRecipient struct {
	address       string
	recipientType uint32
}

// testAttachment is one attachment of a built test message.
type testAttachment struct {
	filename    string
	contentType string
	contentID   string
	data        []byte
}

// testMessage describes a full synthetic message for the builder below.
type testMessage struct {
	subject     string
	senderName  string
	senderEmail string
	submitTime  uint64
	bodyText    string

	recipients  []testRecipient
	attachments []testAttachment
}

func storageName(prefix string, suffix int) string {
	const hexDigits = "0123456789ABCDEF"

	name := prefix
	for shift := 28; shift >= 0; shift -= 4 {
		name += string(hexDigits[(suffix>>uint(shift))&0xf])
	}

	return name
}

// buildTestMessageContainer builds a complete compound file encoding the
// given message.
func buildTestMessageContainer(tm testMessage) ([]byte, *testContainerBuilder) {
	tcb := newTestContainerBuilder()

	records := make([][]byte, 0)

	if tm.subject != "" {
		tcb.addUnicodeProperty(nil, &records, propIDSubject, tm.subject)
	}

	if tm.senderName != "" {
		tcb.addUnicodeProperty(nil, &records, propIDSenderName, tm.senderName)
	}

	if tm.senderEmail != "" {
		tcb.addUnicodeProperty(nil, &records, propIDSenderSMTPAddress, tm.senderEmail)
	}

	if tm.bodyText != "" {
		tcb.addUnicodeProperty(nil, &records, propIDBody, tm.bodyText)
	}

	if tm.submitTime != 0 {
		records = append(records, fixedPropertyRecord(TypeFileTime, propIDClientSubmitTime, tm.submitTime))
	}

	tcb.AddStream([]string{propertiesStreamName}, buildPropertiesStream(messagePropertyHeaderSize, records...))

	for i, recipient := range tm.recipients {
		storage := storageName(recipientStoragePrefix, i)

		recipientRecords := make([][]byte, 0)

		tcb.addUnicodeProperty([]string{storage}, &recipientRecords, propIDSMTPAddress, recipient.address)
		recipientRecords = append(recipientRecords, fixedPropertyRecord(TypeInt32, propIDRecipientType, uint64(recipient.recipientType)))

		tcb.AddStream(
			[]string{storage, propertiesStreamName},
			buildPropertiesStream(storagePropertyHeaderSize, recipientRecords...))
	}

	for i, attachment := range tm.attachments {
		storage := storageName(attachStoragePrefix, i)

		attachmentRecords := make([][]byte, 0)

		if attachment.filename != "" {
			tcb.addUnicodeProperty([]string{storage}, &attachmentRecords, propIDAttachFilenameLong, attachment.filename)
		}

		if attachment.contentType != "" {
			tcb.addUnicodeProperty([]string{storage}, &attachmentRecords, propIDAttachMimeTag, attachment.contentType)
		}

		if attachment.contentID != "" {
			tcb.addUnicodeProperty([]string{storage}, &attachmentRecords, propIDAttachContentID, attachment.contentID)
		}

		tcb.addBinaryProperty([]string{storage}, &attachmentRecords, propIDAttachData, attachment.data)

		tcb.AddStream(
			[]string{storage, propertiesStreamName},
			buildPropertiesStream(storagePropertyHeaderSize, attachmentRecords...))
	}

	return tcb.Build(), tcb
}

// parseTestContainer parses a built container through the low-level layers.
func parseTestContainer(data []byte) *Tree {
	cr := NewCompoundReader(data)

	err := cr.Parse()
	log.PanicIf(err)

	tree := NewTree(cr)

	err = tree.Load()
	log.PanicIf(err)

	return tree
}
