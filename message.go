// This file enumerates the recipient/attachment sub-storages and assembles
// the final email record from the decoded properties.

package msg

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"net/mail"

	"github.com/dsoprea/go-logging"
)

// Message-level property ids consulted by the model builder.
const (
	propIDSubject               = uint16(0x0037)
	propIDClientSubmitTime      = uint16(0x0039)
	propIDSentRepresentingEmail = uint16(0x0065)
	propIDTransportHeaders      = uint16(0x007d)
	propIDSenderName            = uint16(0x0c1a)
	propIDSenderEmail           = uint16(0x0c1f)
	propIDDeliveryTime          = uint16(0x0e06)
	propIDBody                  = uint16(0x1000)
	propIDBodyHTML              = uint16(0x1013)
	propIDSenderSMTPAddress     = uint16(0x5d01)
)

// Recipient property ids.
const (
	propIDRecipientType = uint16(0x0c15)
	propIDDisplayName   = uint16(0x3001)
	propIDEmailAddress  = uint16(0x3003)
	propIDSMTPAddress   = uint16(0x39fe)
)

// Attachment property ids.
const (
	propIDAttachData          = uint16(0x3701)
	propIDAttachExtension     = uint16(0x3703)
	propIDAttachFilenameShort = uint16(0x3704)
	propIDAttachFilenameLong  = uint16(0x3707)
	propIDAttachMimeTag       = uint16(0x370e)
	propIDAttachContentID     = uint16(0x3712)
)

const (
	recipientTypeTo = 1
	recipientTypeCc = 2
)

// Attachment is one decoded attachment. Filename is always populated, with
// a generated placeholder when the file carries no name properties. An
// empty ContentType or ContentID means the property was absent.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

// String returns a description of the attachment.
func (a Attachment) String() string {
	return fmt.Sprintf("Attachment<FILENAME=[%s] CONTENT-TYPE=[%s] SIZE=(%d)>", a.Filename, a.ContentType, len(a.Data))
}

// MsgEmail is the normalized output record. Every field is optional except
// the lists, which default to empty; an empty string means the underlying
// property was absent.
type MsgEmail struct {
	Subject     string
	SenderName  string
	SenderEmail string

	// Recipients and CcRecipients preserve the storage-suffix order, which
	// is the display order Outlook itself uses.
	Recipients   []string
	CcRecipients []string

	// SentTime is RFC 3339 when derived from a timestamp property, or the
	// raw transport-header date when that is all the message has.
	SentTime string

	BodyText string
	BodyHTML string

	Attachments []Attachment
}

// Dump prints the decoded email.
func (me *MsgEmail) Dump() {
	fmt.Printf("Message\n")
	fmt.Printf("=======\n")
	fmt.Printf("\n")

	fmt.Printf("Subject: [%s]\n", me.Subject)
	fmt.Printf("SenderName: [%s]\n", me.SenderName)
	fmt.Printf("SenderEmail: [%s]\n", me.SenderEmail)
	fmt.Printf("SentTime: [%s]\n", me.SentTime)
	fmt.Printf("Recipients: %v\n", me.Recipients)
	fmt.Printf("CcRecipients: %v\n", me.CcRecipients)
	fmt.Printf("BodyText: (%d) bytes\n", len(me.BodyText))
	fmt.Printf("BodyHTML: (%d) bytes\n", len(me.BodyHTML))
	fmt.Printf("\n")

	for i, attachment := range me.Attachments {
		fmt.Printf("Attachment (%d): %s\n", i, attachment)
	}

	fmt.Printf("\n")
}

// subStorage is one recipient or attachment storage under the root,
// identified by its numeric suffix.
type subStorage struct {
	name   string
	suffix uint64
}

// enumerateSubStorages lists the root's child storages carrying the given
// prefix, ordered by numeric suffix ascending regardless of where the
// sibling encoding put them.
func enumerateSubStorages(tree *Tree, prefix string) []subStorage {
	found := make([]subStorage, 0)

	for _, childID := range tree.Children(tree.RootID()) {
		entry := tree.Entry(childID)
		if entry.ObjectType != ObjectTypeStorage {
			continue
		}

		name := entry.DecodedName()
		if strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(prefix)) == false {
			continue
		}

		suffix, err := strconv.ParseUint(name[len(prefix):], 16, 32)
		if err != nil {
			continue
		}

		found = append(found, subStorage{
			name:   name,
			suffix: suffix,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].suffix < found[j].suffix
	})

	return found
}

// recipientAddress returns the best address for one recipient: SMTP
// address, then the address-properties block, then the display name.
func recipientAddress(ps *PropertySet) string {
	if address, found := ps.GetString(propIDSMTPAddress); found == true && address != "" {
		return address
	}

	if address, found := ps.GetString(propIDEmailAddress); found == true && address != "" {
		return address
	}

	if name, found := ps.GetString(propIDDisplayName); found == true {
		return name
	}

	return ""
}

// collectRecipients decodes each recipient storage and routes it into the
// To or CC list by its type property. Recipients with an absent or
// unrepresentable type are dropped silently.
func collectRecipients(tree *Tree, named *NamedPropertyMap, fallbackCodepage uint32) (to, cc []string) {
	to = make([]string, 0)
	cc = make([]string, 0)

	for _, storage := range enumerateSubStorages(tree, recipientStoragePrefix) {
		ps := decodePropertySet(tree, []string{storage.name}, storagePropertyHeaderSize, named, fallbackCodepage)

		address := recipientAddress(ps)
		if address == "" {
			continue
		}

		recipientType, found := ps.GetInt32(propIDRecipientType)
		if found == false {
			continue
		}

		switch recipientType {
		case recipientTypeTo:
			to = append(to, address)
		case recipientTypeCc:
			cc = append(cc, address)
		}
	}

	return to, cc
}

// attachmentFilename applies the name fallback chain: long filename, short
// filename, display name, then a placeholder synthesized from the index
// and the extension property so that every attachment is still emitted.
func attachmentFilename(ps *PropertySet, index int) string {
	for _, id := range []uint16{propIDAttachFilenameLong, propIDAttachFilenameShort, propIDDisplayName} {
		if name, found := ps.GetString(id); found == true && name != "" {
			return name
		}
	}

	extension, _ := ps.GetString(propIDAttachExtension)

	return fmt.Sprintf("attachment-%d%s", index, extension)
}

// collectAttachments decodes each attachment storage. An attachment with
// no content property still appears, with empty data.
func collectAttachments(tree *Tree, named *NamedPropertyMap, fallbackCodepage uint32) []Attachment {
	attachments := make([]Attachment, 0)

	for i, storage := range enumerateSubStorages(tree, attachStoragePrefix) {
		ps := decodePropertySet(tree, []string{storage.name}, storagePropertyHeaderSize, named, fallbackCodepage)

		attachment := Attachment{
			Filename: attachmentFilename(ps, i),
		}

		if contentType, found := ps.GetString(propIDAttachMimeTag); found == true {
			attachment.ContentType = contentType
		}

		if contentID, found := ps.GetString(propIDAttachContentID); found == true {
			// HTML bodies reference inline attachments as cid:xxx without
			// the surrounding angle brackets.
			attachment.ContentID = strings.Trim(strings.TrimSpace(contentID), "<>")
		}

		if data, found := ps.GetBytes(propIDAttachData); found == true {
			attachment.Data = data
		} else {
			attachment.Data = make([]byte, 0)
		}

		attachments = append(attachments, attachment)
	}

	return attachments
}

// transportHeaderDate extracts the Date header from the transport-headers
// property, normalizing to RFC 3339 when it parses.
func transportHeaderDate(headers string) string {
	for _, line := range strings.Split(headers, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.HasPrefix(strings.ToLower(line), "date:") == false {
			continue
		}

		raw := strings.TrimSpace(line[len("date:"):])

		if t, err := mail.ParseDate(raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}

		return raw
	}

	return ""
}

// sentTime resolves the message timestamp: submit time, then delivery
// time, then the transport-header date line.
func sentTime(ps *PropertySet) string {
	if t, found := ps.GetTime(propIDClientSubmitTime); found == true {
		return t.Format(time.RFC3339)
	}

	if t, found := ps.GetTime(propIDDeliveryTime); found == true {
		return t.Format(time.RFC3339)
	}

	if headers, found := ps.GetString(propIDTransportHeaders); found == true {
		return transportHeaderDate(headers)
	}

	return ""
}

// senderEmail resolves the sender address: the SMTP address property, the
// sender address block, then the sent-representing block.
func senderEmail(ps *PropertySet) string {
	for _, id := range []uint16{propIDSenderSMTPAddress, propIDSenderEmail, propIDSentRepresentingEmail} {
		if address, found := ps.GetString(id); found == true && address != "" {
			return address
		}
	}

	return ""
}

// bodyHTML returns the HTML body. Outlook stores it as either a string or
// a binary property; binary content is 8-bit text under the message code
// page.
func bodyHTML(ps *PropertySet) string {
	pv, found := ps.Get(propIDBodyHTML)
	if found == false {
		return ""
	}

	switch pv.Kind {
	case KindStringUTF16:
		return pv.Str
	case KindString8, KindBinary:
		return DecodeString8(pv.Bytes, ps.Codepage())
	}

	return ""
}

// buildEmail assembles the output record. It never fails: a missing or
// undecodable optional property degrades to the model's absent value.
func buildEmail(ps *PropertySet, to, cc []string, attachments []Attachment) *MsgEmail {
	email := &MsgEmail{
		Recipients:   to,
		CcRecipients: cc,
		Attachments:  attachments,
	}

	email.Subject, _ = ps.GetString(propIDSubject)
	email.SenderName, _ = ps.GetString(propIDSenderName)
	email.SenderEmail = senderEmail(ps)
	email.SentTime = sentTime(ps)
	email.BodyText, _ = ps.GetString(propIDBody)
	email.BodyHTML = bodyHTML(ps)

	return email
}

// ParseMsg decodes a raw Outlook .msg file into the normalized email
// record. The buffer is only read, never retained or modified; every call
// builds and discards its own state, so concurrent calls on independent
// inputs need no synchronization.
func ParseMsg(data []byte) (email *MsgEmail, err error) {
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

	cr := NewCompoundReader(data)

	err = cr.Parse()
	log.PanicIf(err)

	tree := NewTree(cr)

	err = tree.Load()
	log.PanicIf(err)

	named, err := LoadNamedProperties(tree)
	log.PanicIf(err)

	ps := decodePropertySet(tree, nil, messagePropertyHeaderSize, named, defaultCodepage)

	to, cc := collectRecipients(tree, named, ps.Codepage())
	attachments := collectAttachments(tree, named, ps.Codepage())

	email = buildEmail(ps, to, cc, attachments)

	return email, nil
}
