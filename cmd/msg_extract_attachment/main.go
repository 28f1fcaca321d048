package main

import (
	"fmt"
	"os"

	"io/ioutil"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/ohess/go-msg"
)

type rootParameters struct {
	Filepath       string `short:"f" long:"filepath" description:"File-path of the .msg file" required:"true"`
	Index          int    `short:"i" long:"index" description:"Index of the attachment to extract" default:"-1"`
	Filename       string `short:"n" long:"filename" description:"Name of the attachment to extract"`
	OutputFilepath string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
}

var (
	rootArguments = new(rootParameters)
)

func findAttachment(email *msg.MsgEmail) (attachment msg.Attachment, found bool) {
	if rootArguments.Index >= 0 {
		if rootArguments.Index >= len(email.Attachments) {
			return attachment, false
		}

		return email.Attachments[rootArguments.Index], true
	}

	for _, attachment := range email.Attachments {
		if attachment.Filename == rootArguments.Filename {
			return attachment, true
		}
	}

	return attachment, false
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	if rootArguments.Index < 0 && rootArguments.Filename == "" {
		fmt.Printf("Either an index or a filename is required.\n")
		os.Exit(1)
	}

	data, err := ioutil.ReadFile(rootArguments.Filepath)
	log.PanicIf(err)

	email, err := msg.ParseMsg(data)
	log.PanicIf(err)

	attachment, found := findAttachment(email)
	if found != true {
		fmt.Printf("Attachment not found.\n")
		os.Exit(2)
	}

	var g *os.File

	if rootArguments.OutputFilepath == "-" {
		g = os.Stdout
	} else {
		var err error

		g, err = os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer func() {
			g.Close()
		}()
	}

	_, err = g.Write(attachment.Data)
	log.PanicIf(err)

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written.\n", len(attachment.Data))
	}
}
