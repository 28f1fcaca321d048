package main

import (
	"fmt"
	"os"

	"io/ioutil"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/ohess/go-msg"
)

type rootParameters struct {
	Filepath   string `short:"f" long:"filepath" description:"File-path of the .msg file" required:"true"`
	ShowBodies bool   `short:"b" long:"bodies" description:"Print the message bodies"`
}

var (
	rootArguments = new(rootParameters)
)

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

	data, err := ioutil.ReadFile(rootArguments.Filepath)
	log.PanicIf(err)

	email, err := msg.ParseMsg(data)
	log.PanicIf(err)

	email.Dump()

	if len(email.Attachments) > 0 {
		fmt.Printf("Attachments\n")
		fmt.Printf("===========\n")
		fmt.Printf("\n")

		for i, attachment := range email.Attachments {
			fmt.Printf("%3d %12s %-30s %s\n", i, humanize.Comma(int64(len(attachment.Data))), attachment.ContentType, attachment.Filename)
		}

		fmt.Printf("\n")
	}

	if rootArguments.ShowBodies == true {
		if email.BodyText != "" {
			fmt.Printf("Body (text)\n")
			fmt.Printf("===========\n")
			fmt.Printf("\n")
			fmt.Printf("%s\n", email.BodyText)
			fmt.Printf("\n")
		}

		if email.BodyHTML != "" {
			fmt.Printf("Body (HTML)\n")
			fmt.Printf("===========\n")
			fmt.Printf("\n")
			fmt.Printf("%s\n", email.BodyHTML)
			fmt.Printf("\n")
		}
	}
}
