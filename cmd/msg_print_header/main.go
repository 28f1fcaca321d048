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
	Filepath  string `short:"f" long:"filepath" description:"File-path of the .msg file" required:"true"`
	ShowTree  bool   `short:"t" long:"tree" description:"Also list the storages and streams"`
	ShowSizes bool   `short:"s" long:"sizes" description:"Show stream sizes in the listing"`
}

var (
	rootArguments = new(rootParameters)
)

func printEntries(tree *msg.Tree, id uint32, depth int) {
	for _, childID := range tree.Children(id) {
		entry := tree.Entry(childID)

		indent := ""
		for i := 0; i < depth; i++ {
			indent += "  "
		}

		if rootArguments.ShowSizes == true && entry.ObjectType == msg.ObjectTypeStream {
			fmt.Printf("%s%s (%d)\n", indent, entry.DecodedName(), entry.StreamSize)
		} else {
			fmt.Printf("%s%s\n", indent, entry.DecodedName())
		}

		if entry.ObjectType == msg.ObjectTypeStorage {
			printEntries(tree, childID, depth+1)
		}
	}
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

	data, err := ioutil.ReadFile(rootArguments.Filepath)
	log.PanicIf(err)

	cr := msg.NewCompoundReader(data)

	err = cr.Parse()
	log.PanicIf(err)

	cr.Header().Dump()

	if rootArguments.ShowTree == true {
		tree := msg.NewTree(cr)

		err = tree.Load()
		log.PanicIf(err)

		printEntries(tree, tree.RootID(), 0)
	}
}
