// Command quillctl runs administrative tasks against the quill database.
package main

import (
	"os"

	"github.com/labstack/gommon/log"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
