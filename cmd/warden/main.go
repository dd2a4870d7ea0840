// warden keeps one worker process running per interactive login session.
package main

import (
	"os"

	"github.com/warden-project/warden/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
