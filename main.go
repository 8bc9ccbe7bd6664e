package main

import (
	"fmt"
	"os"

	"github.com/menu-hanke/m3/internal/m3config"
	"github.com/menu-hanke/m3/m3"
)

func run() error {
	init := m3config.Defaults()
	host, err := m3.NewHost(init, 1, 0)
	if err != nil {
		return err
	}
	defer host.Close()

	work := make([]byte, int(init.BlockSize)*4)
	if err := host.MemInit(work, init.BlockSize); err != nil {
		return err
	}
	defer host.MemDestroy()

	work[0] = 1
	if err := host.MemWrite(1); err != nil {
		return err
	}
	savepoint, err := host.MemSave()
	if err != nil {
		return err
	}

	work[0] = 2
	if err := host.MemWrite(1); err != nil {
		return err
	}
	if err := host.MemLoad(savepoint); err != nil {
		return err
	}
	fmt.Printf("work[0] after rollback: %d\n", work[0])
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
