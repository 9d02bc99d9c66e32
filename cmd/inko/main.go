// Inko VM - loads a bytecode image and runs it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/YorickPeterse/inko/config"
	"github.com/YorickPeterse/inko/image"
	"github.com/YorickPeterse/inko/vm"
)

func main() {
	noCache := flag.Bool("no-cache", false, "Skip the image cache")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inko [options] IMAGE [ARGS...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the program in the given bytecode image. Arguments after the\n")
		fmt.Fprintf(os.Stderr, "image path are exposed to the program.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration is read from inko.toml in the working directory and\n")
		fmt.Fprintf(os.Stderr, "INKO_* environment variables; the environment wins.\n")
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(".")
	if err != nil {
		fatal(err)
	}
	if err := cfg.FromEnvironment(); err != nil {
		fatal(err)
	}
	commonlog.Configure(cfg.Log, nil)

	var cache *image.Cache
	if !*noCache {
		if path, err := image.DefaultCachePath(); err == nil {
			// A cache that cannot be opened just means decoding the
			// image file directly.
			cache, _ = image.OpenCache(path)
		}
	}
	file, err := image.Load(flag.Arg(0), cache)
	if err != nil {
		fatal(err)
	}

	machine, err := vm.NewMachine(cfg.Machine(), flag.Args()[1:])
	if err != nil {
		fatal(err)
	}
	_, entry, err := image.Realize(file, machine)
	if err != nil {
		fatal(err)
	}

	code := machine.Start(entry)
	if cache != nil {
		cache.Close()
	}
	os.Exit(code)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "inko: %v\n", err)
	os.Exit(1)
}
