// Inko image inspector - dumps the contents of bytecode images.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/YorickPeterse/inko/image"
	"github.com/YorickPeterse/inko/vm"
)

func main() {
	literals := flag.Bool("literals", false, "Dump the literal tables")
	code := flag.Bool("code", false, "Disassemble every code object")
	verify := flag.Bool("verify", false, "Check the image re-encodes to the same bytes")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inko-dump [options] IMAGE\n\n")
		fmt.Fprintf(os.Stderr, "Prints the structure of a bytecode image. Without options only the\n")
		fmt.Fprintf(os.Stderr, "image path, its sha256, the table sizes and the module list are shown.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		fatal(err)
	}
	file, err := image.Read(bytes.NewReader(data))
	if err != nil {
		fatal(err)
	}

	fmt.Printf("image:    %s\n", path)
	fmt.Printf("sha256:   %s\n", image.Key(data))
	fmt.Printf("strings:  %d\n", len(file.Strings))
	fmt.Printf("integers: %d\n", len(file.Integers))
	fmt.Printf("floats:   %d\n", len(file.Floats))
	fmt.Printf("code:     %d\n", len(file.Code))
	fmt.Printf("modules:  %d\n", len(file.Modules))
	for i, mod := range file.Modules {
		marker := " "
		if uint32(i) == file.Entry {
			marker = "*"
		}
		fmt.Printf("  %s %s (%s), %d globals\n", marker,
			file.Strings[mod.Name], file.Strings[mod.Path], mod.Globals)
	}

	if *literals {
		dumpLiterals(file)
	}
	if *code {
		for i := range file.Code {
			dumpCode(file, i)
		}
	}
	if *verify {
		var out bytes.Buffer
		if err := image.Write(&out, file); err != nil {
			fatal(err)
		}
		if !bytes.Equal(data, out.Bytes()) {
			fatal(fmt.Errorf("%s does not round-trip: %d bytes in, %d bytes out",
				path, len(data), out.Len()))
		}
		fmt.Println("round-trip: ok")
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "inko-dump: %v\n", err)
	os.Exit(1)
}

func dumpLiterals(file *image.File) {
	fmt.Println("\nstring table:")
	for i, s := range file.Strings {
		fmt.Printf("  %4d %q\n", i, s)
	}
	fmt.Println("integer table:")
	for i, n := range file.Integers {
		fmt.Printf("  %4d %d\n", i, n)
	}
	fmt.Println("float table:")
	for i, n := range file.Floats {
		fmt.Printf("  %4d %g\n", i, n)
	}
}

func dumpCode(file *image.File, index int) {
	c := &file.Code[index]
	fmt.Printf("\ncode %d: %s (%s:%d)\n", index,
		file.Strings[c.Name], file.Strings[c.File], c.Line)
	fmt.Printf("  arguments %d/%d, rest %t, generator %t, locals %d, registers %d\n",
		c.Required, c.Arguments, c.RestArgument, c.Generator, c.Locals, c.Registers)

	for ip, inst := range c.Instructions {
		fmt.Printf("  %4d %-24s %v\n", ip, vm.Opcode(inst.Opcode), inst.Args)
	}
	if len(c.Literals) > 0 {
		fmt.Println("  literals:")
		for i, lit := range c.Literals {
			fmt.Printf("    %4d %s\n", i, literalString(file, lit))
		}
	}
	if len(c.Children) > 0 {
		fmt.Printf("  children: %v\n", c.Children)
	}
	for _, e := range c.CatchTable {
		fmt.Printf("  catch [%d, %d) -> %d, register %d\n",
			e.Start, e.End, e.Jump, e.Register)
	}
}

func literalString(file *image.File, lit image.Literal) string {
	switch lit.Kind {
	case image.LiteralString:
		return fmt.Sprintf("string %q", file.Strings[lit.Index])
	case image.LiteralSymbol:
		return fmt.Sprintf("symbol %q", file.Strings[lit.Index])
	case image.LiteralInteger:
		return fmt.Sprintf("integer %d", file.Integers[lit.Index])
	case image.LiteralBigInteger:
		return fmt.Sprintf("big integer %s", file.Strings[lit.Index])
	case image.LiteralFloat:
		return fmt.Sprintf("float %g", file.Floats[lit.Index])
	default:
		return fmt.Sprintf("unknown kind %d", lit.Kind)
	}
}
