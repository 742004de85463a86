package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"

	"example.com/memseal/pkg/util/perm"
	"example.com/memseal/pkg/util/securemem"
)

var (
	outPath string
	logger  = slog.Default()
)

func writeOut(b []byte) error {
	if outPath == "" {
		_, err := os.Stdout.Write(b)
		return err
	}
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// fatalIf wipes every locked buffer before exiting.
func fatalIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		memguard.SafeExit(1)
	}
}

func fatalf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	memguard.SafeExit(1)
}

func setupLogger(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("bad -log-level %q: %w", level, err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: memseal seal [-size n] [-armor] [-out file] [file|-]")
	fmt.Fprintln(os.Stderr, "       memseal selftest [-size n] [-rounds n]")
}

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if len(os.Args) < 2 {
		usage()
		memguard.SafeExit(2)
	}
	switch os.Args[1] {
	case "seal":
		seal(os.Args[2:])
	case "selftest":
		selftest(os.Args[2:])
	default:
		usage()
		memguard.SafeExit(2)
	}
}

func seal(args []string) {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	var size int
	var outArmor bool
	var level string
	fs.IntVar(&size, "size", 32, "secret size in bytes: 16|24|32|64")
	fs.BoolVar(&outArmor, "armor", false, "ASCII armor output (default: binary)")
	fs.StringVar(&outPath, "out", "", "output file (default: stdout)")
	fs.StringVar(&level, "log-level", "info", "log level: debug|info|warn|error")
	fatalIf(fs.Parse(args))
	fatalIf(setupLogger(level))

	// Input: hex secret from a positional file or stdin.
	var in []byte
	var err error
	if rest := fs.Args(); len(rest) > 0 && rest[0] != "-" {
		fatalIf(perm.CheckPrivate(rest[0]))
		in, err = os.ReadFile(rest[0])
	} else {
		in, err = io.ReadAll(os.Stdin)
	}
	fatalIf(err)

	// Deferred wipes do not run on a fatal exit, so wipe explicitly.
	trimmed := bytes.TrimSpace(in)
	raw := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(raw, trimmed)
	securemem.Wipe(in)
	if err != nil {
		securemem.Wipe(raw)
		fatalIf(err)
	}

	var record []byte
	switch size {
	case 16:
		record, err = sealSized[securemem.Size16](raw[:n], outArmor)
	case 24:
		record, err = sealSized[securemem.Size24](raw[:n], outArmor)
	case 32:
		record, err = sealSized[securemem.Size32](raw[:n], outArmor)
	case 64:
		record, err = sealSized[securemem.Size64](raw[:n], outArmor)
	default:
		err = fmt.Errorf("unsupported -size: %d", size)
	}
	securemem.Wipe(raw)
	fatalIf(err)
	fatalIf(writeOut(record))
}

func selftest(args []string) {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	var size, rounds int
	var level string
	fs.IntVar(&size, "size", 32, "secret size in bytes: 16|24|32|64")
	fs.IntVar(&rounds, "rounds", 8, "round trips to run")
	fs.StringVar(&level, "log-level", "info", "log level: debug|info|warn|error")
	fatalIf(fs.Parse(args))
	fatalIf(setupLogger(level))

	if rounds <= 0 {
		fatalf("-rounds must be positive")
	}
	var err error
	switch size {
	case 16:
		err = selftestSized[securemem.Size16](rounds)
	case 24:
		err = selftestSized[securemem.Size24](rounds)
	case 32:
		err = selftestSized[securemem.Size32](rounds)
	case 64:
		err = selftestSized[securemem.Size64](rounds)
	default:
		fatalf("unsupported -size: %d", size)
	}
	fatalIf(err)
	fmt.Println("ok")
}
