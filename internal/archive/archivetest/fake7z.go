// Package archivetest holds fixtures shared by the archiving tests, including
// a stand-in for the 7-Zip executable served by the test binary itself.
package archivetest

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// Environment variables steering the fake compressor.
const (
	EnvFake        = "ARCHIVER_FAKE_7Z"
	EnvExitCode    = "ARCHIVER_FAKE_7Z_EXIT"     // exit code for "a"; partial output is left behind when >1
	EnvDelay       = "ARCHIVER_FAKE_7Z_DELAY"    // pause between progress lines
	EnvStderr      = "ARCHIVER_FAKE_7Z_STDERR"   // text written to stderr
	EnvIgnoreTerm  = "ARCHIVER_FAKE_7Z_NOTERM"   // ignore SIGTERM when "1"
	EnvArgsFile    = "ARCHIVER_FAKE_7Z_ARGS"     // file receiving one argument per line
	EnvBannerBreak = "ARCHIVER_FAKE_7Z_NOBANNER" // fail validation when "1"
)

// Banner is what the fake prints when run without arguments.
const Banner = "\n7-Zip (a) 23.01 (x64) : Copyright (c) 1999-2023 Igor Pavlov : 2023-06-20\n"

// MaybeRunFakeSevenZip turns the current process into the fake compressor when
// EnvFake is set. Call it first thing in TestMain.
func MaybeRunFakeSevenZip() {
	if os.Getenv(EnvFake) != "1" {
		return
	}
	os.Exit(fakeSevenZip(os.Args[1:]))
}

// InstallFakeSevenZip links the running test binary into dir under name and
// enables fake mode for child processes. It returns the link path.
func InstallFakeSevenZip(t *testing.T, dir, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compressor relies on symlinks")
	}

	self, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(dir, name)
	if err := os.Symlink(self, link); err != nil {
		t.Fatalf("link fake compressor: %v", err)
	}
	t.Setenv(EnvFake, "1")
	return link
}

func fakeSevenZip(args []string) int {
	if len(args) == 0 {
		if os.Getenv(EnvBannerBreak) == "1" {
			fmt.Fprintln(os.Stderr, "not a compressor")
			return 2
		}
		fmt.Print(Banner)
		fmt.Println("Usage: 7za <command> [<switches>...] <archive_name> [<file_names>...]")
		return 0
	}

	if path := os.Getenv(EnvArgsFile); path != "" {
		os.WriteFile(path, []byte(strings.Join(args, "\n")), 0644)
	}
	if os.Getenv(EnvIgnoreTerm) == "1" {
		signal.Ignore(syscall.SIGTERM)
	}

	switch args[0] {
	case "a":
		return fakeAdd(args[1:])
	case "t":
		fmt.Print(Banner)
		fmt.Println("Everything is Ok")
		return 0
	}
	fmt.Fprintf(os.Stderr, "Command Line Error:\nUnsupported command:\n%s\n", args[0])
	return 7
}

func fakeAdd(args []string) int {
	var positional []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "Command Line Error:\nCannot find archive name")
		return 7
	}
	archivePath, specs := positional[0], positional[1:]

	var delay time.Duration
	if v := os.Getenv(EnvDelay); v != "" {
		delay, _ = time.ParseDuration(v)
	}
	exitCode := 0
	if v := os.Getenv(EnvExitCode); v != "" {
		exitCode, _ = strconv.Atoi(v)
	}

	fmt.Print(Banner)
	fmt.Println("Scanning the drive:")

	files, err := expandSpecs(specs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	fmt.Printf("%d files\n\nCreating archive: %s\n\n", len(files), archivePath)

	out, err := os.Create(archivePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer out.Close()

	if exitCode > 1 {
		out.Write([]byte("PK partial"))
		if msg := os.Getenv(EnvStderr); msg != "" {
			fmt.Fprint(os.Stderr, msg)
		}
		progressLine(0, 0, "")
		time.Sleep(delay)
		return exitCode
	}

	zw := zip.NewWriter(out)
	for i, name := range files {
		time.Sleep(delay)
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		f, err := os.Open(filepath.FromSlash(name))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		progressLine((i+1)*100/len(files), i+1, name)
	}
	if err := zw.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	fmt.Print("\nFiles read from disk: ", len(files), "\nEverything is Ok\n")
	if msg := os.Getenv(EnvStderr); msg != "" {
		fmt.Fprint(os.Stderr, msg)
	}
	return exitCode
}

// progressLine mimics 7-Zip's -bsp1 output, which redraws in place with
// backspaces instead of newlines.
func progressLine(percent, count int, name string) {
	line := fmt.Sprintf("%3d%% %d + %s", percent, count, name)
	fmt.Print(line + strings.Repeat("\b", len(line)))
}

func expandSpecs(specs []string) ([]string, error) {
	var files []string
	for _, pattern := range specs {
		if pattern != "*" {
			files = append(files, filepath.ToSlash(pattern))
			continue
		}
		err := filepath.WalkDir(".", func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				files = append(files, filepath.ToSlash(path))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
