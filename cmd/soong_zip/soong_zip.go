// Copyright 2015 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"

	"github.com/fastzip/fastzip"
	"github.com/fastzip/fastzip/internal/chooser"
)

// UNIX file-type bits recorded in each entry's mode. The engine's Mode
// field carries raw S_IF* values, not Go fs.FileMode bits.
const (
	unixModeRegular = 0o100000
	unixModeDir     = 0o040000
	unixModeSymlink = 0o120000
)

type fileArg struct {
	pathPrefixInZip, sourcePrefixToStrip string
	sourceFiles                          []string
	globDir                              string
}

type pathMapping struct {
	dest, src string
	store     bool
}

type uniqueSet map[string]bool

func (u *uniqueSet) String() string {
	return `""`
}

func (u *uniqueSet) Set(s string) error {
	if _, found := (*u)[s]; found {
		return fmt.Errorf("file %q was specified twice as a file to not deflate", s)
	}
	(*u)[s] = true
	return nil
}

type fileArgs []fileArg

type file struct{}

type listFiles struct{}

type dir struct{}

func (f *file) String() string {
	return `""`
}

func (f *file) Set(s string) error {
	if *relativeRoot == "" {
		return fmt.Errorf("must pass -C before -f")
	}

	fArgs = append(fArgs, fileArg{
		pathPrefixInZip:     filepath.Clean(*rootPrefix),
		sourcePrefixToStrip: filepath.Clean(*relativeRoot),
		sourceFiles:         []string{s},
	})

	return nil
}

func (l *listFiles) String() string {
	return `""`
}

func (l *listFiles) Set(s string) error {
	if *relativeRoot == "" {
		return fmt.Errorf("must pass -C before -l")
	}

	list, err := os.ReadFile(s)
	if err != nil {
		return err
	}

	fArgs = append(fArgs, fileArg{
		pathPrefixInZip:     filepath.Clean(*rootPrefix),
		sourcePrefixToStrip: filepath.Clean(*relativeRoot),
		sourceFiles:         strings.Split(string(list), "\n"),
	})

	return nil
}

func (d *dir) String() string {
	return `""`
}

func (d *dir) Set(s string) error {
	if *relativeRoot == "" {
		return fmt.Errorf("must pass -C before -D")
	}

	fArgs = append(fArgs, fileArg{
		pathPrefixInZip:     filepath.Clean(*rootPrefix),
		sourcePrefixToStrip: filepath.Clean(*relativeRoot),
		globDir:             filepath.Clean(s),
	})

	return nil
}

var (
	out          = flag.String("o", "", "file to write zip file to")
	directories  = flag.Bool("d", false, "include directories in zip")
	rootPrefix   = flag.String("P", "", "path prefix within the zip at which to place files")
	relativeRoot = flag.String("C", "", "path to use as relative root of files in following -f, -l, or -D arguments")
	parallelJobs = flag.Int("j", runtime.NumCPU(), "number of parallel threads to use")
	compLevel    = flag.Int("L", 6, "deflate compression level (0-9)")

	fArgs            fileArgs
	nonDeflatedFiles = make(uniqueSet)

	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to file")
	traceFile  = flag.String("trace", "", "write trace to file")
)

func init() {
	flag.Var(&listFiles{}, "l", "file containing list of files")
	flag.Var(&dir{}, "D", "directory to include in zip")
	flag.Var(&file{}, "f", "file to include in zip")
	flag.Var(&nonDeflatedFiles, "s", "file path to be stored within the zip without compression")
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: soong_zip -o zipfile -C dir [-f|-l file]...\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		defer f.Close()
		if err := trace.Start(f); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		defer trace.Stop()
	}

	if *out == "" {
		fmt.Fprintf(os.Stderr, "error: -o is required\n")
		usage()
	}

	var pathMappings []pathMapping
	for _, fa := range fArgs {
		srcs := fa.sourceFiles
		if fa.globDir != "" {
			srcs = append(srcs, recursiveGlobFiles(fa.globDir)...)
		}
		for _, src := range srcs {
			if err := fillPathPairs(fa.pathPrefixInZip, fa.sourcePrefixToStrip, src, &pathMappings); err != nil {
				log.Fatal(err)
			}
		}
	}

	if err := run(*out, pathMappings); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func fillPathPairs(prefix, rel, src string, pathMappings *[]pathMapping) error {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil
	}
	src = filepath.Clean(src)
	dest, err := filepath.Rel(rel, src)
	if err != nil {
		return err
	}
	dest = filepath.Join(prefix, dest)

	_, store := nonDeflatedFiles[dest]
	*pathMappings = append(*pathMappings, pathMapping{dest: dest, src: src, store: store})
	return nil
}

// run opens the output archive, fans every path mapping through the engine,
// and blocks until the central directory has been written.
func run(out string, pathMappings []pathMapping) (err error) {
	ch := buildChooser()

	a, err := fastzip.Open(out, fastzip.Options{
		Threads: *parallelJobs,
		Chooser: ch,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			a.Abort()
		}
	}()

	createdDirs := map[string]string{}
	createdFiles := map[string]string{}

	for _, m := range pathMappings {
		if err = addPath(a, m.dest, m.src, createdDirs, createdFiles); err != nil {
			return err
		}
	}

	return a.Close()
}

// buildChooser builds a per-run Chooser whose only override beyond the
// engine's built-in rules is the caller's explicit -s store list, which
// always wins.
func buildChooser() chooser.Chooser {
	def := chooser.WithLevel(*compLevel)
	var rules []chooser.Rule
	for name := range nonDeflatedFiles {
		rules = append(rules, chooser.Rule{Glob: name, Decision: chooser.Store})
	}
	def.Rules = append(rules, def.Rules...)
	return def
}

// addPath imports src into the archive at sub-path dest, recursing into
// parent directories and rejecting destination collisions the same way
// the teacher's zipWriter.addFile/writeDirectory did.
func addPath(a *fastzip.Archive, dest, src string, createdDirs, createdFiles map[string]string) error {
	s, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if s.IsDir() {
		if *directories {
			return writeDirectory(a, dest, src, createdDirs, createdFiles)
		}
		return nil
	}

	if err := writeDirectory(a, filepath.Dir(dest), src, createdDirs, createdFiles); err != nil {
		return err
	}
	if prev, exists := createdDirs[dest]; exists {
		return fmt.Errorf("destination %q is both a directory %q and a file %q", dest, prev, src)
	}
	if prev, exists := createdFiles[dest]; exists {
		return fmt.Errorf("destination %q has two files %q and %q", dest, prev, src)
	}
	createdFiles[dest] = src

	if s.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return a.Write(fastzip.WriteInput{ArchivePath: dest, SymlinkTarget: target, Mode: unixModeSymlink | 0o777})
	}
	if !s.Mode().IsRegular() {
		return fmt.Errorf("%s is not a file, directory, or symlink", src)
	}

	mode := uint32(unixModeRegular | 0o644)
	if s.Mode()&0100 != 0 {
		mode = unixModeRegular | 0o755
	}
	return a.Write(fastzip.WriteInput{ArchivePath: dest, FilePath: src, Mode: mode})
}

// writeDirectory annotates that dir is a directory created for the src file
// or directory, and adds the directory entry to the archive if directories
// are enabled.
func writeDirectory(a *fastzip.Archive, dir, src string, createdDirs, createdFiles map[string]string) error {
	dir = filepath.Clean(dir)

	var zipDirs []string
	for dir != "" && dir != "." {
		if _, exists := createdDirs[dir]; exists {
			break
		}
		if prev, exists := createdFiles[dir]; exists {
			return fmt.Errorf("destination %q is both a directory %q and a file %q", dir, src, prev)
		}
		createdDirs[dir] = src
		zipDirs = append([]string{dir}, zipDirs...)
		dir = filepath.Dir(dir)
	}

	if !*directories {
		return nil
	}
	for _, cleanDir := range zipDirs {
		if err := a.Write(fastzip.WriteInput{ArchivePath: cleanDir + "/", Dir: true, Mode: unixModeDir | 0o755}); err != nil {
			return err
		}
	}
	return nil
}

func recursiveGlobFiles(path string) []string {
	var files []string
	filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files
}
