package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/disknet-io/disknet/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
)

// Node is the slice of a storage node the shell drives. Each shell command
// maps onto exactly one operation; the shell owns argument parsing and
// usage messages only.
type Node interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Resolve(path string) string
	ChangeDirectory(path string) (string, error)
	CreateFile(ctx context.Context, key string, sizeBytes int64, content string) (*types.Entry, error)
	CreateFolder(ctx context.Context, key string) (*types.Entry, error)
	ListContents() (string, error)
	CurrentDirectory() string
	UsedBytes() int64
	CapacityBytes() int64
}

// Shell is the interactive front end for one storage node.
type Shell struct {
	host string
	node Node
	in   io.Reader
	out  io.Writer
}

func New(host string, node Node, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		host: host,
		node: node,
		in:   in,
		out:  out,
	}
}

// Run reads commands until exit or end of input.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)

	for {
		fmt.Fprintf(s.out, "%s:%s> ", s.host, s.node.CurrentDirectory())

		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(s.out, "parse error: %v\n", err)
			continue
		}

		if done := s.dispatch(ctx, args); done {
			return nil
		}
	}
}

func (s *Shell) dispatch(ctx context.Context, args []string) bool {
	switch args[0] {
	case "exit", "quit":
		return true
	case "ls":
		s.ls()
	case "cd":
		s.cd(args[1:])
	case "mkdir":
		s.mkdir(ctx, args[1:])
	case "touch":
		s.touch(ctx, args[1:])
	case "pwd":
		fmt.Fprintln(s.out, s.node.CurrentDirectory())
	case "df":
		s.df()
	case "start":
		if err := s.node.Start(ctx); err != nil {
			fmt.Fprintln(s.out, err.Error())
		}
	case "stop":
		if err := s.node.Stop(ctx); err != nil {
			fmt.Fprintln(s.out, err.Error())
		}
	case "help":
		s.help()
	default:
		fmt.Fprintf(s.out, "unknown command: %s (try 'help')\n", args[0])
	}

	return false
}

func (s *Shell) ls() {
	out, err := s.node.ListContents()
	if err != nil {
		fmt.Fprintln(s.out, err.Error())
		return
	}
	if out != "" {
		fmt.Fprintln(s.out, out)
	}
}

// cd with no argument goes to the root.
func (s *Shell) cd(args []string) {
	target := "/"
	if len(args) > 0 {
		target = args[0]
	}

	if _, err := s.node.ChangeDirectory(target); err != nil {
		fmt.Fprintf(s.out, "cd: %s\n", err.Error())
	}
}

func (s *Shell) mkdir(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: mkdir <folder_name>")
		return
	}

	key := strings.TrimPrefix(s.node.Resolve(args[0]), "/")
	if key == "" {
		fmt.Fprintln(s.out, "mkdir: cannot create directory '/': file exists")
		return
	}

	if _, err := s.node.CreateFolder(ctx, key); err != nil {
		fmt.Fprintf(s.out, "mkdir: %s\n", err.Error())
	}
}

// touch takes an optional size in whole megabytes, defaulting to zero.
func (s *Shell) touch(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: touch <file_name> [size_in_mb]")
		return
	}

	sizeMB := 0
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil || parsed < 0 {
			fmt.Fprintln(s.out, "Usage: touch <file_name> [size_in_mb]")
			return
		}
		sizeMB = parsed
	}

	key := strings.TrimPrefix(s.node.Resolve(args[0]), "/")
	if key == "" {
		fmt.Fprintln(s.out, "touch: cannot touch '/': is a directory")
		return
	}

	entry, err := s.node.CreateFile(ctx, key, int64(sizeMB)*1024*1024, "")
	if err != nil {
		fmt.Fprintf(s.out, "touch: %s\n", err.Error())
		return
	}
	fmt.Fprintf(s.out, "created '%s' (%d bytes)\n", entry.Key, entry.SizeBytes)
}

func (s *Shell) df() {
	used := uint64(s.node.UsedBytes())
	capacity := uint64(s.node.CapacityBytes())

	fmt.Fprintf(s.out, "%s used of %s (%s free)\n",
		humanize.IBytes(used), humanize.IBytes(capacity), humanize.IBytes(capacity-used))
}

func (s *Shell) help() {
	fmt.Fprint(s.out, `Commands:
  ls                         list the current directory
  cd [path]                  change directory ('..', '/', and '~' supported)
  mkdir <folder_name>        create a folder
  touch <file_name> [sizeMB] create a file of the given size (default 0)
  pwd                        print the current directory
  df                         show device usage
  start                      start the virtual device
  stop                       stop the virtual device
  exit                       leave the shell
`)
}
