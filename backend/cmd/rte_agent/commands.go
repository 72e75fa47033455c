package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"rteSync/backend/internal/richtext"
	"rteSync/backend/internal/session"
)

var (
	ErrUnknownCommand = errors.New("UNKNOWN_COMMAND")
	ErrBadArguments   = errors.New("BAD_ARGUMENTS")
)

// runCommand 执行一行命令，quit 为 true 时调用方应退出
func runCommand(ctx context.Context, s *session.Session, line string, out io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "print":
		st, err := s.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		status, err := s.Status(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%q %s [%s]\n", st.Doc().String(), st.Selection(), status)
		return false, nil
	case "resync":
		return false, s.Resync(ctx)
	case "insert":
		// 文本可以包含空格，取命令之后的原始剩余部分
		if len(args) < 2 {
			return false, fmt.Errorf("%w: insert <pos> <text>", ErrBadArguments)
		}
		pos, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrBadArguments, err)
		}
		text := strings.TrimSpace(line[strings.Index(line, args[0])+len(args[0]):])
		return false, edit(ctx, s, func(tr *richtext.Transaction) { tr.InsertText(text, pos) })
	}

	nums, rest, err := leadingInts(args, 2)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrBadArguments, name, err)
	}
	from, to := nums[0], nums[1]
	switch name {
	case "delete":
		return false, edit(ctx, s, func(tr *richtext.Transaction) { tr.Delete(from, to) })
	case "select":
		return false, edit(ctx, s, func(tr *richtext.Transaction) { tr.SetSelection(from, to) })
	case "bold":
		return false, edit(ctx, s, func(tr *richtext.Transaction) { tr.AddMark(from, to, "strong") })
	case "mark", "unmark":
		if len(rest) != 1 {
			return false, fmt.Errorf("%w: %s <from> <to> <mark>", ErrBadArguments, name)
		}
		mark := rest[0]
		if name == "mark" {
			return false, edit(ctx, s, func(tr *richtext.Transaction) { tr.AddMark(from, to, mark) })
		}
		return false, edit(ctx, s, func(tr *richtext.Transaction) { tr.RemoveMark(from, to, mark) })
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
}

func edit(ctx context.Context, s *session.Session, fn func(*richtext.Transaction)) error {
	return s.Edit(ctx, func(st richtext.State) *richtext.Transaction {
		tr := st.Tr()
		fn(tr)
		return tr
	})
}

func leadingInts(args []string, n int) ([]int, []string, error) {
	if len(args) < n {
		return nil, nil, fmt.Errorf("want %d positions, got %d", n, len(args))
	}
	nums := make([]int, n)
	for i := range n {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, nil, err
		}
		nums[i] = v
	}
	return nums, args[n:], nil
}
