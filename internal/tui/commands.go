package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a composer command.
type Op int

const (
	OpSend Op = iota // plain text, not a slash command
	OpNew
	OpChats
	OpSwitch
	OpRename
	OpDelete
	OpMic
	OpAttach
	OpHelp
	OpQuit
)

// Command is a parsed composer line.
type Command struct {
	Op    Op
	Arg   string // text, title, path, or the prompt for /new
	Index int    // 1-based chat number for /switch
	On    bool   // /mic on
}

const helpText = "/new [text]  /chats  /switch N  /rename TITLE  /delete  /mic on|off  /attach PATH  /quit"

// ParseCommand interprets one line typed into the composer. Lines not
// starting with a slash are sent as messages; "//" escapes a leading slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") {
		return Command{Op: OpSend, Arg: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Op: OpSend, Arg: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "new":
		return Command{Op: OpNew, Arg: arg}, nil
	case "chats":
		return Command{Op: OpChats}, nil
	case "switch":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return Command{}, fmt.Errorf("usage: /switch N (N is a chat number from /chats)")
		}
		return Command{Op: OpSwitch, Index: n}, nil
	case "rename":
		if arg == "" {
			return Command{}, fmt.Errorf("usage: /rename TITLE")
		}
		return Command{Op: OpRename, Arg: arg}, nil
	case "delete":
		return Command{Op: OpDelete}, nil
	case "mic":
		switch strings.ToLower(arg) {
		case "on":
			return Command{Op: OpMic, On: true}, nil
		case "off":
			return Command{Op: OpMic}, nil
		}
		return Command{}, fmt.Errorf("usage: /mic on|off")
	case "attach":
		if arg == "" {
			return Command{}, fmt.Errorf("usage: /attach PATH")
		}
		return Command{Op: OpAttach, Arg: arg}, nil
	case "help", "?":
		return Command{Op: OpHelp}, nil
	case "quit", "exit", "q":
		return Command{Op: OpQuit}, nil
	}
	return Command{}, fmt.Errorf("unknown command /%s (try /help)", name)
}
