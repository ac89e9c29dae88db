package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/fernlang/fern/vm"
)

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fern_history")
}

func runREPL(ctx *vm.Context) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	line.SetCompleter(func(prefix string) []string {
		// Complete on the token being typed, not the whole line.
		start := strings.LastIndexAny(prefix, " ([") + 1
		head, tok := prefix[:start], prefix[start:]
		if tok == "" {
			return nil
		}

		var matches []string
		seen := map[string]bool{}
		ctx.Globals(func(name string) {
			if strings.HasPrefix(name, tok) && !seen[name] {
				seen[name] = true
				matches = append(matches, head+name)
			}
		})
		return matches
	})

	if path := historyPath(); path != "" {
		if f, err := os.Open(path); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Println("fern repl - ctrl-d to exit")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			break
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		failed := false
		result := ctx.DoString(input, func(errCell *vm.Value) {
			fmt.Println(ctx.Format(errCell))
			failed = true
		})
		if !failed {
			fmt.Println(ctx.Format(result))
		}
	}

	if path := historyPath(); path != "" {
		if f, err := os.Create(path); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
}
