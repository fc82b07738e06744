package ui

import "golang.org/x/term"

// IsTTY reports whether the given file descriptor refers to a terminal.
func IsTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// TermWidth returns the terminal width in columns, or 80 if it cannot be determined.
func TermWidth(fd uintptr) int {
	w, _, err := term.GetSize(int(fd))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// BarWidth sizes the progress bar to a quarter of the terminal, within
// [10, 40] columns.
func BarWidth(fd uintptr) int {
	return min(max(TermWidth(fd)/4, 10), 40)
}
