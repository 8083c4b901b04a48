// Package checklist reads and writes the plain-text checklist format used by
// "todo" documents:
//
//	Категория: Работа
//
//	Список задач:
//	[x] first task
//	[ ] second task
package checklist

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	CategoryLabel   = "Категория"
	TasksLabel      = "Список задач"
	DefaultCategory = "Работа"
	// PlaceholderTask replaces blank task text.
	PlaceholderTask = "Новая задача"
)

// Item is one task.
type Item struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// List is a parsed checklist document.
type List struct {
	Category string `json:"category"`
	Items    []Item `json:"items"`
}

var itemLine = regexp.MustCompile(`^\[([ xX])\] ?(.*)$`)

// Compose renders l in the checklist format.
func Compose(l List) string {
	category := strings.TrimSpace(l.Category)
	if category == "" {
		category = DefaultCategory
	}
	lines := make([]string, 0, len(l.Items))
	for _, it := range l.Items {
		lines = append(lines, formatItem(it))
	}
	return fmt.Sprintf("%s: %s\n\n%s:\n%s", CategoryLabel, category, TasksLabel, strings.Join(lines, "\n"))
}

func formatItem(it Item) string {
	box := "[ ]"
	if it.Done {
		box = "[x]"
	}
	text := strings.TrimSpace(it.Text)
	if text == "" {
		text = PlaceholderTask
	}
	return box + " " + text
}

// Parse reads content in the checklist format. It reports false when content
// is an ordinary text document.
func Parse(content string) (List, bool) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	category, ok := strings.CutPrefix(lines[0], CategoryLabel+":")
	if !ok {
		return List{}, false
	}

	l := List{Category: strings.TrimSpace(category)}
	inTasks := false
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == TasksLabel+":" {
			inTasks = true
			continue
		}
		if !inTasks {
			continue
		}
		if m := itemLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			l.Items = append(l.Items, Item{Text: m[2], Done: m[1] != " "})
		}
	}
	if !inTasks {
		return List{}, false
	}
	return l, true
}

// Toggle flips the done state of the item at index i and returns the new
// content. Lines other than that item are preserved byte for byte.
func Toggle(content string, i int) (string, error) {
	if _, ok := Parse(content); !ok {
		return "", fmt.Errorf("checklist: content is not a checklist")
	}
	lines := strings.Split(content, "\n")
	n := -1
	inTasks := false
	for idx, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if trimmed == TasksLabel+":" {
			inTasks = true
			continue
		}
		if !inTasks || !itemLine.MatchString(trimmed) {
			continue
		}
		n++
		if n != i {
			continue
		}
		pos := strings.Index(line, "[")
		mark := byte('x')
		if line[pos+1] != ' ' {
			mark = ' '
		}
		lines[idx] = line[:pos+1] + string(mark) + line[pos+2:]
		return strings.Join(lines, "\n"), nil
	}
	return "", fmt.Errorf("checklist: no item %d", i)
}

// Markdown converts l to a GFM task list.
func Markdown(l List) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s:** %s\n\n**%s:**\n\n", CategoryLabel, l.Category, TasksLabel)
	for _, it := range l.Items {
		b.WriteString("- ")
		b.WriteString(formatItem(it))
		b.WriteByte('\n')
	}
	return b.String()
}
