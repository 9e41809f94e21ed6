package catalog

import "testing"

func TestCommandsHaveUniqueKebabNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range Commands() {
		if c.Command == "" {
			t.Fatalf("command %q has an empty kebab-case name", c.Name)
		}
		if seen[c.Command] {
			t.Fatalf("duplicate command name %q", c.Command)
		}
		seen[c.Command] = true
	}
}

func TestCategoriesCoverEveryCommand(t *testing.T) {
	var total int
	for _, cat := range Categories() {
		if len(cat.Commands) == 0 {
			t.Fatalf("category %q has no commands", cat.Name)
		}
		total += len(cat.Commands)
	}
	if total != len(Commands()) {
		t.Fatalf("Categories() covers %d commands, Commands() has %d", total, len(Commands()))
	}
}

func TestNamesMatchesCommandOrder(t *testing.T) {
	names := Names()
	cmds := Commands()
	if len(names) != len(cmds) {
		t.Fatalf("Names() returned %d entries, Commands() has %d", len(names), len(cmds))
	}
	for i, c := range cmds {
		if names[i] != c.Command {
			t.Fatalf("Names()[%d] = %q, want %q", i, names[i], c.Command)
		}
	}
}
