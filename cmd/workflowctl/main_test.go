package main

import "testing"

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"validate": false, "run": false, "serve": false}
	for _, c := range root.Commands() {
		want[c.Name()] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
