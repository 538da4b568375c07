package cmd

import "testing"

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"migrate": false,
		"version": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestParseLevelFlagDefault(t *testing.T) {
	flag := serveCmd.Flags().Lookup("log-level")
	if flag == nil {
		t.Fatal("serve has no --log-level flag")
	}
	if flag.DefValue != "info" {
		t.Errorf("default log level = %q, want info", flag.DefValue)
	}
}
