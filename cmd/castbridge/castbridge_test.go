package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"go2tv.app/castbridge/castadapter"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "castbridge.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// flag.Set marks a flag as visited for the rest of the process, so
// the unset-flag case runs first.
func TestCheckConfigflagFileProvidesAppID(t *testing.T) {
	path := writeConfigFile(t, `{"receiver_app_id":"FILE1234"}`)
	if err := flag.Set("config", path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = flag.Set("config", "") })

	res := &flagResults{}
	if err := checkConfigflag(res); err != nil {
		t.Fatal(err)
	}

	// -app was not passed, so the file's ID wins over the default.
	if got, want := res.cfg.ReceiverAppID, "FILE1234"; got != want {
		t.Errorf("got app id %q, want %q", got, want)
	}
}

func TestCheckConfigflagExplicitDefaultAppOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `{"receiver_app_id":"FILE1234"}`)
	if err := flag.Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := flag.Set("app", castadapter.DefaultReceiverAppID); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = flag.Set("config", "") })

	res := &flagResults{}
	if err := checkConfigflag(res); err != nil {
		t.Fatal(err)
	}

	// An explicit -app wins even when it carries the default value.
	if got, want := res.cfg.ReceiverAppID, castadapter.DefaultReceiverAppID; got != want {
		t.Errorf("got app id %q, want %q", got, want)
	}
}

func TestFlagPassed(t *testing.T) {
	if flagPassed("ns") {
		t.Error("ns reported as passed before any Set")
	}

	if err := flag.Set("ns", "urn:x-cast:com.example"); err != nil {
		t.Fatal(err)
	}
	if !flagPassed("ns") {
		t.Error("ns not reported as passed after Set")
	}
}
