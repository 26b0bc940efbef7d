package testlib

import (
	"os"
	"strings"
	"testing"
)

func TestBasic(t *testing.T) {
	dir := MustTempDir(t)
	if err := os.WriteFile(dir+"/file", nil, 0660); err != nil {
		t.Fatalf("could not create file in %s: %v", dir, err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not get working directory: %v", err)
	}
	if wd != dir {
		t.Errorf("MustTempDir did not change directory")
		t.Errorf("  expected %q, got %q", dir, wd)
	}

	RemoveIfOk(t, dir)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("%s existed, should have been deleted: %v", dir, err)
	}
}

func TestRemoveCheck(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Logf("recovered: %v", r)
		} else {
			t.Fatalf("check did not panic as expected")
		}
	}()

	RemoveIfOk(t, "/tmp/something")
}

func TestLeaveDirOnError(t *testing.T) {
	myt := &testing.T{}
	dir := MustTempDir(myt)
	myt.Errorf("something bad happened")

	RemoveIfOk(myt, dir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatalf("%s was removed, should have been kept", dir)
	}

	// Remove the directory for real this time.
	RemoveIfOk(t, dir)
}

func TestRewriteSafeguard(t *testing.T) {
	myt := &testing.T{}
	defer func() {
		if r := recover(); r != nil {
			t.Logf("recovered: %v", r)
		} else {
			t.Fatalf("check did not panic as expected")
		}
	}()

	Rewrite(myt, "/something", "test")
}

func TestRewrite(t *testing.T) {
	dir := MustTempDir(t)
	defer RemoveIfOk(t, dir)

	myt := &testing.T{}
	Rewrite(myt, dir+"/file", "hola")
	if myt.Failed() {
		t.Errorf("basic rewrite failed")
	}
	if c, _ := os.ReadFile(dir + "/file"); string(c) != "hola" {
		t.Errorf("unexpected contents: %q", c)
	}
}

func TestMbox(t *testing.T) {
	got := Mbox("Subject: a\n\nFrom here\nbye\n", "Subject: b\n\nno newline")
	want := "From sender@example.com Thu Jan  1 00:00:00 1970\n" +
		"Subject: a\n\n>From here\nbye\n\n" +
		"From sender@example.com Thu Jan  1 00:00:00 1970\n" +
		"Subject: b\n\nno newline\n\n"
	if got != want {
		t.Errorf("Mbox:\n got %q\nwant %q", got, want)
	}

	if Mbox() != "" {
		t.Errorf("empty Mbox is not empty")
	}
	if !strings.HasPrefix(Mbox("x"), "From ") {
		t.Errorf("Mbox does not start with a separator")
	}
}
