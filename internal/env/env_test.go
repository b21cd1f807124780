package env

import (
	"reflect"
	"testing"
)

func TestExpand(t *testing.T) {
	e := New().With(Var{"HOME": "/home/cam", "LEVEL": "warn"})
	got := e.Expand([]string{
		"FFREPORT=file=${HOME}/ffreport.log:level=32",
		"MTX_LOGLEVEL=$LEVEL",
		"=nokey",
		"malformed",
		"DIR=${HOME}/out",
		"OUT=${DIR}/a",
		"MTX_LOGLEVEL=debug",
	})
	want := []string{
		"FFREPORT=file=/home/cam/ffreport.log:level=32",
		"MTX_LOGLEVEL=debug",
		"DIR=/home/cam/out",
		"OUT=/home/cam/out/a",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestExpandEmpty(t *testing.T) {
	if got := Expand(nil); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}

func TestExpandUsesOSEnv(t *testing.T) {
	t.Setenv("CAMRELAY_TEST_VAR", "x")
	got := Expand([]string{"A=${CAMRELAY_TEST_VAR}y", "B=${CAMRELAY_TEST_MISSING}"})
	if !reflect.DeepEqual(got, []string{"A=xy", "B="}) {
		t.Fatalf("got %q", got)
	}
}
